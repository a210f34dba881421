package config

// Version is the tenantwatch binary version.
// Set at build time via: -ldflags "-X github.com/persistorai/tenantwatch/internal/config.Version=<tag>"
// Defaults to "dev" when built without ldflags.
var Version = "dev"
