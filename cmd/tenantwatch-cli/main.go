package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/persistorai/tenantwatch/client"
)

// Build-time variables set via ldflags.
var (
	version   = "0.3.0"
	commit    = ""
	buildDate = ""
)

const (
	defaultURL = "http://localhost:3040"
	envURL     = "TENANTWATCH_URL"
	envAPIKey  = "TENANTWATCH_API_KEY"
	envProfile = "TENANTWATCH_PROFILE"
	configDir  = ".tenantwatch"
)

var (
	apiClient *client.Client
	flagURL   string
	flagKey   string
	flagFmt   string
)

func versionString() string {
	if commit != "" && buildDate != "" {
		return fmt.Sprintf("tenantwatch version %s (commit: %s, built: %s)", version, commit, buildDate)
	}
	return fmt.Sprintf("tenantwatch version %s-dev", version)
}

type configFile struct {
	// Flat format (legacy)
	URL    string `yaml:"url,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`
	// Profile format
	Profiles      map[string]configProfile `yaml:"profiles,omitempty"`
	ActiveProfile string                   `yaml:"active_profile,omitempty"`
}

type configProfile struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "tenantwatch",
		Short:   "tenantwatch CLI: cloud telemetry sync across tenants",
		Version: versionString(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			resolveConfig()
			var opts []client.Option
			if flagKey != "" {
				opts = append(opts, client.WithAPIKey(flagKey))
			}
			apiClient = client.New(flagURL, opts...)
		},
		SilenceUsage: true,
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&flagURL, "url", defaultURL, "tenantwatch server URL (env: "+envURL+")")
	rootCmd.PersistentFlags().StringVar(&flagKey, "api-key", "", "API key (env: "+envAPIKey+")")
	rootCmd.PersistentFlags().StringVar(&flagFmt, "format", "json", "Output format: json|table|quiet")

	initCmd := newInitCmd()
	initCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {} // skip client setup
	doctorCmd := newDoctorCmd()
	doctorCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {} // skip client setup

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newAnomalyCmd())
	rootCmd.AddCommand(newAlertCmd())
	rootCmd.AddCommand(newTenantCmd())
	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newAdminCmd())

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDir, "config.yaml"), nil
}

func resolveConfig() {
	// Flag takes precedence, then env, then config file.
	if flagURL == defaultURL {
		if v := os.Getenv(envURL); v != "" {
			flagURL = v
		}
	}
	if flagKey == "" {
		flagKey = os.Getenv(envAPIKey)
	}

	// Config file fills whatever flags and env left at their defaults.
	cfgPath, err := configPath()
	if err != nil {
		return
	}
	cfg, err := readConfigFile(cfgPath)
	if err != nil {
		return
	}

	p := cfg.profile(os.Getenv(envProfile))
	if flagURL == defaultURL && p.URL != "" {
		flagURL = p.URL
	}
	if flagKey == "" && p.APIKey != "" {
		flagKey = p.APIKey
	}
}

// active returns the active profile layered over the legacy flat fields.
func (c *configFile) active() configProfile { return c.profile("") }

// profile resolves name, falling back to active_profile and then "default".
func (c *configFile) profile(name string) configProfile {
	resolved := configProfile{URL: c.URL, APIKey: c.APIKey}

	if name == "" {
		name = c.ActiveProfile
	}
	if name == "" {
		name = defaultProfile
	}

	if p, ok := c.Profiles[name]; ok {
		if p.URL != "" {
			resolved.URL = p.URL
		}
		if p.APIKey != "" {
			resolved.APIKey = p.APIKey
		}
	}

	return resolved
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	os.Exit(1)
}
