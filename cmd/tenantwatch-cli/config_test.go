package main

import (
	"os"
	"path/filepath"
	"testing"
)

func resetFlags(t *testing.T) {
	t.Helper()
	orig := struct{ url, key, fmt string }{flagURL, flagKey, flagFmt}
	t.Cleanup(func() {
		flagURL, flagKey, flagFmt = orig.url, orig.key, orig.fmt
	})
}

// unsetEnv clears key for the test; t.Setenv cannot express an absent variable.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	prev, had := os.LookupEnv(key)
	os.Unsetenv(key)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, prev)
			return
		}
		os.Unsetenv(key)
	})
}

func setEnv(t *testing.T, key, val string) {
	t.Helper()
	t.Setenv(key, val)
}

const profilesYAML = `
url: http://flat:1000
api_key: flat-key
active_profile: staging
profiles:
  default:
    url: http://default:3040
    api_key: default-key
  staging:
    url: http://staging:4040
    api_key: staging-key
  keyless:
    url: http://keyless:5050
`

func TestResolveConfig(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     map[string]string
		flagURL string
		flagKey string
		wantURL string
		wantKey string
	}{
		{
			name:    "no file keeps defaults",
			wantURL: defaultURL,
		},
		{
			name:    "malformed file is ignored",
			file:    ":::not-yaml:::",
			wantURL: defaultURL,
		},
		{
			name:    "legacy flat file",
			file:    "url: http://from-file:8080\napi_key: file-key\n",
			wantURL: "http://from-file:8080",
			wantKey: "file-key",
		},
		{
			name:    "active profile",
			file:    profilesYAML,
			wantURL: "http://staging:4040",
			wantKey: "staging-key",
		},
		{
			name:    "default profile when none active",
			file:    "profiles:\n  default:\n    url: http://default-profile:5050\n    api_key: dk\n",
			wantURL: "http://default-profile:5050",
			wantKey: "dk",
		},
		{
			name:    "profile env overrides active_profile",
			file:    profilesYAML,
			env:     map[string]string{envProfile: "default"},
			wantURL: "http://default:3040",
			wantKey: "default-key",
		},
		{
			name:    "profile without key inherits flat key",
			file:    profilesYAML,
			env:     map[string]string{envProfile: "keyless"},
			wantURL: "http://keyless:5050",
			wantKey: "flat-key",
		},
		{
			name:    "env beats file",
			file:    profilesYAML,
			env:     map[string]string{envURL: "http://env:9090", envAPIKey: "env-key"},
			wantURL: "http://env:9090",
			wantKey: "env-key",
		},
		{
			name:    "explicit flags beat env and file",
			file:    profilesYAML,
			env:     map[string]string{envURL: "http://env:9090", envAPIKey: "env-key"},
			flagURL: "http://flag:1234",
			flagKey: "flag-key",
			wantURL: "http://flag:1234",
			wantKey: "flag-key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			for _, k := range []string{envURL, envAPIKey, envProfile} {
				unsetEnv(t, k)
			}
			for k, v := range tt.env {
				setEnv(t, k, v)
			}

			home := t.TempDir()
			setEnv(t, "HOME", home)

			if tt.file != "" {
				dir := filepath.Join(home, configDir)
				if err := os.MkdirAll(dir, 0o700); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(tt.file), 0o600); err != nil {
					t.Fatal(err)
				}
			}

			flagURL, flagKey = defaultURL, ""
			if tt.flagURL != "" {
				flagURL = tt.flagURL
			}
			if tt.flagKey != "" {
				flagKey = tt.flagKey
			}

			resolveConfig()

			if flagURL != tt.wantURL {
				t.Errorf("url = %q, want %q", flagURL, tt.wantURL)
			}
			if flagKey != tt.wantKey {
				t.Errorf("api key = %q, want %q", flagKey, tt.wantKey)
			}
		})
	}
}
