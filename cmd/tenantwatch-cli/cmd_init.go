package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/persistorai/tenantwatch/client"
)

const defaultProfile = "default"

func newInitCmd() *cobra.Command {
	var (
		initURL     string
		initAPIKey  string
		initProfile string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Set up tenantwatch CLI configuration",
		Long: "Creates or updates a profile in ~/.tenantwatch/config.yaml after checking " +
			"that the server answers and the key authenticates. Other profiles are kept.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if initURL != "" || initAPIKey != "" {
				return runInit(cmd.OutOrStdout(), initProfile, initURL, initAPIKey)
			}

			url, key, err := promptSettings(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}

			return runInit(cmd.OutOrStdout(), initProfile, url, key)
		},
	}

	cmd.Flags().StringVar(&initURL, "url", "", "Server URL (non-interactive mode)")
	cmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (non-interactive mode)")
	cmd.Flags().StringVar(&initProfile, "profile", defaultProfile, "Profile name to write and activate")

	return cmd
}

func promptSettings(in io.Reader, out io.Writer) (url, apiKey string, err error) {
	reader := bufio.NewReader(in)

	fmt.Fprintf(out, "Server URL [%s]: ", defaultURL)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", "", err
	}
	url = strings.TrimSpace(line)

	fmt.Fprint(out, "API key: ")
	line, err = reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", "", err
	}

	return url, strings.TrimSpace(line), nil
}

func runInit(out io.Writer, profile, url, apiKey string) error {
	if url == "" {
		url = defaultURL
	}

	if apiKey == "" {
		return fmt.Errorf("API key is required")
	}

	if profile == "" {
		profile = defaultProfile
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ver, err := testConnection(ctx, client.New(url, client.WithAPIKey(apiKey)))
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	cfgPath, err := writeProfile(profile, configProfile{URL: url, APIKey: apiKey})
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(out, "Connected to %s (server %s)\n", url, ver)
	fmt.Fprintf(out, "Profile %q saved to %s\n", profile, cfgPath)
	fmt.Fprintln(out, "Next: tenantwatch doctor, tenantwatch sync health")

	return nil
}

// testConnection reads the server version from the public health endpoint
// and then proves the key with an authenticated read any role may make.
func testConnection(ctx context.Context, c *client.Client) (string, error) {
	health, err := c.Health(ctx)
	if err != nil {
		return "", fmt.Errorf("health: %w", err)
	}

	if _, err := c.Sync.Health(ctx); err != nil {
		if client.IsUnauthorized(err) {
			return "", fmt.Errorf("API key rejected")
		}

		return "", fmt.Errorf("authenticated request: %w", err)
	}

	if health.Version == "" {
		return "unknown", nil
	}

	return health.Version, nil
}

// readConfigFile loads the config file; a missing file yields an empty config.
func readConfigFile(path string) (*configFile, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &configFile{}, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, nil
}

// writeProfile stores p under name and makes it active. A legacy flat file is
// migrated into the "default" profile first so its settings are not lost.
func writeProfile(name string, p configProfile) (string, error) {
	cfgPath, err := configPath()
	if err != nil {
		return "", err
	}

	cfg, err := readConfigFile(cfgPath)
	if err != nil {
		return "", err
	}

	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]configProfile)
	}

	if cfg.URL != "" || cfg.APIKey != "" {
		if _, ok := cfg.Profiles[defaultProfile]; !ok {
			cfg.Profiles[defaultProfile] = configProfile{URL: cfg.URL, APIKey: cfg.APIKey}
		}
		cfg.URL, cfg.APIKey = "", ""
	}

	cfg.Profiles[name] = p
	cfg.ActiveProfile = name

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return "", err
	}

	return cfgPath, nil
}
