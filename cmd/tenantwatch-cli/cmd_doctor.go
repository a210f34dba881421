package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/persistorai/tenantwatch/client"
)

const doctorTimeout = 5 * time.Second

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration and connectivity",
		Long:  "Checks the config file, server reachability, database readiness, the API key and sync health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd.OutOrStdout())
		},
	}
}

type checkResult struct {
	Name   string
	Passed bool
	Detail string
	Hint   string
}

// doctor accumulates check results. Checks that need a reachable server are
// skipped when it is not.
type doctor struct {
	results []checkResult
}

func (d *doctor) pass(name, detail string) {
	d.results = append(d.results, checkResult{Name: name, Passed: true, Detail: detail})
}

func (d *doctor) fail(name, detail, hint string) {
	d.results = append(d.results, checkResult{Name: name, Detail: detail, Hint: hint})
}

func runDoctor(out io.Writer) error {
	var d doctor

	cfgPath, _ := configPath()
	d.checkConfigFile(cfgPath)

	// Same precedence as every other command: flag, env, then profile.
	resolveConfig()
	url, apiKey := flagURL, flagKey

	if apiKey == "" {
		d.fail("API key", "", "Set --api-key, "+envAPIKey+", or run tenantwatch init")
	} else {
		d.pass("API key", "configured")
	}

	c := client.New(url, client.WithAPIKey(apiKey), client.WithTimeout(doctorTimeout))

	if d.checkServer(c, url) {
		d.checkReady(c)

		if apiKey != "" {
			d.checkAuthAndSync(c)
		}
	}

	return d.report(out)
}

func (d *doctor) checkConfigFile(path string) {
	if path == "" {
		d.fail("Config file", "", "Cannot determine home directory")
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		d.fail("Config file", path, "Run: tenantwatch init")
		return
	}

	if _, err := readConfigFile(path); err != nil {
		d.fail("Config file", path, fmt.Sprintf("Fix or remove the file. Error: %v", err))
		return
	}

	if runtime.GOOS != "windows" && info.Mode().Perm()&0o077 != 0 {
		d.fail("Config file", fmt.Sprintf("%s is mode %o", path, info.Mode().Perm()),
			"The file holds API keys. Run: chmod 600 "+path)

		return
	}

	d.pass("Config file", path)
}

func (d *doctor) checkServer(c *client.Client, url string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	health, err := c.Health(ctx)
	if err != nil {
		d.fail("Server reachable", url, fmt.Sprintf("Is tenantwatch running at %s? Error: %v", url, err))
		return false
	}

	d.pass("Server reachable", fmt.Sprintf("%s (version %s, schema %d)", url, health.Version, health.SchemaVersion))

	return true
}

func (d *doctor) checkReady(c *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	if _, err := c.Ready(ctx); err != nil {
		d.fail("Database ready", "", fmt.Sprintf("Check DATABASE_URL and migrations on the server. Error: %v", err))
		return
	}

	d.pass("Database ready", "")
}

func (d *doctor) checkAuthAndSync(c *client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	h, err := c.Sync.Health(ctx)
	if err != nil {
		if client.IsUnauthorized(err) {
			d.fail("Authentication", "", "The server rejected the API key")
		} else {
			d.fail("Authentication", "", fmt.Sprintf("Error: %v", err))
		}

		return
	}

	d.pass("Authentication", "valid")

	// Sync health is informational; failing syncs are a server-side matter.
	status := h.Status
	if h.ConsecutiveFailures > 0 {
		status = fmt.Sprintf("%s (%d consecutive failures)", h.Status, h.ConsecutiveFailures)
	}
	d.pass("Sync health", status)
}

func (d *doctor) report(out io.Writer) error {
	fmt.Fprintln(out, "tenantwatch doctor")
	fmt.Fprintln(out)

	failed := 0
	for _, r := range d.results {
		mark := "ok  "
		if !r.Passed {
			mark = "FAIL"
			failed++
		}

		if r.Detail != "" {
			fmt.Fprintf(out, "[%s] %s: %s\n", mark, r.Name, r.Detail)
		} else {
			fmt.Fprintf(out, "[%s] %s\n", mark, r.Name)
		}

		if !r.Passed && r.Hint != "" {
			fmt.Fprintf(out, "       hint: %s\n", r.Hint)
		}
	}

	fmt.Fprintln(out)
	if failed > 0 {
		fmt.Fprintf(out, "%d of %d checks failed\n", failed, len(d.results))
		return fmt.Errorf("doctor found %d issue(s)", failed)
	}

	fmt.Fprintf(out, "all %d checks passed\n", len(d.results))

	return nil
}
