package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/persistorai/tenantwatch/client"
)

// eventWatcher is the part of client.EventService the watch loop needs.
type eventWatcher interface {
	Watch(ctx context.Context, lastEventID uint64, fn func(client.Event) error) (uint64, error)
}

func alertWatchCmd() *cobra.Command {
	var runs bool
	var since uint64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream alerts as they are raised and resolved",
		Long: "Stream alert events for the tenants your key can read. With --runs, finished\n" +
			"sync runs are shown too. Reconnects with the last seen event until interrupted.",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0

			if err := watchEvents(ctx, apiClient.Events, since, runs, b); err != nil {
				fatal("watch alerts", err)
			}
		},
	}
	cmd.Flags().BoolVar(&runs, "runs", false, "Also show sync run outcomes")
	cmd.Flags().Uint64Var(&since, "since", 0, "Resume after this event ID")
	return cmd
}

// watchEvents prints events until ctx is done, reconnecting after drops.
// Authorization failures end the loop.
func watchEvents(ctx context.Context, w eventWatcher, last uint64, runs bool, b backoff.BackOff) error {
	b.Reset()

	for {
		before := last

		var err error
		last, err = w.Watch(ctx, last, func(e client.Event) error {
			return printEvent(e, runs)
		})

		switch {
		case ctx.Err() != nil:
			return nil
		case client.IsUnauthorized(err), client.IsForbidden(err):
			return err
		case errors.Is(err, client.ErrStreamReset):
			fmt.Fprintln(stderr, "event history unavailable, continuing from now; run 'alert list' for current state")
			last = 0
			b.Reset()
			continue
		}

		if last != before {
			b.Reset()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return err
		}

		fmt.Fprintf(stderr, "event stream disconnected (%v), reconnecting in %s\n", err, wait.Round(time.Millisecond))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// printEvent writes one line per event: JSON lines, the event ID in quiet
// mode, or a readable summary.
func printEvent(e client.Event, runs bool) error {
	isRun := strings.HasPrefix(e.Type, "sync.")
	if isRun && !runs {
		return nil
	}

	switch flagFmt {
	case "quiet":
		formatQuiet(fmt.Sprintf("%d", e.ID))
		return nil
	case "table":
	default:
		return json.NewEncoder(stdout).Encode(e)
	}

	at := timeCell(&e.Time)

	if isRun {
		r, err := e.Run()
		if err != nil {
			return err
		}
		detail := fmt.Sprintf("%d records", r.RecordsProcessed)
		if r.ErrorSummary != "" {
			detail = oneLine(r.ErrorSummary)
		}
		fmt.Fprintf(stdout, "%s  %-15s %s  %s %s: %s\n", at, e.Type, e.TenantID, r.JobType, r.Status, detail)
		return nil
	}

	a, err := e.Alert()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s  %-15s %s  [%s] %s (%s)\n", at, e.Type, e.TenantID, a.Severity, a.Message, a.ID)
	return nil
}

// oneLine collapses a multi-line error summary onto one line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
