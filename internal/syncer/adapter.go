// Package syncer pulls per-tenant telemetry from upstream APIs into snapshot
// tables and schedules those pulls across tenants.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/credential"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/upstream"
)

// Adapter syncs one domain for one tenant.
type Adapter interface {
	JobType() models.JobType
	Run(ctx context.Context, tenantID string) SyncResult
}

// PageError is a failure confined to one page or record. Processing continues
// past it when the upstream provided a continuation link.
type PageError struct {
	Scope string
	Page  int
	Err   error
}

func (e PageError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("%s page %d: %v", e.Scope, e.Page, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Scope, e.Err)
}

func (e PageError) Unwrap() error { return e.Err }

// SyncResult is the structured outcome of an adapter run. Rows written before
// an error stay written.
type SyncResult struct {
	RecordsProcessed int
	Errors           []PageError
	// Fatal is set when the run could not proceed at all (no credential, open
	// circuit, cancellation).
	Fatal error
}

// Failed reports whether the run should be recorded as failed: a fatal error,
// or page errors with nothing processed.
func (r SyncResult) Failed() bool {
	return r.Fatal != nil || (r.RecordsProcessed == 0 && len(r.Errors) > 0)
}

// Err returns every error of the run joined, or nil.
func (r SyncResult) Err() error {
	var merr *multierror.Error

	if r.Fatal != nil {
		merr = multierror.Append(merr, r.Fatal)
	}

	for _, pe := range r.Errors {
		merr = multierror.Append(merr, pe)
	}

	return merr.ErrorOrNil()
}

func (r *SyncResult) addPageError(scope string, page int, err error) {
	r.Errors = append(r.Errors, PageError{Scope: scope, Page: page, Err: err})
}

// CredentialSource resolves tenant credentials.
type CredentialSource interface {
	Resolve(ctx context.Context, tenantID, service string) (*credential.Credential, error)
}

// Fetcher performs one upstream page request.
type Fetcher interface {
	Fetch(ctx context.Context, cred *credential.Credential, req upstream.Request, out any) error
}

// SnapshotWriter upserts snapshot rows for a tenant and returns how many rows
// were written.
type SnapshotWriter interface {
	UpsertCost(ctx context.Context, tenantID string, rows []models.CostSnapshot) (int, error)
	UpsertCompliance(ctx context.Context, tenantID string, rows []models.ComplianceSnapshot) (int, error)
	UpsertResources(ctx context.Context, tenantID string, rows []models.ResourceSnapshot) (int, error)
	UpsertIdentities(ctx context.Context, tenantID string, rows []models.IdentitySnapshot) (int, error)
}

// Endpoints are the upstream API roots.
type Endpoints struct {
	Management string
	Graph      string
}

func (e Endpoints) managementScope() string { return e.Management + "/.default" }
func (e Endpoints) graphScope() string      { return e.Graph + "/.default" }

// Deps are the collaborators shared by every adapter.
type Deps struct {
	Credentials CredentialSource
	Upstream    Fetcher
	Store       SnapshotWriter
	Endpoints   Endpoints
	Log         *logrus.Logger
	Now         func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}

	return time.Now().UTC()
}

// syncWindow buckets a capture time into the interval a run is responsible
// for. Re-running inside the same window updates rows in place.
func syncWindow(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	return t.UTC().Truncate(interval)
}
