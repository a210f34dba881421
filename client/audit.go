package client

import (
	"context"
	"net/url"
	"strconv"
)

// AuditService reads and trims the operator action log.
type AuditService struct {
	c *Client
}

// Query returns one page of entries, newest first, and whether more follow.
// A nil opts returns the first page unfiltered.
func (s *AuditService) Query(ctx context.Context, opts *AuditQueryOptions) ([]AuditEntry, bool, error) {
	var page listResponse[AuditEntry]
	if err := s.c.get(ctx, "/api/v1/audit", opts.values(), &page); err != nil {
		return nil, false, err
	}

	return page.Data, page.HasMore, nil
}

// Each walks every page matching opts and calls fn per entry. Paging starts
// at opts.Offset; a non-nil error from fn stops the walk and is returned.
func (s *AuditService) Each(ctx context.Context, opts *AuditQueryOptions, fn func(AuditEntry) error) error {
	q := AuditQueryOptions{}
	if opts != nil {
		q = *opts
	}

	for {
		entries, more, err := s.Query(ctx, &q)
		if err != nil {
			return err
		}

		for _, e := range entries {
			if err := fn(e); err != nil {
				return err
			}
		}

		if !more || len(entries) == 0 {
			return nil
		}

		q.Offset += len(entries)
	}
}

// Purge deletes entries older than retentionDays across all tenants and
// returns how many were removed. Zero uses the server default. Requires an
// all-tenants admin key.
func (s *AuditService) Purge(ctx context.Context, retentionDays int) (int, error) {
	params := url.Values{}
	if retentionDays > 0 {
		params.Set("retention_days", strconv.Itoa(retentionDays))
	}

	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := s.c.del(ctx, "/api/v1/audit", params, &out); err != nil {
		return 0, err
	}

	return out.Deleted, nil
}
