package client

import (
	"context"
	"net/url"
)

// SyncService triggers syncs and reads their status.
type SyncService struct {
	c *Client
}

type triggerRequest struct {
	TenantID *string `json:"tenant_id,omitempty"`
}

// Trigger starts a manual sync of jobType for one tenant. An empty tenantID
// syncs every active tenant, which requires an all-tenants key.
func (s *SyncService) Trigger(ctx context.Context, jobType, tenantID string) (*TriggerResponse, error) {
	var req triggerRequest
	if tenantID != "" {
		req.TenantID = &tenantID
	}

	var resp TriggerResponse
	if err := s.c.post(ctx, "/api/v1/sync/"+url.PathEscape(jobType), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Runs lists recent runs, newest first. Empty filters match everything the
// key may see.
func (s *SyncService) Runs(ctx context.Context, jobType, tenantID string) ([]SyncRun, error) {
	params := url.Values{}
	if jobType != "" {
		params.Set("job_type", jobType)
	}
	if tenantID != "" {
		params.Set("tenant_id", tenantID)
	}

	var resp struct {
		Data []SyncRun `json:"data"`
	}
	if err := s.c.get(ctx, "/api/v1/sync/runs", params, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Health returns aggregate sync health.
func (s *SyncService) Health(ctx context.Context) (*SyncHealth, error) {
	var resp SyncHealth
	if err := s.c.get(ctx, "/api/v1/sync/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
