package client

import (
	"context"
	"net/url"
	"strconv"
	"time"
)

// AnomalyService reads and acknowledges cost anomalies.
type AnomalyService struct {
	c *Client
}

// List returns anomalies matching opts and whether more pages exist.
func (s *AnomalyService) List(ctx context.Context, opts *AnomalyListOptions) ([]Anomaly, bool, error) {
	params := url.Values{}
	if opts != nil {
		if opts.TenantID != "" {
			params.Set("tenant_id", opts.TenantID)
		}
		if opts.Status != "" {
			params.Set("status", opts.Status)
		}
		if opts.Since != nil {
			params.Set("since", opts.Since.Format(time.RFC3339))
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}

	var resp listResponse[Anomaly]
	if err := s.c.get(ctx, "/api/v1/anomalies", params, &resp); err != nil {
		return nil, false, err
	}
	return resp.Data, resp.HasMore, nil
}

// Acknowledge marks an anomaly acknowledged. An empty actor lets the server
// record the API key's name. Acknowledging twice returns a conflict error.
func (s *AnomalyService) Acknowledge(ctx context.Context, id, actor string) (*Anomaly, error) {
	body := map[string]string{}
	if actor != "" {
		body["actor"] = actor
	}

	var resp Anomaly
	if err := s.c.post(ctx, "/api/v1/anomalies/"+url.PathEscape(id)+"/acknowledge", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
