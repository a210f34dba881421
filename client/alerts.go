package client

import (
	"context"
	"net/url"
	"strconv"
)

// AlertService reads and resolves alerts.
type AlertService struct {
	c *Client
}

// List returns alerts, newest first. Resolved alerts are included only when
// includeResolved is set.
func (s *AlertService) List(ctx context.Context, includeResolved bool, opts *ListOptions) ([]Alert, bool, error) {
	params := url.Values{}
	if includeResolved {
		params.Set("include_resolved", "true")
	}
	if opts != nil {
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
		if opts.Offset > 0 {
			params.Set("offset", strconv.Itoa(opts.Offset))
		}
	}

	var resp listResponse[Alert]
	if err := s.c.get(ctx, "/api/v1/alerts", params, &resp); err != nil {
		return nil, false, err
	}
	return resp.Data, resp.HasMore, nil
}

// Resolve marks an alert resolved. Resolving twice is not an error.
func (s *AlertService) Resolve(ctx context.Context, id string) (*Alert, error) {
	var resp Alert
	if err := s.c.post(ctx, "/api/v1/alerts/"+url.PathEscape(id)+"/resolve", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
