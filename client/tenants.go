package client

import (
	"context"
	"net/url"
)

// TenantService reads per-tenant summaries.
type TenantService struct {
	c *Client
}

// CostSummary returns the tenant's spend over the last 30 days.
func (s *TenantService) CostSummary(ctx context.Context, tenantID string) (*CostSummary, error) {
	return getAs[CostSummary](ctx, s.c, tenantPath(tenantID, "cost-summary"), nil)
}

// ComplianceSummary returns the tenant's latest compliance posture.
func (s *TenantService) ComplianceSummary(ctx context.Context, tenantID string) (*ComplianceSummary, error) {
	return getAs[ComplianceSummary](ctx, s.c, tenantPath(tenantID, "compliance-summary"), nil)
}

func tenantPath(tenantID, report string) string {
	return "/api/v1/tenants/" + url.PathEscape(tenantID) + "/" + report
}
