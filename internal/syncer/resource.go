package syncer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/upstream"
)

// ErrInvalidResourceID is returned for ids that are not fully qualified.
var ErrInvalidResourceID = errors.New("invalid resource id")

// ResourceID is the parsed form of a fully qualified resource id.
type ResourceID struct {
	SubscriptionID string
	ResourceGroup  string
	// Type is the provider-qualified type, e.g.
	// "Microsoft.Network/networkInterfaces" or, for child resources,
	// "Microsoft.Sql/servers/databases".
	Type string
	Name string
}

// ParseResourceID splits
// /subscriptions/{sub}/resourceGroups/{rg}/providers/{ns}/{type}/{name}[/{type}/{name}...].
// Segment keywords are matched case-insensitively.
func ParseResourceID(id string) (ResourceID, error) {
	parts := strings.Split(strings.Trim(id, "/"), "/")
	if len(parts) < 8 || len(parts)%2 != 0 {
		return ResourceID{}, fmt.Errorf("%w: %q", ErrInvalidResourceID, id)
	}

	if !strings.EqualFold(parts[0], "subscriptions") ||
		!strings.EqualFold(parts[2], "resourceGroups") ||
		!strings.EqualFold(parts[4], "providers") {
		return ResourceID{}, fmt.Errorf("%w: %q", ErrInvalidResourceID, id)
	}

	out := ResourceID{
		SubscriptionID: parts[1],
		ResourceGroup:  strings.ToLower(parts[3]),
	}

	types := []string{parts[5]}
	for i := 6; i+1 < len(parts); i += 2 {
		types = append(types, parts[i])
		out.Name = parts[i+1]
	}

	out.Type = strings.Join(types, "/")

	if out.SubscriptionID == "" || out.ResourceGroup == "" || out.Name == "" {
		return ResourceID{}, fmt.Errorf("%w: %q", ErrInvalidResourceID, id)
	}

	return out, nil
}

// OrphanRule flags a resource as orphaned.
type OrphanRule interface {
	Match(r *models.ResourceSnapshot) bool
}

// ProvisioningStateRule matches resources left in one of States.
type ProvisioningStateRule struct {
	States []string
}

// Match implements OrphanRule.
func (p ProvisioningStateRule) Match(r *models.ResourceSnapshot) bool {
	for _, s := range p.States {
		if strings.EqualFold(r.ProvisioningState, s) {
			return true
		}
	}

	return false
}

// TagMarkerRule matches resources whose tag keys or values contain a marker.
type TagMarkerRule struct {
	Markers []string
}

// Match implements OrphanRule.
func (t TagMarkerRule) Match(r *models.ResourceSnapshot) bool {
	for k, v := range r.Tags {
		text := strings.ToLower(k + "=" + v)
		for _, m := range t.Markers {
			if strings.Contains(text, m) {
				return true
			}
		}
	}

	return false
}

// DefaultOrphanRules is the orphan rule table.
var DefaultOrphanRules = []OrphanRule{
	ProvisioningStateRule{States: []string{"Failed", "Canceled", "Cancelled"}},
	TagMarkerRule{Markers: []string{"orphan", "orphaned", "delete-me", "unused", "deprecated"}},
}

// IsOrphaned reports whether any rule matches r.
func IsOrphaned(r *models.ResourceSnapshot, rules []OrphanRule) bool {
	for _, rule := range rules {
		if rule.Match(r) {
			return true
		}
	}

	return false
}

// ResourceAdapter syncs the resource inventory.
type ResourceAdapter struct {
	deps   Deps
	window time.Duration
	rules  []OrphanRule
}

// NewResourceAdapter creates a ResourceAdapter. A nil rule table uses
// DefaultOrphanRules.
func NewResourceAdapter(deps Deps, interval time.Duration, rules []OrphanRule) *ResourceAdapter {
	if rules == nil {
		rules = DefaultOrphanRules
	}

	return &ResourceAdapter{deps: deps, window: interval, rules: rules}
}

// JobType implements Adapter.
func (a *ResourceAdapter) JobType() models.JobType { return models.JobResource }

type genericResource struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Type              string            `json:"type"`
	Location          string            `json:"location"`
	Tags              map[string]string `json:"tags"`
	ProvisioningState string            `json:"provisioningState"`
	Properties        struct {
		ProvisioningState string `json:"provisioningState"`
	} `json:"properties"`
}

type resourcePage struct {
	Value    []genericResource `json:"value"`
	NextLink string            `json:"nextLink"`
}

// Run implements Adapter.
func (a *ResourceAdapter) Run(ctx context.Context, tenantID string) SyncResult {
	var res SyncResult

	service := string(models.JobResource)

	cred, err := a.deps.Credentials.Resolve(ctx, tenantID, service)
	if err != nil {
		res.Fatal = err
		return res
	}

	now := a.deps.now()
	window := syncWindow(now, a.window)

	subs, err := listSubscriptions(ctx, a.deps, cred, service, &res)
	if err != nil {
		res.Fatal = err
		return res
	}

	for _, sub := range subs {
		scope := "resources/" + sub.SubscriptionID

		first := upstream.Request{
			Service: service,
			Scope:   a.deps.Endpoints.managementScope(),
			Method:  http.MethodGet,
			URL: fmt.Sprintf("%s/subscriptions/%s/resources?api-version=2021-04-01&$expand=provisioningState",
				a.deps.Endpoints.Management, sub.SubscriptionID),
		}

		_, err := paginate(ctx, a.deps, cred, scope, first,
			func(p *resourcePage) string { return p.NextLink },
			func(ctx context.Context, p *resourcePage) (int, error) {
				rows := make([]models.ResourceSnapshot, 0, len(p.Value))
				for _, raw := range p.Value {
					row, err := a.mapResource(tenantID, raw, now, window)
					if err != nil {
						res.addPageError(scope, 0, err)
						continue
					}
					rows = append(rows, row)
				}

				if len(rows) == 0 {
					return 0, nil
				}

				return a.deps.Store.UpsertResources(ctx, tenantID, rows)
			}, &res)
		if err != nil {
			res.Fatal = err
			return res
		}
	}

	return res
}

func (a *ResourceAdapter) mapResource(tenantID string, raw genericResource, capturedAt, window time.Time) (models.ResourceSnapshot, error) {
	id, err := ParseResourceID(raw.ID)
	if err != nil {
		return models.ResourceSnapshot{}, err
	}

	state := raw.ProvisioningState
	if state == "" {
		state = raw.Properties.ProvisioningState
	}

	name := raw.Name
	if name == "" {
		name = id.Name
	}

	typ := raw.Type
	if typ == "" {
		typ = id.Type
	}

	row := models.ResourceSnapshot{
		SnapshotMeta: models.SnapshotMeta{
			TenantID:   tenantID,
			CapturedAt: capturedAt,
			SyncWindow: window,
		},
		ResourceID:        strings.ToLower(raw.ID),
		SubscriptionID:    id.SubscriptionID,
		ResourceGroup:     id.ResourceGroup,
		Type:              typ,
		Name:              name,
		Location:          raw.Location,
		ProvisioningState: state,
		Tags:              raw.Tags,
	}
	row.IsOrphaned = IsOrphaned(&row, a.rules)

	return row, nil
}
