package syncer

import (
	"context"
	"net/http"
	"strings"

	"github.com/persistorai/tenantwatch/internal/credential"
	"github.com/persistorai/tenantwatch/internal/upstream"
)

type subscription struct {
	SubscriptionID string `json:"subscriptionId"`
	DisplayName    string `json:"displayName"`
	State          string `json:"state"`
}

type subscriptionPage struct {
	Value    []subscription `json:"value"`
	NextLink string         `json:"nextLink"`
}

// listSubscriptions returns the enabled subscriptions visible to cred.
func listSubscriptions(ctx context.Context, d Deps, cred *credential.Credential, service string, res *SyncResult) ([]subscription, error) {
	var subs []subscription

	first := upstream.Request{
		Service: service,
		Scope:   d.Endpoints.managementScope(),
		Method:  http.MethodGet,
		URL:     d.Endpoints.Management + "/subscriptions?api-version=2022-12-01",
	}

	_, err := paginate(ctx, d, cred, "subscriptions", first,
		func(p *subscriptionPage) string { return p.NextLink },
		func(_ context.Context, p *subscriptionPage) (int, error) {
			for _, s := range p.Value {
				if strings.EqualFold(s.State, "Enabled") || s.State == "" {
					subs = append(subs, s)
				}
			}
			return 0, nil
		}, res)

	return subs, err
}
