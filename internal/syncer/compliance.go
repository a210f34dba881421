package syncer

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/persistorai/tenantwatch/internal/anomaly"
	"github.com/persistorai/tenantwatch/internal/credential"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/upstream"
)

// ComplianceAdapter syncs per-policy compliance counts and the subscription
// security score.
type ComplianceAdapter struct {
	deps       Deps
	window     time.Duration
	classifier *anomaly.Classifier
}

// NewComplianceAdapter creates a ComplianceAdapter. A nil classifier uses the
// default severity table.
func NewComplianceAdapter(deps Deps, interval time.Duration, classifier *anomaly.Classifier) *ComplianceAdapter {
	if classifier == nil {
		classifier = anomaly.NewClassifier(nil)
	}

	return &ComplianceAdapter{deps: deps, window: interval, classifier: classifier}
}

// JobType implements Adapter.
func (a *ComplianceAdapter) JobType() models.JobType { return models.JobCompliance }

type policyState struct {
	PolicyDefinitionName        string `json:"policyDefinitionName"`
	PolicyDefinitionReferenceID string `json:"policyDefinitionReferenceId"`
	PolicyDefinitionCategory    string `json:"policyDefinitionCategory"`
	ComplianceState             string `json:"complianceState"`
	IsCompliant                 *bool  `json:"isCompliant"`
}

type policyStatePage struct {
	Value    []policyState `json:"value"`
	NextLink string        `json:"@odata.nextLink"`
}

type secureScore struct {
	Properties struct {
		Score struct {
			Current    float64 `json:"current"`
			Max        float64 `json:"max"`
			Percentage float64 `json:"percentage"`
		} `json:"score"`
	} `json:"properties"`
}

type policyTally struct {
	name, category                  string
	compliant, nonCompliant, exempt int
}

// CompliancePercent returns compliant/(compliant+nonCompliant)*100. Exempt
// resources are excluded; an empty denominator counts as fully compliant.
func CompliancePercent(compliant, nonCompliant int) float64 {
	if compliant+nonCompliant == 0 {
		return 100
	}

	return float64(compliant) / float64(compliant+nonCompliant) * 100
}

// Run implements Adapter.
func (a *ComplianceAdapter) Run(ctx context.Context, tenantID string) SyncResult {
	var res SyncResult

	service := string(models.JobCompliance)

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
		scope := "compliance/" + sub.SubscriptionID
		tallies := make(map[string]*policyTally)

		first := upstream.Request{
			Service: service,
			Scope:   a.deps.Endpoints.managementScope(),
			Method:  http.MethodPost,
			URL: fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.PolicyInsights/policyStates/latest/queryResults?api-version=2019-10-01",
				a.deps.Endpoints.Management, sub.SubscriptionID),
		}

		complete, err := paginate(ctx, a.deps, cred, scope, first,
			func(p *policyStatePage) string { return p.NextLink },
			func(_ context.Context, p *policyStatePage) (int, error) {
				tallyPolicyStates(tallies, p.Value)
				return 0, nil
			}, &res)
		if err != nil {
			res.Fatal = err
			return res
		}

		// A partial tally would understate non-compliance, so nothing is
		// written for a subscription whose pages did not all arrive.
		if !complete || len(tallies) == 0 {
			continue
		}

		score, err := a.securityScore(ctx, cred, sub.SubscriptionID)
		if err != nil {
			if isRunFatal(err) {
				res.Fatal = err
				return res
			}
			res.addPageError("secure-score/"+sub.SubscriptionID, 0, err)
		}

		rows := a.mapTallies(tenantID, sub.SubscriptionID, tallies, score, now, window)

		n, err := a.deps.Store.UpsertCompliance(ctx, tenantID, rows)
		if err != nil {
			res.addPageError(scope, 0, err)
			continue
		}

		res.RecordsProcessed += n
	}

	return res
}

func (a *ComplianceAdapter) securityScore(ctx context.Context, cred *credential.Credential, subscriptionID string) (*float64, error) {
	var out secureScore

	err := a.deps.Upstream.Fetch(ctx, cred, upstream.Request{
		Service: string(models.JobCompliance),
		Scope:   a.deps.Endpoints.managementScope(),
		Method:  http.MethodGet,
		URL: fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.Security/secureScores/ascScore?api-version=2020-01-01",
			a.deps.Endpoints.Management, subscriptionID),
	}, &out)
	if err != nil {
		if upstream.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching secure score: %w", err)
	}

	pct := out.Properties.Score.Percentage * 100
	if pct == 0 && out.Properties.Score.Max > 0 {
		pct = out.Properties.Score.Current / out.Properties.Score.Max * 100
	}

	return &pct, nil
}

func tallyPolicyStates(tallies map[string]*policyTally, states []policyState) {
	for _, s := range states {
		name := s.PolicyDefinitionName
		if s.PolicyDefinitionReferenceID != "" {
			name = s.PolicyDefinitionReferenceID
		}

		if name == "" {
			continue
		}

		t, ok := tallies[name]
		if !ok {
			t = &policyTally{name: name, category: s.PolicyDefinitionCategory}
			tallies[name] = t
		}

		switch state := strings.ToLower(s.ComplianceState); {
		case state == "exempt":
			t.exempt++
		case state == "compliant":
			t.compliant++
		case state == "noncompliant":
			t.nonCompliant++
		case s.IsCompliant != nil && *s.IsCompliant:
			t.compliant++
		case s.IsCompliant != nil:
			t.nonCompliant++
		}
	}
}

func (a *ComplianceAdapter) mapTallies(
	tenantID, subscriptionID string,
	tallies map[string]*policyTally,
	score *float64,
	capturedAt, window time.Time,
) []models.ComplianceSnapshot {
	rows := make([]models.ComplianceSnapshot, 0, len(tallies))

	for _, t := range tallies {
		rows = append(rows, models.ComplianceSnapshot{
			SnapshotMeta: models.SnapshotMeta{
				TenantID:   tenantID,
				CapturedAt: capturedAt,
				SyncWindow: window,
			},
			SubscriptionID:    subscriptionID,
			PolicyName:        t.name,
			Category:          t.category,
			Compliant:         t.compliant,
			NonCompliant:      t.nonCompliant,
			Exempt:            t.exempt,
			CompliancePercent: CompliancePercent(t.compliant, t.nonCompliant),
			SecurityScore:     score,
			Severity:          a.classifier.Classify(t.name, t.category),
		})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].PolicyName < rows[j].PolicyName })

	return rows
}
