package api_test

import (
	"net/http"
	"testing"

	"github.com/persistorai/tenantwatch/internal/api"
	"github.com/persistorai/tenantwatch/internal/models"
)

func TestListAlerts_IncludeResolved(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		want  bool
	}{
		{"", false},
		{"?include_resolved=true", true},
		{"?include_resolved=1", true},
		{"?include_resolved=nope", false},
	}

	for _, tt := range tests {
		svc := &mockAlertService{}
		h := api.NewAlertHandler(svc, testLogger())
		r := newTestRouter(operator())
		r.GET("/alerts", h.List)

		w := doRequest(r, http.MethodGet, "/alerts"+tt.query, "")

		if w.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", tt.query, w.Code)
		}

		if svc.gotIncludeResolved != tt.want {
			t.Errorf("%q: include_resolved = %v, want %v", tt.query, svc.gotIncludeResolved, tt.want)
		}

		if got := w.Body.String(); got != `{"data":[],"has_more":false}` {
			t.Errorf("%q: unexpected body %s", tt.query, got)
		}
	}
}

func TestResolveAlert(t *testing.T) {
	t.Parallel()

	h := api.NewAlertHandler(&mockAlertService{}, testLogger())
	r := newTestRouter(operator())
	r.POST("/alerts/:id/resolve", h.Resolve)

	if w := doRequest(r, http.MethodPost, "/alerts/al-1/resolve", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	h = api.NewAlertHandler(&mockAlertService{resolveErr: models.ErrAlertNotFound}, testLogger())
	r = newTestRouter(operator())
	r.POST("/alerts/:id/resolve", h.Resolve)

	if w := doRequest(r, http.MethodPost, "/alerts/missing/resolve", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
