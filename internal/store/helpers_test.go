package store

import (
	"reflect"
	"testing"
)

func TestWhereBuilder(t *testing.T) {
	var w whereBuilder

	if !w.scope("tenant_id", TenantScope{IDs: []string{"a", "b"}}) {
		t.Fatal("scope with ids should match")
	}

	w.add("status = ?", "open")
	limit := w.next(10)

	if got, want := w.clause(), "WHERE tenant_id = ANY($1::uuid[]) AND status = $2"; got != want {
		t.Errorf("clause = %q, want %q", got, want)
	}

	if limit != "$3" {
		t.Errorf("limit placeholder = %q, want $3", limit)
	}

	if !reflect.DeepEqual(w.args, []any{[]string{"a", "b"}, "open", 10}) {
		t.Errorf("args = %v", w.args)
	}
}

func TestWhereBuilder_Scopes(t *testing.T) {
	var all whereBuilder
	if !all.scope("tenant_id", TenantScope{All: true}) || all.clause() != "" {
		t.Error("wildcard scope adds no condition")
	}

	var none whereBuilder
	if none.scope("tenant_id", TenantScope{}) {
		t.Error("empty scope must match nothing")
	}
}

func TestClampLimit(t *testing.T) {
	for _, tc := range []struct{ in, want int }{{0, 50}, {-1, 50}, {20, 20}, {5000, maxListLimit}} {
		if got := clampLimit(tc.in, 50); got != tc.want {
			t.Errorf("clampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
