package store

import (
	"strconv"
	"strings"
)

// maxListLimit is a defense-in-depth cap on limit values for list queries.
const maxListLimit = 1000

// whereBuilder accumulates AND-ed conditions with numbered placeholders.
type whereBuilder struct {
	conds []string
	args  []any
}

// add appends a condition whose single placeholder is written as "?".
func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(w.args)), 1))
}

// scope adds the tenant restriction. It reports false when nothing can match.
func (w *whereBuilder) scope(column string, s TenantScope) bool {
	if s.All {
		return true
	}

	if len(s.IDs) == 0 {
		return false
	}

	w.add(column+" = ANY(?::uuid[])", s.IDs)

	return true
}

func (w *whereBuilder) clause() string {
	if len(w.conds) == 0 {
		return ""
	}

	return "WHERE " + strings.Join(w.conds, " AND ")
}

// next returns the next placeholder and records its argument.
func (w *whereBuilder) next(arg any) string {
	w.args = append(w.args, arg)
	return "$" + strconv.Itoa(len(w.args))
}

func clampLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}

	if limit > maxListLimit {
		return maxListLimit
	}

	return limit
}
