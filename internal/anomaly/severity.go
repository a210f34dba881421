package anomaly

import (
	"strings"

	"github.com/persistorai/tenantwatch/internal/models"
)

// Rule maps a keyword set to a severity. Rules are evaluated in order and the
// first rule with any matching keyword wins.
type Rule struct {
	Severity models.Severity
	Keywords []string
}

// Matches reports whether any keyword occurs in text (already lower-cased).
func (r Rule) Matches(text string) bool {
	for _, k := range r.Keywords {
		if strings.Contains(text, k) {
			return true
		}
	}

	return false
}

// DefaultSeverityRules is the policy severity table. The medium rule sits
// between high and low: logging and monitoring policies stay medium even
// when they also mention a low-severity keyword such as "diagnostic".
var DefaultSeverityRules = []Rule{
	{Severity: models.SeverityHigh, Keywords: []string{"encryption", "network", "auth", "mfa", "firewall", "secret"}},
	{Severity: models.SeverityMedium, Keywords: []string{"logging", "monitoring", "backup"}},
	{Severity: models.SeverityLow, Keywords: []string{"tag", "naming", "diagnostic", "cost", "audit"}},
}

// Classifier assigns severities from an ordered rule table.
type Classifier struct {
	rules    []Rule
	fallback models.Severity
}

// NewClassifier creates a Classifier. A nil table uses DefaultSeverityRules.
func NewClassifier(rules []Rule) *Classifier {
	if rules == nil {
		rules = DefaultSeverityRules
	}

	return &Classifier{rules: rules, fallback: models.SeverityMedium}
}

// Classify returns the severity for a policy given its name and category.
func (c *Classifier) Classify(name, category string) models.Severity {
	text := strings.ToLower(name + " " + category)

	for _, r := range c.rules {
		if r.Matches(text) {
			return r.Severity
		}
	}

	return c.fallback
}

// ClassifySeverity classifies with the default table.
func ClassifySeverity(name, category string) models.Severity {
	return defaultClassifier.Classify(name, category)
}

var defaultClassifier = NewClassifier(nil)
