package policy

import (
	"fmt"
	"path"
	"strings"
	"time"

	"breeze/internal/models"
)

// Matcher is the default rule evaluator. Allowlist policies flag installed
// software not matched by any rule; blocklist and audit policies flag
// software matched by a rule. Every finding is an unauthorized violation.
type Matcher struct{}

func NewMatcher() *Matcher { return &Matcher{} }

func (m *Matcher) Evaluate(p *models.SoftwarePolicy, installed []models.DeviceSoftware, now time.Time) ([]models.Violation, error) {
	rules, err := p.RuleList()
	if err != nil {
		return nil, fmt.Errorf("policy %s: decode rules: %w", p.ID, err)
	}

	var out []models.Violation
	for _, sw := range installed {
		matched := matchAny(rules, sw)
		var flag bool
		switch p.Mode {
		case models.PolicyModeAllowlist:
			flag = !matched
		case models.PolicyModeBlocklist, models.PolicyModeAudit:
			flag = matched
		default:
			return nil, fmt.Errorf("policy %s: unknown mode %q", p.ID, p.Mode)
		}
		if flag {
			out = append(out, models.Violation{
				Type:       models.ViolationUnauthorized,
				Software:   models.SoftwareRef{Name: sw.Name, Version: sw.Version},
				DetectedAt: now,
			})
		}
	}
	return out, nil
}

func matchAny(rules []models.SoftwareRule, sw models.DeviceSoftware) bool {
	for _, r := range rules {
		if matchName(r.Name, sw.Name) && matchVersion(r.Version, sw.Version) {
			return true
		}
	}
	return false
}

// matchName compares case-insensitively; patterns may use `*` wildcards.
func matchName(pattern, name string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	name = strings.ToLower(strings.TrimSpace(name))
	if pattern == "" {
		return false
	}
	if !strings.Contains(pattern, "*") {
		return pattern == name
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

// matchVersion treats an empty pin as "any version".
func matchVersion(pin, version string) bool {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return true
	}
	return strings.EqualFold(pin, strings.TrimSpace(version))
}
