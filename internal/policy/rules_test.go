package policy

import (
	"testing"
	"time"

	"breeze/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rulesPolicy(mode string, rules string) *models.SoftwarePolicy {
	return &models.SoftwarePolicy{
		ID:    "pol-1",
		Mode:  mode,
		Rules: []byte(rules),
	}
}

func installed(items ...[2]string) []models.DeviceSoftware {
	out := make([]models.DeviceSoftware, 0, len(items))
	for _, it := range items {
		out = append(out, models.DeviceSoftware{Name: it[0], Version: it[1]})
	}
	return out
}

func TestMatcherBlocklist(t *testing.T) {
	m := NewMatcher()
	now := time.Now().UTC()
	p := rulesPolicy(models.PolicyModeBlocklist, `[{"name":"uTorrent"},{"name":"limewire","version":"5.0"}]`)

	got, err := m.Evaluate(p, installed(
		[2]string{"utorrent", "3.6"},  // matches, case-insensitive, any version
		[2]string{"LimeWire", "4.0"},  // version pin does not match
		[2]string{"LimeWire", "5.0"},  // matches pin
		[2]string{"Notepad++", "8.6"}, // no rule
	), now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "utorrent", got[0].Software.Name)
	assert.Equal(t, "LimeWire", got[1].Software.Name)
	assert.Equal(t, "5.0", got[1].Software.Version)
	for _, v := range got {
		assert.Equal(t, models.ViolationUnauthorized, v.Type)
		assert.Equal(t, now, v.DetectedAt)
	}
}

func TestMatcherAllowlist(t *testing.T) {
	m := NewMatcher()
	p := rulesPolicy(models.PolicyModeAllowlist, `[{"name":"Google Chrome"},{"name":"Microsoft *"}]`)

	got, err := m.Evaluate(p, installed(
		[2]string{"google chrome", "120"},
		[2]string{"Microsoft Teams", "1.7"},
		[2]string{"uTorrent", "3.6"},
	), time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "uTorrent", got[0].Software.Name)
}

func TestMatcherAuditFlagsLikeBlocklist(t *testing.T) {
	m := NewMatcher()
	p := rulesPolicy(models.PolicyModeAudit, `[{"name":"utorrent"}]`)

	got, err := m.Evaluate(p, installed([2]string{"uTorrent", "3.6"}), time.Now())
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMatcherWildcard(t *testing.T) {
	m := NewMatcher()
	p := rulesPolicy(models.PolicyModeBlocklist, `[{"name":"*torrent*"}]`)

	got, err := m.Evaluate(p, installed(
		[2]string{"uTorrent", "3.6"},
		[2]string{"qBittorrent", "4.6"},
		[2]string{"Transmission", "4.0"},
	), time.Now())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMatcherEmptyRuleSet(t *testing.T) {
	m := NewMatcher()

	// Allowlist with no rules flags everything installed.
	got, err := m.Evaluate(rulesPolicy(models.PolicyModeAllowlist, ``), installed([2]string{"anything", "1"}), time.Now())
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Blocklist with no rules flags nothing.
	got, err = m.Evaluate(rulesPolicy(models.PolicyModeBlocklist, ``), installed([2]string{"anything", "1"}), time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatcherUnknownMode(t *testing.T) {
	m := NewMatcher()
	_, err := m.Evaluate(rulesPolicy("denylist", `[]`), installed([2]string{"x", "1"}), time.Now())
	assert.Error(t, err)
}

func TestMatcherMalformedRules(t *testing.T) {
	m := NewMatcher()
	_, err := m.Evaluate(rulesPolicy(models.PolicyModeBlocklist, `{"not":"a list"}`), nil, time.Now())
	assert.Error(t, err)
}
