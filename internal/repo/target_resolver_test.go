package repo

import (
	"context"
	"testing"
	"time"

	"breeze/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePolicyLister struct {
	policies []models.SoftwarePolicy
}

func (f *fakePolicyLister) ListActiveByOrg(_ context.Context, _ string) ([]models.SoftwarePolicy, error) {
	return f.policies, nil
}

type fakeDeviceLister struct {
	uuids []string
}

func (f *fakeDeviceLister) ListUUIDsByOrg(_ context.Context, _ string) ([]string, error) {
	return f.uuids, nil
}

func enforcingPolicy(id string, precedence int, created time.Time, devices string) models.SoftwarePolicy {
	p := models.SoftwarePolicy{
		ID:          id,
		OrgID:       "org-1",
		Mode:        models.PolicyModeBlocklist,
		EnforceMode: true,
		Precedence:  precedence,
		IsActive:    true,
	}
	p.CreatedAt = created
	if devices == "" {
		p.TargetAll = true
	} else {
		p.TargetDeviceUUIDs = []byte(devices)
	}
	return p
}

func resolverFor(policies ...models.SoftwarePolicy) *TargetResolver {
	return NewTargetResolver(
		&fakePolicyLister{policies: policies},
		&fakeDeviceLister{uuids: []string{"dev-1", "dev-2", "dev-3"}},
	)
}

func TestResolveExplicitTargets(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := enforcingPolicy("pol-1", 0, created, `["dev-1","dev-2"]`)
	r := resolverFor(p)

	effective, shadowed, err := r.Resolve(context.Background(), &p, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dev-1", "dev-2"}, effective)
	assert.Empty(t, shadowed)
}

func TestResolveTargetAllUsesOrgDevices(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := enforcingPolicy("pol-1", 0, created, "")
	r := resolverFor(p)

	effective, _, err := r.Resolve(context.Background(), &p, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dev-1", "dev-2", "dev-3"}, effective)
}

func TestResolveIntersectsWithRequestedDevices(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := enforcingPolicy("pol-1", 0, created, `["dev-1","dev-2"]`)
	r := resolverFor(p)

	effective, _, err := r.Resolve(context.Background(), &p, []string{"dev-2", "dev-9"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-2"}, effective)

	// A scope with no overlap resolves to nothing.
	effective, shadowed, err := r.Resolve(context.Background(), &p, []string{"dev-9"})
	require.NoError(t, err)
	assert.Empty(t, effective)
	assert.Empty(t, shadowed)
}

func TestResolveHigherPrecedenceShadows(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	low := enforcingPolicy("pol-low", 0, created, `["dev-1","dev-2"]`)
	high := enforcingPolicy("pol-high", 10, created, `["dev-2"]`)
	r := resolverFor(low, high)

	effective, shadowed, err := r.Resolve(context.Background(), &low, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1"}, effective)
	assert.Equal(t, map[string]string{"dev-2": "pol-high"}, shadowed)

	// The governing policy itself sees the device as effective.
	effective, shadowed, err = r.Resolve(context.Background(), &high, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-2"}, effective)
	assert.Empty(t, shadowed)
}

func TestResolvePrecedenceTieGoesToOlderPolicy(t *testing.T) {
	older := enforcingPolicy("pol-old", 5, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), `["dev-1"]`)
	newer := enforcingPolicy("pol-new", 5, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), `["dev-1"]`)
	r := resolverFor(older, newer)

	effective, shadowed, err := r.Resolve(context.Background(), &older, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1"}, effective)
	assert.Empty(t, shadowed)

	effective, shadowed, err = r.Resolve(context.Background(), &newer, nil)
	require.NoError(t, err)
	assert.Empty(t, effective)
	assert.Equal(t, map[string]string{"dev-1": "pol-old"}, shadowed)
}

func TestResolveOrgWideCompetitorShadowsEverywhere(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	scoped := enforcingPolicy("pol-scoped", 0, created, `["dev-1"]`)
	orgWide := enforcingPolicy("pol-org", 10, created, "")
	r := resolverFor(scoped, orgWide)

	effective, shadowed, err := r.Resolve(context.Background(), &scoped, nil)
	require.NoError(t, err)
	assert.Empty(t, effective)
	assert.Equal(t, map[string]string{"dev-1": "pol-org"}, shadowed)
}

func TestResolveDetectOnlyCompetitorNeverShadows(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	enforcing := enforcingPolicy("pol-enf", 0, created, `["dev-1"]`)
	audit := enforcingPolicy("pol-audit", 10, created, `["dev-1"]`)
	audit.Mode = models.PolicyModeAudit
	audit.EnforceMode = false
	r := resolverFor(enforcing, audit)

	// A higher-precedence detect-only policy must not suppress enforcement.
	effective, shadowed, err := r.Resolve(context.Background(), &enforcing, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1"}, effective)
	assert.Empty(t, shadowed)
}

func TestResolveDetectOnlyPolicyIsNeverShadowed(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	audit := enforcingPolicy("pol-audit", 0, created, `["dev-1"]`)
	audit.Mode = models.PolicyModeAudit
	audit.EnforceMode = false
	enforcing := enforcingPolicy("pol-enf", 10, created, `["dev-1"]`)
	r := resolverFor(audit, enforcing)

	// Detect-only policies observe every targeted device regardless of
	// enforcing competitors.
	effective, shadowed, err := r.Resolve(context.Background(), &audit, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dev-1"}, effective)
	assert.Empty(t, shadowed)
}

func TestResolveMalformedCompetitorTargets(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := enforcingPolicy("pol-1", 0, created, `["dev-1"]`)
	broken := enforcingPolicy("pol-broken", 10, created, `["dev-1"]`)
	broken.TargetDeviceUUIDs = []byte(`{"bad":`)
	r := resolverFor(p, broken)

	_, _, err := r.Resolve(context.Background(), &p, nil)
	assert.Error(t, err)
}

func TestBeats(t *testing.T) {
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := old.Add(24 * time.Hour)

	a := enforcingPolicy("a", 5, old, "")
	b := enforcingPolicy("b", 3, newer, "")
	assert.True(t, beats(&a, &b))
	assert.False(t, beats(&b, &a))

	c := enforcingPolicy("c", 5, newer, "")
	assert.True(t, beats(&a, &c)) // tie on precedence, older wins
	assert.False(t, beats(&c, &a))
}
