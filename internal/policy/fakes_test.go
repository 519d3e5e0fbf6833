package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"breeze/internal/models"
)

type fakePolicyStore struct {
	byID   map[string]*models.SoftwarePolicy
	active []models.SoftwarePolicy
	err    error
}

func (f *fakePolicyStore) GetByID(_ context.Context, id string) (*models.SoftwarePolicy, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[id], nil
}

func (f *fakePolicyStore) ListActive(_ context.Context) ([]models.SoftwarePolicy, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.active, nil
}

type fakeTargets struct {
	effective []string
	shadowed  map[string]string
	err       error
}

func (f *fakeTargets) Resolve(_ context.Context, _ *models.SoftwarePolicy, _ []string) ([]string, map[string]string, error) {
	return f.effective, f.shadowed, f.err
}

type fakeInventory struct {
	software map[string][]models.DeviceSoftware
	err      error
}

func (f *fakeInventory) InstalledSoftware(_ context.Context, _ []string) (map[string][]models.DeviceSoftware, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.software, nil
}

// failingMatcher wraps the real matcher and errors whenever the inventory
// contains failOn, exercising per-device isolation.
type failingMatcher struct {
	inner  *Matcher
	failOn string
}

func (f *failingMatcher) Evaluate(p *models.SoftwarePolicy, installed []models.DeviceSoftware, now time.Time) ([]models.Violation, error) {
	for _, sw := range installed {
		if sw.Name == f.failOn {
			return nil, fmt.Errorf("inventory corrupt for %s", sw.Name)
		}
	}
	return f.inner.Evaluate(p, installed, now)
}

type fakeComplianceStore struct {
	mu   sync.Mutex
	rows map[string]*models.SoftwareComplianceStatus // keyed policyID|deviceUUID

	upserted    []*models.SoftwareComplianceStatus
	markPending [][]string
	saveErr     error
}

func newFakeComplianceStore() *fakeComplianceStore {
	return &fakeComplianceStore{rows: map[string]*models.SoftwareComplianceStatus{}}
}

func complianceKey(policyID, deviceUUID string) string { return policyID + "|" + deviceUUID }

func (f *fakeComplianceStore) put(row *models.SoftwareComplianceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[complianceKey(row.PolicyID, row.DeviceUUID)] = row
}

func (f *fakeComplianceStore) Get(_ context.Context, policyID, deviceUUID string) (*models.SoftwareComplianceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[complianceKey(policyID, deviceUUID)], nil
}

func (f *fakeComplianceStore) GetForDevices(_ context.Context, policyID string, deviceUUIDs []string) (map[string]*models.SoftwareComplianceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]*models.SoftwareComplianceStatus{}
	for _, dev := range deviceUUIDs {
		if row, ok := f.rows[complianceKey(policyID, dev)]; ok {
			out[dev] = row
		}
	}
	return out, nil
}

func (f *fakeComplianceStore) UpsertBatch(_ context.Context, rows []*models.SoftwareComplianceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, rows...)
	for _, row := range rows {
		f.rows[complianceKey(row.PolicyID, row.DeviceUUID)] = row
	}
	return nil
}

func (f *fakeComplianceStore) MarkPending(_ context.Context, policyID string, deviceUUIDs []string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markPending = append(f.markPending, deviceUUIDs)
	for _, dev := range deviceUUIDs {
		if row, ok := f.rows[complianceKey(policyID, dev)]; ok {
			row.RemediationStatus = models.RemediationPending
		}
	}
	return nil
}

func (f *fakeComplianceStore) Save(_ context.Context, row *models.SoftwareComplianceStatus) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.put(row)
	return nil
}

type dispatched struct {
	DeviceUUID string
	Payload    models.UninstallPayload
}

type fakeDispatcher struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	failOn   map[string]error // software name -> dispatch error
	sent     []dispatched
}

func (f *fakeDispatcher) DispatchUninstall(_ context.Context, deviceUUID string, payload models.UninstallPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failOn[payload.SoftwareName]; ok {
		return err
	}
	f.sent = append(f.sent, dispatched{DeviceUUID: deviceUUID, Payload: payload})
	return nil
}

func (f *fakeDispatcher) RecentUninstallKeys(_ context.Context, _, _ string, _ time.Time) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]struct{}{}
	for k := range f.inFlight {
		out[k] = struct{}{}
	}
	return out, nil
}

type fakeQueuer struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeQueuer) Schedule(_ context.Context, _ string, deviceUUIDs []string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, deviceUUIDs)
	return len(deviceUUIDs)
}

type fakeAuditWriter struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (f *fakeAuditWriter) Write(_ context.Context, ev models.AuditEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeAuditWriter) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Action)
	}
	return out
}

func (f *fakeAuditWriter) has(action string) bool {
	for _, a := range f.actions() {
		if a == action {
			return true
		}
	}
	return false
}
