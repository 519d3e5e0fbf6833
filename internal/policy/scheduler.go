package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"breeze/internal/logs"
	"breeze/internal/queue"
)

// Job names carried on the queues.
const (
	JobScanPolicies    = "scan-policies"
	JobCheckPolicy     = "check-policy"
	JobRemediateDevice = "remediate-device"
)

const (
	DefaultScanInterval = 15 * time.Minute

	// onDemandDedupWindow collapses rapid duplicate on-demand checks for the
	// same policy and device set into one job.
	onDemandDedupWindow = 30 * time.Second
)

// ScanScheduler enqueues one evaluation job per active policy every scan
// interval. Job ids are keyed to the time slot, so re-triggering within the
// same window (scheduler restarts, clock jitter) is a no-op.
type ScanScheduler struct {
	policies PolicyStore
	queue    *queue.Queue
	interval time.Duration

	now  func() time.Time
	stop chan struct{}
	wg   sync.WaitGroup
}

func NewScanScheduler(policies PolicyStore, q *queue.Queue, interval time.Duration) *ScanScheduler {
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	return &ScanScheduler{
		policies: policies,
		queue:    q,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		stop:     make(chan struct{}),
	}
}

func (s *ScanScheduler) Start() {
	s.wg.Add(1)
	go s.loop()
	logs.Logger.Infof("policy scan scheduler started, interval=%s", s.interval)
}

func (s *ScanScheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *ScanScheduler) loop() {
	defer s.wg.Done()
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if _, err := s.EnqueueAll(ctx); err != nil {
				logs.Logger.Errorf("policy scan tick: %v", err)
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}

// EnqueueAll enqueues one evaluation job per active policy for the current
// scan slot. Returns the number actually enqueued (slot duplicates skipped).
func (s *ScanScheduler) EnqueueAll(ctx context.Context) (int, error) {
	policies, err := s.policies.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active policies: %w", err)
	}
	slot := s.slot(s.interval)
	n := 0
	for _, p := range policies {
		id := fmt.Sprintf("policy:%s:%d", p.ID, slot)
		ok, err := s.queue.Enqueue(JobCheckPolicy, id, CheckJob{PolicyID: p.ID})
		if err != nil {
			return n, fmt.Errorf("enqueue %s: %w", id, err)
		}
		if ok {
			n++
		}
	}
	logs.Logger.Debugf("policy scan slot %d: %d/%d jobs enqueued", slot, n, len(policies))
	return n, nil
}

// EnqueueCheck enqueues an on-demand evaluation for one policy, optionally
// scoped to specific devices.
func (s *ScanScheduler) EnqueueCheck(_ context.Context, policyID string, deviceIDs []string) (bool, error) {
	id := fmt.Sprintf("check:%s:%s:%d", policyID, deviceSetHash(deviceIDs), s.slot(onDemandDedupWindow))
	return s.queue.Enqueue(JobCheckPolicy, id, CheckJob{PolicyID: policyID, DeviceIDs: deviceIDs})
}

func (s *ScanScheduler) slot(window time.Duration) int64 {
	return s.now().UnixMilli() / window.Milliseconds()
}

func deviceSetHash(ids []string) string {
	if len(ids) == 0 {
		return "all"
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	h := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h[:6])
}

// RemediationScheduler enqueues per-device remediation jobs with a stable
// identity, so a device already queued or being remediated under the same
// policy is never enqueued twice.
type RemediationScheduler struct {
	queue *queue.Queue
}

func NewRemediationScheduler(q *queue.Queue) *RemediationScheduler {
	return &RemediationScheduler{queue: q}
}

// Schedule enqueues one remediation job per distinct device and returns the
// count actually enqueued (dedup skips excluded).
func (r *RemediationScheduler) Schedule(_ context.Context, policyID string, deviceIDs []string) int {
	n := 0
	seen := map[string]bool{}
	for _, dev := range deviceIDs {
		if dev == "" || seen[dev] {
			continue
		}
		seen[dev] = true
		id := fmt.Sprintf("remediation:%s:%s", policyID, dev)
		if r.queue.IsQueuedOrActive(id) {
			recordDecision(decisionJobDeduped)
			continue
		}
		ok, err := r.queue.Enqueue(JobRemediateDevice, id, RemediateJob{PolicyID: policyID, DeviceID: dev})
		if err != nil {
			logs.Logger.Errorf("schedule remediation %s: %v", id, err)
			continue
		}
		if !ok {
			recordDecision(decisionJobDeduped)
			continue
		}
		recordDecision(decisionScheduled)
		n++
	}
	return n
}
