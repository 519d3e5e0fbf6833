package policy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"breeze/internal/logs"
	"breeze/internal/models"

	"gorm.io/datatypes"
)

// AuditLog wraps an AuditWriter with non-blocking best-effort writes.
// Failures are logged, never surfaced: pipeline progress must not depend on
// the audit sink.
type AuditLog struct {
	w       AuditWriter
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAuditLog(w AuditWriter) *AuditLog {
	return &AuditLog{w: w, timeout: 5 * time.Second}
}

// Write spawns the audit write in the background.
func (a *AuditLog) Write(ev models.AuditEvent) {
	if a == nil || a.w == nil {
		return
	}
	if ev.Actor == "" {
		ev.Actor = models.ActorSystem
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.w.Write(ctx, ev); err != nil {
			logs.Logger.Warnf("audit write %s failed: %v", ev.Action, err)
		}
	}()
}

// Flush waits for outstanding writes. Used on shutdown and in tests.
func (a *AuditLog) Flush() {
	if a != nil {
		a.wg.Wait()
	}
}

func auditDetails(m map[string]any) datatypes.JSON {
	b, _ := json.Marshal(m)
	return datatypes.JSON(b)
}
