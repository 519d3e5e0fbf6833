package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"breeze/config"
	"breeze/internal/db"
	"breeze/internal/health"
	"breeze/internal/logs"
	"breeze/internal/middleware"
	"breeze/internal/models"
	"breeze/internal/policy"
	"breeze/internal/queue"
	"breeze/internal/repo"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server

	evalQueue *queue.Queue
	remQueue  *queue.Queue
	scheduler *policy.ScanScheduler
	audit     *policy.AuditLog

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	/* 1) Logging */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB */
	d, err := db.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	a.db = d

	if err := a.db.AutoMigrate(
		&models.Device{},
		&models.DeviceSoftware{},
		&models.SoftwarePolicy{},
		&models.SoftwareComplianceStatus{},
		&models.DeviceCommand{},
		&models.AuditEvent{},
	); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	/* 3) Stores and pipeline collaborators */
	policies := repo.NewPolicyStore(a.db)
	devices := repo.NewDeviceStore(a.db)
	compliance := repo.NewComplianceStore(a.db)
	commands := repo.NewCommandStore(a.db)
	targets := repo.NewTargetResolver(policies, devices)
	a.audit = policy.NewAuditLog(repo.NewAuditStore(a.db))

	/* 4) Queues and pipeline services */
	a.evalQueue = queue.New("software-policy-evaluation", queue.Options{
		Workers: a.cfg.Policy.EvalConcurrency,
	})
	a.remQueue = queue.New("software-policy-remediation", queue.Options{
		Workers: a.cfg.Policy.RemediationConcurrency,
	})

	remediation := policy.NewRemediationScheduler(a.remQueue)
	evaluator := policy.NewEvaluator(policies, targets, devices, policy.NewMatcher(), compliance, remediation, a.audit)
	executor := policy.NewExecutor(policies, compliance, commands, a.audit)
	a.scheduler = policy.NewScanScheduler(policies, a.evalQueue, a.cfg.Policy.ScanInterval)

	a.evalQueue.Handle(policy.JobCheckPolicy, func(ctx context.Context, j queue.Job) error {
		var job policy.CheckJob
		if err := json.Unmarshal(j.Payload, &job); err != nil {
			return fmt.Errorf("decode %s payload: %w", j.Name, err)
		}
		_, err := evaluator.HandleCheck(ctx, job)
		return err
	})
	a.evalQueue.Handle(policy.JobScanPolicies, func(ctx context.Context, _ queue.Job) error {
		_, err := a.scheduler.EnqueueAll(ctx)
		return err
	})
	a.remQueue.Handle(policy.JobRemediateDevice, func(ctx context.Context, j queue.Job) error {
		var job policy.RemediateJob
		if err := json.Unmarshal(j.Payload, &job); err != nil {
			return fmt.Errorf("decode %s payload: %w", j.Name, err)
		}
		_, err := executor.HandleRemediate(ctx, job)
		return err
	})

	/* 5) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	health.RegisterRoutesWithDB(a.Router, a.db) // /healthz, /readyz
	a.Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	a.Router.HandleFunc("/api/v1/policies/{id:[a-zA-Z0-9\\-]+}/check", a.handleTriggerCheck).
		Methods(http.MethodPost)

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

// handleTriggerCheck enqueues an on-demand compliance check for one policy,
// optionally scoped to specific devices.
func (a *App) handleTriggerCheck(w http.ResponseWriter, r *http.Request) {
	policyID := mux.Vars(r)["id"]
	var body struct {
		DeviceIDs []string `json:"deviceIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body", nil)
		return
	}
	queued, err := a.scheduler.EnqueueCheck(r.Context(), policyID, body.DeviceIDs)
	if err != nil {
		models.WriteProblem(w, http.StatusServiceUnavailable, "Service Unavailable", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusAccepted, map[string]any{"queued": queued})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigs
		logs.Logger.Infof("shutdown signal: %s", s)
		a.cancel()
	}()

	a.evalQueue.Start()
	a.remQueue.Start()
	a.scheduler.Start()

	// Hard timeouts matter in production.
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logs.Logger.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()

	a.scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer drainCancel()
	a.evalQueue.Stop(drainCtx)
	a.remQueue.Stop(drainCtx)
	a.audit.Flush()
	return nil
}
