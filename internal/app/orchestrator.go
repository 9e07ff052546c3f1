package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"positionKeeper/internal/ports"
)

// Orchestrator owns the lifecycles of the three lifecycle loops, each ticking
// on its own interval against the shared store and gateway. Loops never
// coordinate through blocking handshakes; all shared state lives in the store,
// the reopen queue and the recovery in-flight set.
type Orchestrator struct {
	reconciler *Reconciler
	reopener   *ReopenScheduler
	recovery   *RecoveryEngine
	clock      ports.Clock
	logger     ports.Logger

	reconcileInterval time.Duration
	reopenInterval    time.Duration
	recoveryInterval  time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// OrchestratorConfig wires the three loops and their tick intervals.
type OrchestratorConfig struct {
	Reconciler        *Reconciler
	Reopener          *ReopenScheduler
	Recovery          *RecoveryEngine
	Clock             ports.Clock
	Logger            ports.Logger
	ReconcileInterval time.Duration
	ReopenInterval    time.Duration
	RecoveryInterval  time.Duration
}

// NewOrchestrator creates the loop owner.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Reconciler == nil || cfg.Reopener == nil || cfg.Recovery == nil || cfg.Clock == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Orchestrator")
	}
	if cfg.ReconcileInterval <= 0 || cfg.ReopenInterval <= 0 || cfg.RecoveryInterval <= 0 {
		return nil, fmt.Errorf("loop intervals must be positive")
	}
	return &Orchestrator{
		reconciler:        cfg.Reconciler,
		reopener:          cfg.Reopener,
		recovery:          cfg.Recovery,
		clock:             cfg.Clock,
		logger:            cfg.Logger,
		reconcileInterval: cfg.ReconcileInterval,
		reopenInterval:    cfg.ReopenInterval,
		recoveryInterval:  cfg.RecoveryInterval,
	}, nil
}

// Start launches the three loops. Starting twice is a no-op.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		o.logger.Warn(context.Background(), "Orchestrator already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.running = true

	o.launch(ctx, "reconcile", o.reconcileInterval, o.reconciler.Tick)
	o.launch(ctx, "reopen", o.reopenInterval, o.reopener.Tick)
	o.launch(ctx, "recovery", o.recoveryInterval, o.recovery.Tick)

	o.logger.Info(ctx, "Orchestrator started", map[string]interface{}{
		"reconcileInterval": o.reconcileInterval.String(),
		"reopenInterval":    o.reopenInterval.String(),
		"recoveryInterval":  o.recoveryInterval.String(),
	})
}

func (o *Orchestrator) launch(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := o.clock.NewTicker(interval)
		defer ticker.Stop()

		// Tick bodies run on a background context: cancellation stops the
		// scheduling of new ticks immediately, while an in-progress tick is
		// bounded only by its per-call timeouts. Aborting mid-sequence could
		// leave orders placed without a matching record update.
		tick(context.Background())
		for {
			select {
			case <-ctx.Done():
				o.logger.Debug(context.Background(), "Loop stopped", map[string]interface{}{"loop": name})
				return
			case <-ticker.C():
				tick(context.Background())
			}
		}
	}()
}

// Stop halts scheduling of new ticks and waits for in-progress tick bodies
// and recovery sequences to run to completion. Stopping when not running is
// a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		o.logger.Warn(context.Background(), "Orchestrator not running")
		return
	}

	o.cancel()
	o.wg.Wait()
	o.recovery.Wait()
	o.running = false
	o.cancel = nil
	o.logger.Info(context.Background(), "Orchestrator stopped")
}

// IsRunning reports whether the loops are currently scheduled.
func (o *Orchestrator) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}
