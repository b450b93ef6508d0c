package syncengine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	errMissingSignal  = errors.New("syncengine: connectivity signal is required")
	errNoStages       = errors.New("syncengine: at least one stage is required")
	errAlreadyStarted = errors.New("syncengine: coordinator already started")
)

// Pass is one entity's reconciliation, usually an *Engine.
type Pass interface {
	Entity() string
	Reconcile(ctx context.Context) Report
}

// Signal delivers one value per down to up connectivity transition.
type Signal interface {
	Reconnected(ctx context.Context) (<-chan struct{}, func())
}

// CoordinatorConfig wires a Coordinator. Passes inside a stage run
// concurrently; stages run in order so parents get server ids before children.
type CoordinatorConfig struct {
	Stages       [][]Pass
	Connectivity Signal
	Logger       *zap.Logger
}

// Coordinator runs full reconciliation whenever connectivity returns.
type Coordinator struct {
	stages [][]Pass
	signal Signal
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Connectivity == nil {
		return nil, errMissingSignal
	}
	if len(cfg.Stages) == 0 {
		return nil, errNoStages
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{stages: cfg.Stages, signal: cfg.Connectivity, logger: logger}, nil
}

// Start listens for reconnects until ctx ends or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return errAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	signals, cleanup := c.signal.Reconnected(runCtx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		defer cleanup()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-signals:
				c.logger.Info("connectivity restored, reconciling")
				c.SyncNow(runCtx)
			}
		}
	}()
	return nil
}

// Stop cancels the listener and waits for a running pass to return.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// SyncNow runs every stage once and returns the per-entity reports in stage order.
func (c *Coordinator) SyncNow(ctx context.Context) []Report {
	reports := make([]Report, 0, len(c.stages))
	for _, stage := range c.stages {
		stageReports := make([]Report, len(stage))
		group, groupCtx := errgroup.WithContext(ctx)
		for index, pass := range stage {
			group.Go(func() error {
				stageReports[index] = pass.Reconcile(groupCtx)
				return nil
			})
		}
		_ = group.Wait()
		reports = append(reports, stageReports...)
	}
	return reports
}
