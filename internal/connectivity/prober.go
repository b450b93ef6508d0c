package connectivity

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const defaultProbeInterval = 10 * time.Second

var (
	errMissingMonitor = errors.New("connectivity: monitor is required")
	errMissingCheck   = errors.New("connectivity: check is required")
)

// Checker reports whether the remote service can be reached.
type Checker interface {
	Health(ctx context.Context) error
}

// ProberConfig configures a Prober.
type ProberConfig struct {
	Monitor  *Monitor
	Checker  Checker
	Interval time.Duration
	Logger   *zap.Logger
}

// Prober polls a Checker and reports the result to a Monitor.
type Prober struct {
	monitor  *Monitor
	checker  Checker
	interval time.Duration
	logger   *zap.Logger
}

func NewProber(cfg ProberConfig) (*Prober, error) {
	if cfg.Monitor == nil {
		return nil, errMissingMonitor
	}
	if cfg.Checker == nil {
		return nil, errMissingCheck
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{monitor: cfg.Monitor, checker: cfg.Checker, interval: interval, logger: logger}, nil
}

// Run probes immediately and then once per interval until ctx ends.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.Probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Probe performs a single check and records its outcome.
func (p *Prober) Probe(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	err := p.checker.Health(checkCtx)
	if err != nil && ctx.Err() != nil {
		return p.monitor.Connected()
	}
	if err != nil {
		p.logger.Debug("remote unreachable", zap.Error(err))
	}
	p.monitor.Set(err == nil)
	return err == nil
}
