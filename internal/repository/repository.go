package repository

import (
	"context"

	"github.com/MarcoPoloResearchLab/prestapp/internal/lending"
	"github.com/MarcoPoloResearchLab/prestapp/internal/store"
	"github.com/MarcoPoloResearchLab/prestapp/internal/syncengine"
	"go.uber.org/zap"
)

// ClientLookup finds a client on the remote service by national id.
type ClientLookup interface {
	FindByCedula(ctx context.Context, cedula string) (lending.Client, error)
}

// Reconciler runs a full reconciliation on demand.
type Reconciler interface {
	SyncNow(ctx context.Context) []syncengine.Report
}

// Config describes the dependencies of the command layer.
type Config struct {
	Store        *store.Store
	Connectivity Connectivity
	Keys         store.KeyProvider
	Routes       RowSyncer
	Clients      RowSyncer
	Loans        RowSyncer
	Payments     RowSyncer
	ClientLookup ClientLookup
	Reconciler   Reconciler
	Logger       *zap.Logger
}

// Repositories is the command layer over the four entities.
type Repositories struct {
	Routes   *RouteRepository
	Clients  *ClientRepository
	Loans    *LoanRepository
	Payments *PaymentRepository

	online     Connectivity
	reconciler Reconciler
}

func New(cfg Config) (*Repositories, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Connectivity == nil {
		return nil, errMissingConnectivity
	}
	if cfg.Routes == nil || cfg.Clients == nil || cfg.Loans == nil || cfg.Payments == nil {
		return nil, errMissingSyncer
	}
	keys := cfg.Keys
	if keys == nil {
		keys = store.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	routes := &commands[store.RouteRecord]{
		table: cfg.Store.Routes, changes: cfg.Store.Changes(), syncer: cfg.Routes,
		online: cfg.Connectivity, keys: keys, logger: logger.Named("routes"),
	}
	clients := &commands[store.ClientRecord]{
		table: cfg.Store.Clients, changes: cfg.Store.Changes(), syncer: cfg.Clients,
		online: cfg.Connectivity, keys: keys, logger: logger.Named("clients"),
	}
	loans := &commands[store.LoanRecord]{
		table: cfg.Store.Loans, changes: cfg.Store.Changes(), syncer: cfg.Loans,
		online: cfg.Connectivity, keys: keys, logger: logger.Named("loans"),
	}
	payments := &commands[store.PaymentRecord]{
		table: cfg.Store.Payments, changes: cfg.Store.Changes(), syncer: cfg.Payments,
		online: cfg.Connectivity, keys: keys, logger: logger.Named("payments"),
	}

	return &Repositories{
		Routes:     &RouteRepository{commands: routes},
		Clients:    &ClientRepository{commands: clients, lookup: cfg.ClientLookup},
		Loans:      &LoanRepository{commands: loans, clients: cfg.Store.Clients},
		Payments:   &PaymentRepository{commands: payments, store: cfg.Store},
		online:     cfg.Connectivity,
		reconciler: cfg.Reconciler,
	}, nil
}

// Connected exposes the connectivity signal to callers.
func (r *Repositories) Connected() bool {
	return r.online.Connected()
}

// SyncNow triggers a full reconciliation. Without a reconciler it does nothing.
func (r *Repositories) SyncNow(ctx context.Context) []syncengine.Report {
	if r.reconciler == nil {
		return nil
	}
	return r.reconciler.SyncNow(ctx)
}
