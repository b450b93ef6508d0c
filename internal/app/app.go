package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/prestapp/internal/connectivity"
	"github.com/MarcoPoloResearchLab/prestapp/internal/remote"
	"github.com/MarcoPoloResearchLab/prestapp/internal/repository"
	"github.com/MarcoPoloResearchLab/prestapp/internal/store"
	"github.com/MarcoPoloResearchLab/prestapp/internal/syncengine"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("app: database connection required")

// Options configures the sync client.
type Options struct {
	Database      *gorm.DB
	RemoteBaseURL string
	RemoteToken   string
	RemoteTimeout time.Duration
	ProbeInterval time.Duration
	// HTTPClient overrides the transport used to reach the remote service.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// App is the wired offline-first client: local store, sync engines,
// connectivity and the command layer on top.
type App struct {
	Store        *store.Store
	Remote       *remote.Client
	Monitor      *connectivity.Monitor
	Prober       *connectivity.Prober
	Coordinator  *syncengine.Coordinator
	Repositories *repository.Repositories

	logger *zap.Logger
}

// New builds the object graph. Nothing runs until Start or RunProber.
func New(opts Options) (*App, error) {
	if opts.Database == nil {
		return nil, errMissingDatabase
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	localStore, err := store.New(opts.Database, store.NewChangeFeed())
	if err != nil {
		return nil, err
	}

	client, err := remote.NewClient(remote.Config{
		BaseURL:    opts.RemoteBaseURL,
		Token:      opts.RemoteToken,
		Timeout:    opts.RemoteTimeout,
		HTTPClient: opts.HTTPClient,
		Logger:     logger.Named("remote"),
	})
	if err != nil {
		return nil, err
	}

	monitor := connectivity.NewMonitor(logger.Named("connectivity"))
	prober, err := connectivity.NewProber(connectivity.ProberConfig{
		Monitor:  monitor,
		Checker:  client,
		Interval: opts.ProbeInterval,
		Logger:   logger.Named("connectivity"),
	})
	if err != nil {
		return nil, err
	}

	routes, err := syncengine.New(syncengine.Config[store.RouteRecord]{
		Entity:   localStore.Routes.Name(),
		Local:    localStore.Routes,
		Remote:   routeAdapter(client),
		Resolver: routesByName(client.Routes()),
		Logger:   logger.Named("sync.routes"),
	})
	if err != nil {
		return nil, err
	}
	clients, err := syncengine.New(syncengine.Config[store.ClientRecord]{
		Entity:   localStore.Clients.Name(),
		Local:    localStore.Clients,
		Remote:   clientAdapter(client),
		Resolver: clientsByCedula(client.Clients()),
		Logger:   logger.Named("sync.clients"),
	})
	if err != nil {
		return nil, err
	}
	loans, err := syncengine.New(syncengine.Config[store.LoanRecord]{
		Entity:  localStore.Loans.Name(),
		Local:   localStore.Loans,
		Remote:  loanAdapter(client),
		Prepare: linkLoanClient(localStore.Clients),
		Logger:  logger.Named("sync.loans"),
	})
	if err != nil {
		return nil, err
	}
	payments, err := syncengine.New(syncengine.Config[store.PaymentRecord]{
		Entity:           localStore.Payments.Name(),
		Local:            localStore.Payments,
		Remote:           paymentAdapter(client),
		SkipBatchDeletes: true,
		Logger:           logger.Named("sync.payments"),
	})
	if err != nil {
		return nil, err
	}

	// Parents sync before children so foreign keys carry server ids.
	coordinator, err := syncengine.NewCoordinator(syncengine.CoordinatorConfig{
		Stages: [][]syncengine.Pass{
			{routes, clients},
			{loans},
			{payments},
		},
		Connectivity: monitor,
		Logger:       logger.Named("sync"),
	})
	if err != nil {
		return nil, err
	}

	repositories, err := repository.New(repository.Config{
		Store:        localStore,
		Connectivity: monitor,
		Routes:       routes,
		Clients:      clients,
		Loans:        loans,
		Payments:     payments,
		ClientLookup: client.Clients(),
		Reconciler:   coordinator,
		Logger:       logger.Named("repository"),
	})
	if err != nil {
		return nil, err
	}

	return &App{
		Store:        localStore,
		Remote:       client,
		Monitor:      monitor,
		Prober:       prober,
		Coordinator:  coordinator,
		Repositories: repositories,
		logger:       logger,
	}, nil
}

// Start begins reconciling on every reconnect.
func (a *App) Start(ctx context.Context) error {
	return a.Coordinator.Start(ctx)
}

// RunProber drives the connectivity monitor from remote health checks until ctx ends.
func (a *App) RunProber(ctx context.Context) {
	a.Prober.Run(ctx)
}

// Stop waits for a running reconciliation to finish.
func (a *App) Stop() {
	a.Coordinator.Stop()
}

// SyncNow runs one full reconciliation and logs what is still outstanding.
func (a *App) SyncNow(ctx context.Context) []syncengine.Report {
	reports := a.Coordinator.SyncNow(ctx)
	for _, report := range reports {
		if report.Remaining() > 0 {
			a.logger.Info("rows still pending after sync",
				zap.String("entity", report.Entity),
				zap.Int("remaining", report.Remaining()))
		}
	}
	return reports
}
