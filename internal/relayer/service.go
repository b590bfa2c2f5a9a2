// Package relayer wires the cross-chain HTLC relayer's components (C1-C9)
// into a single Service, constructed and torn down in dependency order the
// way the teacher's cmd/klingond/main.go builds its daemon: storage, then
// chain clients, then the coordinator, then the surfaces that sit on top.
package relayer

import (
	"context"
	"fmt"

	"github.com/klingon-tech/htlc-relayer/internal/adminapi"
	"github.com/klingon-tech/htlc-relayer/internal/cache"
	"github.com/klingon-tech/htlc-relayer/internal/config"
	"github.com/klingon-tech/htlc-relayer/internal/coordinator"
	"github.com/klingon-tech/htlc-relayer/internal/eventbus"
	"github.com/klingon-tech/htlc-relayer/internal/evmchain"
	"github.com/klingon-tech/htlc-relayer/internal/executor"
	"github.com/klingon-tech/htlc-relayer/internal/health"
	"github.com/klingon-tech/htlc-relayer/internal/movechain"
	"github.com/klingon-tech/htlc-relayer/internal/pushhub"
	"github.com/klingon-tech/htlc-relayer/internal/signer"
	"github.com/klingon-tech/htlc-relayer/internal/storage"
	"github.com/klingon-tech/htlc-relayer/pkg/logging"
)

// Service owns every long-lived component of the relayer and their
// lifecycle.
type Service struct {
	cfg *config.Config
	log *logging.Logger

	store *storage.Storage
	cache *cache.Cache
	bus   *eventbus.Bus

	evmClient  *evmchain.Client
	moveClient *movechain.Client

	evmObserver  *evmchain.Observer
	moveObserver *movechain.Observer

	executor    *executor.Executor
	coordinator *coordinator.Coordinator
	hub         *pushhub.Hub
	health      *health.Reporter
	admin       *adminapi.Server
}

// New constructs every component without starting any background work;
// call Start to begin observing chains and serving traffic.
func New(cfg *config.Config) (*Service, error) {
	log := logging.GetDefault().Component("relayer")

	store, err := storage.New(&storage.Config{DataDir: cfg.Store.DataDir})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	hotCache := cache.New(cache.Config{Capacity: cfg.Cache.Capacity})

	bus := eventbus.New(int(cfg.Monitoring.BatchSize))

	evmClient, err := evmchain.NewClient(context.Background(), evmchain.Config{
		RPCURL:        cfg.EVM.RPCURL,
		HTLCAddress:   cfg.EVM.HTLCAddress,
		ChainID:       cfg.EVM.ChainID,
		Confirmations: cfg.EVM.Confirmations,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init evm client: %w", err)
	}

	moveClient := movechain.NewClient(movechain.Config{
		RPCURL:    cfg.Move.RPCURL,
		PackageID: cfg.Move.PackageID,
	})

	evmKey, err := signer.EVMKey(cfg.EVM.SignerSeed, "", 0, 0)
	if err != nil {
		evmClient.Close()
		store.Close()
		return nil, fmt.Errorf("derive evm signing key: %w", err)
	}

	moveKey, err := signer.MoveKey(cfg.Move.SignerSeed, "", 0, 0)
	if err != nil {
		evmClient.Close()
		store.Close()
		return nil, fmt.Errorf("derive move signing key: %w", err)
	}
	moveWallet := signer.NewMoveWallet(moveKey, cfg.Move.PackageID, "")

	exec := executor.New(executor.Config{
		EVMClient:  evmClient,
		EVMKey:     evmKey,
		MoveClient: moveClient,
		MoveSigner: moveWallet,
	})

	hub := pushhub.NewHub(store, pushhub.Config{
		Heartbeat:   cfg.Push.Heartbeat,
		IdleTimeout: cfg.Push.IdleTimeout,
	})

	coord := coordinator.New(coordinator.Config{
		Source:      bus,
		Repo:        store,
		Executor:    exec,
		Cache:       hotCache,
		Notifier:    hub,
		MaxTimelock: cfg.Expiry.MaxTimelock,
		SweepEvery:  cfg.Expiry.SweepInterval,
	})

	evmObserver := evmchain.NewObserver(evmClient, bus, evmchain.ObserverConfig{
		Confirmations:  cfg.EVM.Confirmations,
		PollInterval:   cfg.Monitoring.PollInterval,
		StartBlock:     cfg.EVM.StartBlock,
		BatchSize:      cfg.Monitoring.BatchSize,
		BackfillBlocks: cfg.Monitoring.BackfillBlocks,
	})

	moveObserver := movechain.NewObserver(moveClient, bus, movechain.ObserverConfig{
		PollInterval: cfg.Monitoring.PollInterval,
	})

	reporter := health.New(store, hub, store, evmTipAdapter{evmClient}, moveTipAdapter{moveClient})
	admin := adminapi.New(store, reporter)

	return &Service{
		cfg:          cfg,
		log:          log,
		store:        store,
		cache:        hotCache,
		bus:          bus,
		evmClient:    evmClient,
		moveClient:   moveClient,
		evmObserver:  evmObserver,
		moveObserver: moveObserver,
		executor:     exec,
		coordinator:  coord,
		hub:          hub,
		health:       reporter,
		admin:        admin,
	}, nil
}

// Start launches every background component: observers, coordinator,
// push-hub event loop, and the admin HTTP surface, in that order. Events the
// observers publish before the coordinator is consuming wait in the event
// bus's buffered channels.
func (s *Service) Start() error {
	s.evmObserver.Start(s.store)
	s.moveObserver.Start(s.store)
	s.coordinator.Start()
	go s.hub.Run()

	if err := s.admin.Start(s.cfg.Admin.ListenAddr); err != nil {
		return fmt.Errorf("start admin api: %w", err)
	}

	s.log.Info("relayer started",
		"evm_rpc", s.cfg.EVM.RPCURL,
		"move_rpc", s.cfg.Move.RPCURL,
		"admin_addr", s.cfg.Admin.ListenAddr)
	return nil
}

// PushHub exposes the push hub so cmd/relayerd can mount its ServeHTTP on
// the public WebSocket listener.
func (s *Service) PushHub() *pushhub.Hub {
	return s.hub
}

// Stop shuts every component down in reverse dependency order, closing
// the store last so anything still flushing during shutdown still has
// somewhere to write.
func (s *Service) Stop() {
	if err := s.admin.Stop(); err != nil {
		s.log.Warn("admin api shutdown error", "error", err)
	}
	s.hub.Close()
	s.coordinator.Stop()
	s.evmObserver.Stop()
	s.moveObserver.Stop()
	s.bus.Close()
	s.evmClient.Close()

	if err := s.store.Close(); err != nil {
		s.log.Warn("storage close error", "error", err)
	}
	s.log.Info("relayer stopped")
}

// evmTipAdapter adapts *evmchain.Client to health.ChainTip.
type evmTipAdapter struct{ client *evmchain.Client }

func (a evmTipAdapter) Tip(ctx context.Context) (uint64, error) {
	return a.client.LatestBlock(ctx)
}

// moveTipAdapter adapts *movechain.Client to health.ChainTip.
type moveTipAdapter struct{ client *movechain.Client }

func (a moveTipAdapter) Tip(ctx context.Context) (uint64, error) {
	return a.client.LatestCheckpoint(ctx)
}
