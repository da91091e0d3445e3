package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/cascoin-org/wcas-bridge/config"
	"github.com/cascoin-org/wcas-bridge/internal/executor"
	"github.com/cascoin-org/wcas-bridge/internal/watcher"
	"github.com/cascoin-org/wcas-bridge/pkg/clients/cascoin"
	"github.com/cascoin-org/wcas-bridge/pkg/clients/polygon"
	"github.com/cascoin-org/wcas-bridge/pkg/db"
	"github.com/cascoin-org/wcas-bridge/pkg/events"
	"github.com/cascoin-org/wcas-bridge/pkg/wallet"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const COMPONENT_NAME = "BridgeService"

// CascoinNode is the slice of the Cascoin client the operations layer needs.
type CascoinNode interface {
	GetNewAddress(label string) (string, error)
	ValidateAddress(address string) error
}

// ChainTrigger starts chain side effects for records the operations layer
// re-arms or retries.
type ChainTrigger interface {
	Mint(ctx context.Context, req executor.MintRequest) (string, error)
	Release(ctx context.Context, req executor.ReleaseRequest) (string, error)
}

// Service owns the full bridge runtime: both chain watchers, the executor
// behind them, and the operations surface callers use to create and inspect
// bridge records.
type Service struct {
	config      *config.Config
	dbAdapter   *db.DatabaseAdapter
	cascoinNode CascoinNode
	trigger     ChainTrigger
	hdWallet    *wallet.HDWallet
	eventBus    *events.EventBus
	validate    *validator.Validate
	pollers     []*watcher.Poller
	probes      []func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	dbAdapter, err := db.NewDatabaseAdapter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up database adapter: %w", err)
	}
	cascoinClient, err := cascoin.NewClient(&cfg.Cascoin)
	if err != nil {
		return nil, fmt.Errorf("failed to set up cascoin client: %w", err)
	}
	polygonClient, err := polygon.NewClient(ctx, &cfg.Polygon)
	if err != nil {
		return nil, fmt.Errorf("failed to set up polygon client: %w", err)
	}

	var hdWallet *wallet.HDWallet
	if cfg.Sponsor.Mnemonic != "" {
		hdWallet, err = wallet.NewHDWallet(cfg.Sponsor.Mnemonic)
		if err != nil {
			return nil, fmt.Errorf("failed to set up sponsor wallet: %w", err)
		}
	}

	eventBus := events.NewEventBus()
	exec := executor.NewExecutor(dbAdapter, polygonClient, cascoinClient, hdWallet, eventBus)
	cascoinWatcher := watcher.NewCascoinWatcher(dbAdapter, cascoinClient, exec, eventBus, cfg.Cascoin.RequiredConfirmations)
	polygonWatcher := watcher.NewPolygonWatcher(dbAdapter, polygonClient, exec, eventBus,
		cfg.Polygon.RequiredConfirmations, cfg.Polygon.StartBlock, cfg.Intention.TTL, cfg.Sponsor.TTL)

	return &Service{
		config:      cfg,
		dbAdapter:   dbAdapter,
		cascoinNode: cascoinClient,
		trigger:     exec,
		hdWallet:    hdWallet,
		eventBus:    eventBus,
		validate:    validator.New(),
		pollers: []*watcher.Poller{
			watcher.NewPoller("cascoin", cfg.Cascoin.PollInterval, cascoinWatcher.RunCycle),
			watcher.NewPoller("polygon", cfg.Polygon.PollInterval, polygonWatcher.RunCycle),
		},
		probes: []func(){
			cascoinClient.ProbeConnection,
			func() { probePolygon(ctx, polygonClient) },
		},
	}, nil
}

func probePolygon(ctx context.Context, client *polygon.Client) {
	head, err := client.BlockNumber(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("[BridgeService] [Probe] cannot reach polygon rpc")
		return
	}
	log.Info().Uint64("head", head).Uint8("decimals", client.Decimals()).
		Msg("[BridgeService] [Probe] connected to polygon rpc")
}

// Start probes both chains and launches the watcher loops. It returns
// immediately; the loops run until Stop.
func (s *Service) Start(ctx context.Context) {
	for _, probe := range s.probes {
		probe()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, poller := range s.pollers {
		s.wg.Add(1)
		go func(p *watcher.Poller) {
			defer s.wg.Done()
			p.Run(runCtx)
		}(poller)
	}
	log.Info().Msg("[BridgeService] [Start] bridge service started")
}

// Stop cancels the watcher loops and waits for in-flight cycles to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Info().Msg("[BridgeService] [Stop] bridge service stopped")
}

// Subscribe exposes the status event stream for one entity kind.
func (s *Service) Subscribe(entity string) <-chan events.StatusEvent {
	return s.eventBus.Subscribe(entity)
}

func (s *Service) sponsorGasAmount() decimal.Decimal {
	return decimal.NewFromFloat(s.config.Sponsor.GasAmount)
}
