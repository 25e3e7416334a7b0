package node

import (
	"context"
	"sync"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/axiomesh/govledger/api"
	"github.com/axiomesh/govledger/balances"
	"github.com/axiomesh/govledger/core"
	"github.com/axiomesh/govledger/event"
	"github.com/axiomesh/govledger/repo"
	"github.com/axiomesh/govledger/storage"
)

const EventChanMaxSize = 1000

// Node wires storage, balances, clock, event bus, engine and API together.
type Node struct {
	Ctx      context.Context
	Config   *repo.Config
	Logger   *logrus.Logger
	DB       storage.Store
	Ledger   *balances.Ledger
	Engine   *core.Engine
	Bus      *event.Bus
	Registry *prometheus.Registry
	Admin    core.AccountID

	// BlockClock is set in block clock mode
	BlockClock *core.BlockClock

	cancel      context.CancelFunc
	api         *api.Server
	eventChan   chan event.Event
	unsubscribe func()
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

func New(ctx context.Context, config *repo.Config) (*Node, error) {
	logger := log.New()
	logger.SetLevel(log.ParseLevel(config.Log.Level))

	admin, err := config.AdminAccount()
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(config.Storage.Type, config.StorageDir(), config.Storage.OpenRetries, logger.WithField("module", "storage"))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	n := &Node{
		Ctx:       ctx,
		Config:    config,
		Logger:    logger,
		DB:        db,
		Registry:  prometheus.NewRegistry(),
		Admin:     admin,
		cancel:    cancel,
		eventChan: make(chan event.Event, EventChanMaxSize),
	}
	n.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var clock core.Clock = core.WallClock{}
	if config.Clock.Mode == repo.ClockModeBlock {
		n.BlockClock, err = core.NewBlockClock(ctx, db)
		if err != nil {
			cancel()
			_ = db.Close()
			return nil, errors.Wrap(err, "load block height")
		}
		clock = n.BlockClock
	}

	n.Ledger = balances.New(db, logger.WithField("module", "balances"))
	n.Bus = event.NewBus(n.Registry, logger.WithField("module", "event"))
	n.Engine = core.NewEngine(db, n.Ledger, clock, config.EngineConfig(),
		core.WithLogger(logger.WithField("module", "governance")),
		core.WithEventSink(event.NewGovernanceSink(n.Bus)),
		core.WithMetrics(n.Registry),
	)
	if config.API.Enable {
		n.api = api.NewServer(n.Engine, n.Ledger, api.Config{
			Listen:     config.API.Listen,
			AdminToken: config.API.AdminToken,
		}, n.Registry, logger.WithField("module", "api"))
	}
	return n, nil
}

// Origin resolves an account to the origin it dispatches with: the
// configured admin carries root authority.
func (n *Node) Origin(who core.AccountID) core.Origin {
	if who == n.Admin {
		return core.Root()
	}
	return core.Signed(who)
}

func (n *Node) Start() error {
	n.unsubscribe = n.Bus.SubscribeGovernance(func(evt event.Event) {
		select {
		case n.eventChan <- evt:
		default:
			n.Logger.Warnf("event channel full, dropping %s", evt.Type)
		}
	})

	n.wg.Add(1)
	go n.listenEvents()

	if n.BlockClock != nil {
		n.wg.Add(1)
		go n.produceBlocks()
	}

	if n.api != nil {
		if err := n.api.Start(); err != nil {
			return err
		}
	}
	return nil
}

// APIAddr is the address the API is bound to, empty when disabled.
func (n *Node) APIAddr() string {
	if n.api == nil {
		return ""
	}
	return n.api.Addr()
}

func (n *Node) listenEvents() {
	defer n.wg.Done()
	n.Logger.Info("listen events")

	for {
		select {
		case <-n.Ctx.Done():
			n.Logger.Info("context done")
			return
		case evt := <-n.eventChan:
			n.Logger.WithField("type", evt.Type).Infof("governance event: %+v", evt.Data)
		}
	}
}

func (n *Node) produceBlocks() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.Config.Clock.BlockInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.Ctx.Done():
			return
		case <-ticker.C:
			height, err := n.BlockClock.Advance(n.Ctx, 1)
			if err != nil {
				n.Logger.Errorf("advance block height: %s", err)
				continue
			}
			n.Logger.Debugf("block height %d", height)
		}
	}
}

func (n *Node) Stop() error {
	var err error
	n.stopOnce.Do(func() {
		if n.api != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if e := n.api.Stop(ctx); e != nil {
				err = errors.Wrap(e, "stop api")
			}
			cancel()
		}
		if n.unsubscribe != nil {
			n.unsubscribe()
		}
		n.cancel()
		n.wg.Wait()
		n.Bus.Stop()
		if e := n.DB.Close(); e != nil && err == nil {
			err = errors.Wrap(e, "close storage")
		}
	})
	return err
}
