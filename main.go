package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"smartbch-indexer/chain"
	"smartbch-indexer/claims"
	"smartbch-indexer/config"
	"smartbch-indexer/database"
	"smartbch-indexer/indexer"
	"smartbch-indexer/logger"
	"smartbch-indexer/notify"
	"smartbch-indexer/queue"
	"smartbch-indexer/server"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type jobQueue interface {
	queue.Enqueuer
	queue.Consumer
}

func main() {
	flag.Parse()

	cfg, err := config.BuildConfig()
	if err != nil {
		fmt.Println("Config error: ", err)
		return
	}
	config.GlobalConfigCallback.Call(cfg)
	logger.Info("Running with configuration: chain: %s, database: %s, queue: %s", cfg.Chain.NodeURL, cfg.DB.Database, cfg.Queue.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectAndInitialize(ctx, &cfg.DB)
	if err != nil {
		fmt.Println("Database connect and initialize error: ", err)
		return
	}

	if err := run(ctx, cfg, db); err != nil {
		fmt.Println("Run error: ", err)
		return
	}
	logger.Info("Indexer stopped")
}

// run wires the pipeline on top of an initialized database and blocks until
// ctx is cancelled or a component fails.
func run(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	store := database.NewStore(db)

	registry, q, err := newCoordination(cfg)
	if err != nil {
		return err
	}

	chainType, err := chain.ParseChainType(cfg.Chain.ChainType)
	if err != nil {
		return err
	}
	nodeURL, err := url.Parse(cfg.Chain.NodeURL)
	if err != nil {
		return errors.Wrap(err, "invalid chain node_url")
	}
	client, err := chain.DialRPCNode(nodeURL, chainType)
	if err != nil {
		return errors.Wrap(err, "chain node dial")
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		return errors.Wrap(err, "chain id")
	}
	if chainID := chain.ChainIDFromBigInt(id); !chainID.IsSmartBCH() {
		logger.Warn("Chain id %d is not a smartBCH network", chainID)
	} else {
		logger.Info("Connected to smartBCH chain %d", chainID)
	}

	reader := chain.NewReader(client, cfg.Chain)
	sender := notify.NewWebhookSender(cfg.Notifications)
	ix := indexer.New(cfg, store, reader, registry, q, sender)

	mux := queue.NewMux()
	ix.Register(mux)
	worker := queue.NewWorker(q, mux, cfg.Queue.Workers)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(ctx)
	})
	if cfg.Indexer.RunScheduler {
		g.Go(func() error {
			return ix.RunScheduler(ctx)
		})
	}
	if cfg.Server.ListenAddress != "" {
		srv := server.New(cfg.Server, q, store)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	return g.Wait()
}

// newCoordination picks the claim registry and job queue for the configured
// backend. The local backend only serves a single process.
func newCoordination(cfg *config.Config) (claims.Registry, jobQueue, error) {
	if cfg.Queue.Backend == config.QueueBackendLocal {
		return claims.NewMemoryRegistry(), queue.NewLocalQueue(cfg.Queue.PollTimeout()), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, nil, errors.Wrapf(err, "redis ping %s", cfg.Redis.Address)
	}

	registry := claims.NewRedisRegistry(rdb, cfg.Redis.KeyPrefix, cfg.Redis.ClaimTTL())
	q := queue.NewRedisQueue(rdb, cfg.Redis.KeyPrefix, cfg.Queue.PollTimeout())
	return registry, q, nil
}
