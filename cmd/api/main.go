package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/emilythestrangee/chainblog/backend/internal/config"
	"github.com/emilythestrangee/chainblog/backend/internal/database"
	"github.com/emilythestrangee/chainblog/backend/internal/events"
	"github.com/emilythestrangee/chainblog/backend/internal/handlers"
	"github.com/emilythestrangee/chainblog/backend/internal/ipfs"
	"github.com/emilythestrangee/chainblog/backend/internal/ledger"
	"github.com/emilythestrangee/chainblog/backend/internal/logging"
	"github.com/emilythestrangee/chainblog/backend/internal/metrics"
	"github.com/emilythestrangee/chainblog/backend/internal/models"
	"github.com/emilythestrangee/chainblog/backend/internal/server"
)

func main() {
	// Booting screen
	fmt.Println(color.CyanString("  _____ _           _       ____  _\n / ____| |         (_)     |  _ \\| |\n| |    | |__   __ _ _ _ __ | |_) | | ___   __ _\n| |    | '_ \\ / _` | | '_ \\|  _ <| |/ _ \\ / _` |\n| |____| | | | (_| | | | | | |_) | | (_) | (_| |\n \\_____|_| |_|\\__,_|_|_| |_|____/|_|\\___/ \\__, |\n                                           __/ |\n                                          |___/"))
	fmt.Printf("%s\n", color.New(color.FgHiCyan).Add(color.Bold).Sprintf("ChainBlog API"))
	fmt.Printf("Posts pinned to IPFS, recorded on chain\n")
	color.HiBlack("=====================================================\n")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred when loading configuration.")
	}
	if err := logging.Init(cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Msg("An error occurred when configuring logging.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ledger
	client, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred when connecting to the ledger.")
	}
	defer closeLedger()

	// Upload store, optional
	var db database.Service
	var uploads ipfs.UploadStore
	var uploadStore handlers.UploadStore
	if cfg.DB.Enabled() {
		if db, err = database.New(cfg.DB.DSN()); err != nil {
			log.Fatal().Err(err).Msg("An error occurred when connecting to database.")
		}
		defer db.Close()
		uploads, uploadStore = db, db
	} else {
		log.Warn().Msg("DB_HOST not set, uploads will not be recorded.")
	}

	// IPFS
	pinata := ipfs.NewPinata(ipfs.PinataConfig{
		APIKey:    cfg.PinataAPIKey,
		APISecret: cfg.PinataAPISecret,
		BaseURL:   cfg.PinataBaseURL,
	})
	defer pinata.Close()

	resolver, err := ipfs.NewResolver(cfg.IPFSGateway, uploads)
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred when creating the metadata resolver.")
	}
	defer resolver.Close()

	// Events
	var publisher events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		if publisher, err = events.Connect(cfg.NATSURL); err != nil {
			log.Fatal().Err(err).Msg("An error occurred when connecting to nats.")
		}
	}
	defer publisher.Close()

	// Configure timed tasks
	quartz := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(&log.Logger)))
	if cfg.CacheWarmSchedule != "" {
		_, err := quartz.AddFunc(cfg.CacheWarmSchedule, func() { warmMetadata(ctx, client, resolver) })
		if err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.CacheWarmSchedule).Msg("Invalid CACHE_WARM_SCHEDULE.")
		}
	}
	quartz.Start()

	if db != nil {
		collector := &metrics.Collector{Uploads: db, Interval: 30 * time.Second}
		go func() {
			_ = collector.Run(ctx)
		}()
	}

	// Server
	srv := server.NewServer(cfg, db, handlers.Deps{
		Ledger:   client,
		Uploader: pinata,
		Uploads:  uploadStore,
		Resolver: resolver,
		Events:   publisher,
	})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("An error occurred when serving http.")
		}
	}()
	log.Info().Str("addr", srv.Addr).Msg("Server started, press Ctrl+C to stop")

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	<-quartz.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
}

// openLedger builds the ledger client for the configured mode. The server
// wallet is only needed for server-signed posts, so a missing key leaves
// the client read-only.
func openLedger(ctx context.Context, cfg *config.Config) (*ledger.Client, func(), error) {
	chainID := big.NewInt(cfg.ChainID)

	var contract ledger.Contract
	closeFn := func() {}
	switch cfg.LedgerMode {
	case config.LedgerMemory:
		contract = ledger.NewMemoryContract()
		log.Warn().Msg("Using the in-memory ledger, state is lost on restart.")
	default:
		eth, err := ledger.DialEthContract(ctx, cfg.RPCURL, common.HexToAddress(cfg.ContractAddress))
		if err != nil {
			return nil, nil, err
		}
		contract, closeFn = eth, eth.Close
	}

	opts := []ledger.Option{ledger.WithTimeout(cfg.LedgerTimeout)}
	switch {
	case cfg.PrivateKey != "":
		wallet, err := ledger.NewKeyWallet(cfg.PrivateKey, chainID)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		opts = append(opts, ledger.WithWallet(wallet))
	case cfg.LedgerMode == config.LedgerMemory:
		wallet, err := ledger.GenerateKeyWallet(chainID)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		opts = append(opts, ledger.WithWallet(wallet))
	}

	client := ledger.NewClient(contract, opts...)
	if account, err := client.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("No server wallet, server-signed posts are disabled.")
	} else {
		log.Info().Str("account", account.Hex()).Msg("Server wallet ready.")
	}
	return client, closeFn, nil
}

func warmMetadata(ctx context.Context, client *ledger.Client, resolver *ipfs.Resolver) {
	posts, err := client.GetPosts(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not list posts for metadata warmup")
		return
	}
	cids := lo.Uniq(lo.Map(posts, func(p models.Post, _ int) string { return p.ContentRef }))
	resolved := resolver.Warm(ctx, cids)
	log.Info().Int("posts", len(posts)).Int("resolved", resolved).Msg("Metadata cache warmed")
}
