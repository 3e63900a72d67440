package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gonkalabs/silent-protocol/internal/api"
	"github.com/gonkalabs/silent-protocol/internal/config"
	"github.com/gonkalabs/silent-protocol/internal/logging"
	"github.com/gonkalabs/silent-protocol/internal/metrics"
	"github.com/gonkalabs/silent-protocol/internal/sanitize"
	"github.com/gonkalabs/silent-protocol/internal/sanitize/llmclassifier"
	"github.com/gonkalabs/silent-protocol/internal/sanitize/ner"
	"github.com/gonkalabs/silent-protocol/internal/session"
	"github.com/gonkalabs/silent-protocol/internal/upstream"
	"github.com/gonkalabs/silent-protocol/internal/wallet"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $CONFIG_FILE)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

// run wires the pipeline, the session store and the upstream client into
// the HTTP server and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m := metrics.New()

	san := newSanitizer(ctx, cfg, logger)

	engineOpts := []sanitize.EngineOption{}
	if cfg.Sanitize.Seed != 0 {
		engineOpts = append(engineOpts, sanitize.WithSeed(cfg.Sanitize.Seed))
	}
	sessions := session.NewStore(
		session.WithTTL(cfg.Session.TTL),
		session.WithEngineOptions(engineOpts...),
		session.WithLogger(logger.Named("session")),
	)
	m.TrackSessions(sessions.Len)
	go sessions.Run(ctx, cfg.Session.SweepInterval)

	llm, err := newUpstream(ctx, cfg, m, logger)
	if err != nil {
		return err
	}

	srv, err := api.NewServer(api.Deps{
		Sanitizer: san,
		Sessions:  sessions,
		Upstream:  llm,
		Metrics:   m,
		Logger:    logger.Named("http"),
	}, api.Config{
		Addr:            cfg.Server.Addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		Model:           cfg.LLM.Model,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
		SanitizeEnabled: cfg.Sanitize.Enabled,
	})
	if err != nil {
		return err
	}
	go srv.LoadModels(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("silent-protocol started",
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("sanitize", cfg.Sanitize.Enabled),
		zap.Bool("ner", cfg.NER.Enabled),
		zap.Bool("intent", cfg.Intent.Enabled),
		zap.Int("endpoints", len(llm.Endpoints())),
	)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func newSanitizer(ctx context.Context, cfg *config.Config, logger *zap.Logger) *sanitize.Sanitizer {
	opts := []sanitize.Option{
		sanitize.WithThreshold(cfg.NER.Threshold),
		sanitize.WithDetectorBudget(cfg.Sanitize.DetectorBudget),
		sanitize.WithLogger(logger.Named("sanitize")),
	}

	if cfg.NER.Enabled {
		opts = append(opts, sanitize.WithDetectors(ner.New(cfg.NER.URL, cfg.NER.Threshold, logger.Named("ner"))))
		logger.Info("semantic detector enabled", zap.String("url", cfg.NER.URL))
	}

	if cfg.Intent.Enabled {
		ic := llmclassifier.New(cfg.Intent.URL, cfg.Intent.Model, cfg.Intent.Timeout, logger.Named("intent"))
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := ic.Ping(pingCtx); err != nil {
			logger.Warn("intent model not reachable, heuristic will be used until it is", zap.Error(err))
		}
		cancel()
		opts = append(opts, sanitize.WithIntentClassifier(ic))
		logger.Info("intent classifier enabled", zap.String("url", cfg.Intent.URL), zap.String("model", cfg.Intent.Model))
	}

	return sanitize.New(opts...)
}

// newUpstream builds the LLM client. Configured wallets switch it to signed
// requests, otherwise the API key is sent as a bearer token.
func newUpstream(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (*upstream.Client, error) {
	var auth upstream.Authorizer
	if cfg.LLM.APIKey != "" {
		auth = upstream.BearerAuth(cfg.LLM.APIKey)
	}

	walletCfgs, err := cfg.Gonka.WalletList()
	if err != nil {
		return nil, err
	}
	if len(walletCfgs) > 0 {
		var wallets []wallet.Wallet
		for i, wc := range walletCfgs {
			w, err := wallet.NewWallet(wc.PrivateKey, wc.Address, cfg.Gonka.HRP)
			if err != nil {
				return nil, fmt.Errorf("wallet %d: %w", i+1, err)
			}
			wallets = append(wallets, w)
		}
		pool, err := wallet.NewPool(wallets, logger.Named("wallet"))
		if err != nil {
			return nil, err
		}
		auth = pool
	}

	var endpoints []upstream.Endpoint
	for _, u := range cfg.LLM.EndpointList() {
		endpoints = append(endpoints, upstream.Endpoint{URL: u})
	}

	client := upstream.New(endpoints, auth,
		upstream.WithRateLimit(cfg.LLM.RateLimit, cfg.LLM.Burst),
		upstream.WithAttempts(cfg.LLM.Attempts),
		upstream.WithTimeout(cfg.LLM.Timeout),
		upstream.WithRecorder(m),
		upstream.WithLogger(logger.Named("upstream")),
	)

	if cfg.Gonka.SourceURL != "" {
		discoverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := client.DiscoverEndpoints(discoverCtx, cfg.Gonka.SourceURL, cfg.Gonka.AllowedNodeList()); err != nil {
			return nil, fmt.Errorf("endpoint discovery: %w", err)
		}
	}
	return client, nil
}
