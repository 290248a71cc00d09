// Package app assembles the ledger service from configuration for the
// command-line entry points.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/taxledger/internal/archive"
	"github.com/dvloznov/taxledger/internal/cache"
	"github.com/dvloznov/taxledger/internal/classify"
	"github.com/dvloznov/taxledger/internal/config"
	"github.com/dvloznov/taxledger/internal/crypto"
	"github.com/dvloznov/taxledger/internal/jobs"
	jobsinmem "github.com/dvloznov/taxledger/internal/jobs/inmemory"
	"github.com/dvloznov/taxledger/internal/kv"
	kvinmem "github.com/dvloznov/taxledger/internal/kv/inmemory"
	kvredis "github.com/dvloznov/taxledger/internal/kv/redis"
	"github.com/dvloznov/taxledger/internal/ledger"
	"github.com/dvloznov/taxledger/internal/oracle"
	"github.com/dvloznov/taxledger/internal/pipeline"
)

// App holds the wired components and the resources to release on Close.
type App struct {
	Config  *config.Config
	Ledger  *ledger.Store
	Service *pipeline.Service
	// Jobs is nil when archiving is disabled.
	Jobs jobs.JobStore

	queue   *jobsinmem.Queue
	closers []func() error
	log     zerolog.Logger
}

// Options overrides collaborators, mainly for tests.
type Options struct {
	// Oracle replaces the Gemini client when set.
	Oracle oracle.Oracle
	// KV replaces the store selected by the redis config when set.
	KV kv.Store
}

// New builds every component from cfg. Without a redis address the ledger
// lives in process memory; without archive settings no audit trail is kept.
func New(ctx context.Context, cfg *config.Config, opts Options, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}

	box, err := newBox(cfg.Crypto, log)
	if err != nil {
		return nil, err
	}

	store := opts.KV
	if store == nil {
		store, err = newKV(ctx, cfg.Redis, log)
		if err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, store.Close)

	rules, err := loadRules(cfg.Rules)
	if err != nil {
		a.Close()
		return nil, err
	}

	or := opts.Oracle
	if or == nil {
		or, err = oracle.NewGemini(ctx, oracle.GeminiOptions{
			Model:      cfg.Oracle.Model,
			APIVersion: cfg.Oracle.APIVersion,
		}, log)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	var publisher jobs.Publisher
	if cfg.Archive.Enabled() {
		publisher, err = a.startArchive(ctx, cfg.Archive)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Ledger = ledger.NewStore(store, box, ledger.Options{
		TTL:        cfg.Session.TTL,
		GuestToken: cfg.Session.GuestToken,
		KeyPrefix:  cfg.Session.KeyPrefix,
	}, log)

	a.Service = pipeline.NewService(pipeline.Deps{
		Ledger:     a.Ledger,
		Cache:      cache.New(store, cache.Options{TTL: cfg.Cache.TTL, Prefix: cfg.Cache.KeyPrefix}, log),
		Classifier: classify.New(rules),
		Oracle:     or,
		Box:        box,
		Publisher:  publisher,
	}, pipeline.Options{
		ExtractionMaxTokens: cfg.Oracle.ExtractionMaxToken,
		AnalysisMaxTokens:   cfg.Oracle.AnalysisMaxToken,
		PublishTimeout:      cfg.Archive.PublishTimeout,
	}, log)

	return a, nil
}

func newBox(cfg config.CryptoConfig, log zerolog.Logger) (*crypto.Box, error) {
	key, iv := cfg.Key, cfg.IV
	if key == "" {
		var err error
		key, iv, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate ledger key: %w", err)
		}
		log.Warn().Msg("No crypto.key configured, using a random key; stored ledgers become unreadable after restart")
	}
	box, err := crypto.NewBoxFromBase64(key, iv)
	if err != nil {
		return nil, fmt.Errorf("init crypto box: %w", err)
	}
	return box, nil
}

func newKV(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (kv.Store, error) {
	if cfg.Addr == "" {
		log.Warn().Msg("No redis.addr configured, using in-memory store")
		return kvinmem.NewStore(), nil
	}
	store, err := kvredis.NewStore(ctx, kvredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", cfg.Addr).Msg("Connected to redis")
	return store, nil
}

func loadRules(cfg config.RulesConfig) (*classify.Rules, error) {
	if cfg.Path == "" {
		return classify.DefaultRules()
	}
	return classify.LoadRules(cfg.Path)
}

// startArchive opens the configured sinks and starts the job workers.
func (a *App) startArchive(ctx context.Context, cfg config.ArchiveConfig) (jobs.Publisher, error) {
	var (
		recorder archive.Recorder
		blobs    archive.BlobStore
	)
	if cfg.ProjectID != "" {
		bq, err := archive.NewBigQueryRecorder(ctx, cfg.ProjectID, cfg.Dataset, cfg.Table, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, bq.Close)
		recorder = bq
	}
	if cfg.Bucket != "" {
		gcs, err := archive.NewGCSStore(ctx, cfg.Bucket, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gcs.Close)
		blobs = gcs
	}

	store := jobsinmem.NewStore()
	queue := jobsinmem.NewQueue(jobsinmem.QueueOptions{
		BufferSize: cfg.QueueSize,
		Workers:    cfg.Workers,
	}, store, a.log)

	// Workers outlive the caller's context; Close stops them.
	if err := queue.Start(context.WithoutCancel(ctx), archive.NewArchiver(recorder, blobs, a.log).Handler()); err != nil {
		return nil, err
	}
	a.queue = queue
	a.Jobs = store

	a.log.Info().
		Str("bucket", cfg.Bucket).
		Str("project", cfg.ProjectID).
		Int("workers", cfg.Workers).
		Msg("Archive enabled")
	return queue, nil
}

// Shutdown drains the archive queue within ctx and releases connections.
func (a *App) Shutdown(ctx context.Context) error {
	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.log.Error().Err(err).Msg("Error stopping archive queue")
		}
	}
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// Close is Shutdown without a deadline.
func (a *App) Close() error {
	return a.Shutdown(context.Background())
}
