// Feedrank - Feed Ranking and Ad Decisioning Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedrank

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedrank/internal/ads"
	"github.com/tomtom215/feedrank/internal/api"
	"github.com/tomtom215/feedrank/internal/badgerdb"
	"github.com/tomtom215/feedrank/internal/bandit"
	"github.com/tomtom215/feedrank/internal/cache"
	"github.com/tomtom215/feedrank/internal/causal"
	"github.com/tomtom215/feedrank/internal/config"
	"github.com/tomtom215/feedrank/internal/eventlog"
	"github.com/tomtom215/feedrank/internal/features"
	"github.com/tomtom215/feedrank/internal/feed"
	"github.com/tomtom215/feedrank/internal/logging"
	"github.com/tomtom215/feedrank/internal/recommend"
	"github.com/tomtom215/feedrank/internal/recommend/generators"
	"github.com/tomtom215/feedrank/internal/recommend/reranking"
	"github.com/tomtom215/feedrank/internal/resilience"
	"github.com/tomtom215/feedrank/internal/serving"
	"github.com/tomtom215/feedrank/internal/supervisor"
	"github.com/tomtom215/feedrank/internal/supervisor/services"
)

// natsReconnectWait is the pause between NATS reconnect attempts.
const natsReconnectWait = 2 * time.Second

// app holds every engine component built from the configuration.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	db        *badger.DB
	memStore  *cache.MemoryStore
	cache     *cache.InferenceCache
	features  *features.FeatureStore
	orch      *serving.Orchestrator
	monitor   *serving.Monitor
	events    *eventlog.Logger
	catalog   *recommend.Catalog
	trending  *generators.Trending
	recommend *recommend.Engine
	pacing    *ads.PacingController
	frequency *ads.FrequencyManager
	inventory *ads.Inventory
	bandit    *bandit.Engine
	causal    *causal.Engine
	auction   *ads.AuctionEngine
	feed      *feed.Service
	handler   http.Handler

	// closers release external resources in reverse order of acquisition.
	closers []func() error
}

// buildApp wires the engine. On error every resource acquired so far is released.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"storage", a.initStorage},
		{"events", a.initEvents},
		{"serving", a.initServing},
		{"recommend", a.initRecommend},
		{"ads", a.initAds},
		{"feed", a.initFeed},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			if rerr := a.releaseResources(); rerr != nil {
				logger.Warn().Err(rerr).Msg("release after failed init")
			}
			return nil, fmt.Errorf("init %s: %w", s.name, err)
		}
	}
	a.initAPI()
	return a, nil
}

func (a *app) initStorage(_ context.Context) error {
	fc := a.cfg.Features
	db, err := badgerdb.Open(badgerdb.Config{
		Path:        fc.BadgerPath,
		InMemory:    fc.InMemory,
		SyncWrites:  fc.SyncWrites,
		Compression: fc.Compression,
		GCRatio:     fc.GCRatio,
	}, a.logger)
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	a.memStore = cache.NewMemoryStore(a.cfg.Cache.Capacity)
	a.cache = cache.NewInferenceCache(a.memStore, cache.Config{
		TTLs:       cacheTTLs(&a.cfg.Cache),
		DefaultTTL: a.cfg.Cache.DefaultTTL,
	}, a.logger)

	store := features.NewBreakerStore(
		features.NewBadgerStore(db),
		breakerConfig("feature-store", fc.BreakerFailures, fc.BreakerTimeout),
		a.logger,
	)
	a.features = features.New(a.cache, store, features.Config{StoreTTL: fc.StoreTTL}, a.logger)
	return nil
}

func cacheTTLs(c *config.CacheConfig) map[cache.TTLClass]time.Duration {
	ttls := make(map[cache.TTLClass]time.Duration, 8)
	set := func(class cache.TTLClass, d time.Duration) {
		if d > 0 {
			ttls[class] = d
		}
	}
	set(cache.ClassEngagement, c.EngagementTTL)
	set(cache.ClassCTR, c.CTRTTL)
	set(cache.ClassCVR, c.CVRTTL)
	set(cache.ClassEmbedding, c.EmbeddingTTL)
	set(cache.ClassContentEmbedding, c.ContentEmbeddingTTL)
	set(cache.ClassUser, c.UserTTL)
	set(cache.ClassItem, c.ItemTTL)
	set(cache.ClassContext, c.ContextTTL)
	return ttls
}

func breakerConfig(name string, failures uint32, timeout time.Duration) resilience.BreakerConfig {
	bc := resilience.DefaultBreakerConfig(name)
	if failures > 0 {
		bc.FailureThreshold = failures
	}
	if timeout > 0 {
		bc.Timeout = timeout
	}
	return bc
}

// startNATS starts the embedded server when configured and provisions the
// event stream. It returns the URL publishers connect to.
func (a *app) startNATS(ctx context.Context) (string, error) {
	ec := a.cfg.Events
	natsURL := ec.NATSURL

	if ec.NATSEmbedded {
		u, err := url.Parse(ec.NATSURL)
		if err != nil {
			return "", fmt.Errorf("parse nats url: %w", err)
		}
		port := 0
		if p := u.Port(); p != "" {
			if port, err = strconv.Atoi(p); err != nil {
				return "", fmt.Errorf("parse nats port: %w", err)
			}
		}
		srv, err := eventlog.StartEmbeddedServer(eventlog.EmbeddedServerConfig{
			Host:      u.Hostname(),
			Port:      port,
			StoreDir:  ec.NATSStoreDir,
			MaxMemory: ec.NATSMaxMemory,
			MaxStore:  ec.NATSMaxStore,
		})
		if err != nil {
			return "", err
		}
		a.closers = append(a.closers, srv.Close)
		natsURL = srv.ClientURL()
		a.logger.Info().Str("url", natsURL).Str("store_dir", ec.NATSStoreDir).Msg("embedded NATS server started")
	}

	if ec.NATSProvision {
		info, err := eventlog.EnsureStream(ctx, natsURL, eventlog.StreamConfig{
			Name:     ec.NATSStream,
			Subjects: []string{ec.TopicPrefix + ".>"},
			MaxAge:   ec.NATSStreamAge,
		})
		if err != nil {
			// Publishing still works against a stream provisioned elsewhere.
			a.logger.Warn().Err(err).Str("stream", ec.NATSStream).Msg("event stream provisioning failed")
		} else {
			a.logger.Info().Str("stream", info.Config.Name).Uint64("messages", info.State.Msgs).Msg("event stream ready")
		}
	}
	return natsURL, nil
}

func (a *app) initEvents(ctx context.Context) error {
	ec := a.cfg.Events
	var sinks eventlog.MultiSink

	if ec.NATSEnabled {
		natsURL, err := a.startNATS(ctx)
		if err != nil {
			return err
		}
		pub, err := eventlog.NewNATSPublisher(eventlog.NATSConfig{
			URL:           natsURL,
			MaxReconnects: ec.NATSReconnects,
			ReconnectWait: natsReconnectWait,
		}, logging.NewWatermillAdapter(a.logger))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub.Close)
		sinks = append(sinks, eventlog.NewBreakerSink(
			eventlog.NewWatermillSink(pub, ec.TopicPrefix),
			breakerConfig("events-nats", ec.BreakerFailures, ec.BreakerTimeout),
			a.logger,
		))
		a.logger.Info().Str("url", natsURL).Str("prefix", ec.TopicPrefix).Msg("decision events publish to NATS")
	}

	if ec.DuckDBEnabled {
		db, err := eventlog.OpenDuckDB(ec.DuckDBPath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		sink, err := eventlog.NewDuckDBSink(ctx, db)
		if err != nil {
			return err
		}
		sinks = append(sinks, eventlog.NewBreakerSink(
			sink,
			breakerConfig("events-duckdb", ec.BreakerFailures, ec.BreakerTimeout),
			a.logger,
		))
		a.logger.Info().Str("path", ec.DuckDBPath).Msg("decision events archived to DuckDB")
	}

	var sink eventlog.Sink = sinks
	if len(sinks) == 0 {
		a.logger.Warn().Msg("no decision event sink enabled, events are discarded after flush")
		sink = eventlog.SinkFunc(func(context.Context, []eventlog.Event) error { return nil })
	}
	a.events = eventlog.New(sink, eventlog.Config{
		FlushInterval: ec.FlushInterval,
		FlushSize:     ec.FlushSize,
		RetryCapacity: ec.RetryCapacity,
		FlushTimeout:  ec.FlushTimeout,
	}, a.logger)
	return nil
}

func (a *app) initServing(ctx context.Context) error {
	sc := a.cfg.Serving
	a.orch = serving.New(a.cache, serving.Config{
		MaxBatchSize:      sc.MaxBatchSize,
		PredictionTimeout: sc.PredictionTimeout,
		QueueCapacity:     sc.QueueCapacity,
	}, a.logger)

	loaded := 0
	for _, m := range sc.Models {
		err := a.orch.LoadModel(ctx, serving.ModelSpec{
			Name:    m.Name,
			Version: m.Version,
			Path:    m.Path,
			Class:   cache.TTLClass(m.Class),
			Runtime: serving.NewLinearRuntime(),
		})
		if err != nil {
			// Ranking degrades to the remaining signals; the model can be
			// fixed on disk and the process restarted.
			continue
		}
		loaded++
	}
	if loaded < len(sc.Models) {
		a.logger.Warn().Int("loaded", loaded).Int("configured", len(sc.Models)).Msg("not all models loaded")
	}

	mc := a.cfg.Monitor
	a.monitor = serving.NewMonitor(a.orch, serving.MonitorConfig{
		Interval:     mc.Interval,
		MaxLatencyMs: mc.MaxLatencyMs,
		MaxErrorRate: mc.MaxErrorRate,
		MinAccuracy:  mc.MinAccuracy,
		UnusedAfter:  mc.UnusedAfter,
		MaxAlerts:    mc.MaxAlerts,
	}, a.logger)
	a.monitor.OnAlert(a.logAlert)
	return nil
}

// logAlert records a model alert as a decision event.
func (a *app) logAlert(al serving.Alert) {
	payload := make(map[string]any, len(al.Payload)+3)
	for k, v := range al.Payload {
		payload[k] = v
	}
	payload["alert"] = string(al.Type)
	payload["model"] = al.Model
	payload["severity"] = string(al.Severity)
	a.events.Log(eventlog.TypeModelAlert, "", payload)
}

func (a *app) initRecommend(_ context.Context) error {
	rc := a.cfg.Recommend
	cfg := recommend.DefaultConfig()
	cfg.Weights = recommend.BlendWeights{
		Model:           rc.WeightModel,
		Freshness:       rc.WeightFreshness,
		Popularity:      rc.WeightPopularity,
		Personalization: rc.WeightPersonalization,
	}
	cfg.RankingModel = rc.RankingModel
	cfg.MaxCandidates = rc.MaxCandidates
	cfg.MaxRanked = rc.MaxRanked
	cfg.PerGeneratorLimit = rc.PerGeneratorLimit
	cfg.GeneratorTimeout = rc.GeneratorTimeout
	cfg.ScoreConcurrency = rc.ScoreConcurrency
	cfg.FreshnessHalfLife = rc.FreshnessHalfLife

	engine, err := recommend.NewEngine(cfg, a.orch, a.logger)
	if err != nil {
		return err
	}
	a.recommend = engine
	a.catalog = recommend.NewCatalog()
	engine.SetCatalog(a.catalog)
	engine.SetItemFeatureSource(a.features)

	a.trending = generators.NewTrending(generators.TrendingConfig{HalfLife: rc.TrendingHalfLife})
	engine.SetFallback(a.trending)
	engine.SetPopularitySource(a.trending)

	for _, name := range rc.Generators {
		switch name {
		case "covisit":
			engine.RegisterGenerator(generators.NewCoVisitation(generators.CoVisitConfig{
				HistorySize: rc.CoVisitHistory,
				Window:      rc.CoVisitWindow,
			}))
		case "content":
			engine.RegisterGenerator(generators.NewContent(a.catalog, generators.ContentConfig{
				MinSimilarity: rc.ContentMinSimilarity,
			}))
		case "trending":
			engine.RegisterGenerator(a.trending)
		}
	}
	if rc.DiversityLambda < 1 {
		engine.RegisterReranker(reranking.NewMMR(rc.DiversityLambda))
	}

	a.logger.Info().
		Strs("generators", rc.Generators).
		Str("ranking_model", rc.RankingModel).
		Float64("diversity_lambda", rc.DiversityLambda).
		Msg("recommendation engine ready")
	return nil
}

func (a *app) initAds(ctx context.Context) error {
	pc := a.cfg.Pacing
	a.pacing = ads.NewPacingController(ads.PacingConfig{
		Interval:      pc.Interval,
		Kp:            pc.Kp,
		MinOutput:     pc.MinOutput,
		MaxOutput:     pc.MaxOutput,
		ThrottleRatio: pc.ThrottleRatio,
		PauseRatio:    pc.PauseRatio,
		DayLength:     ads.DefaultPacingConfig().DayLength,
	}, a.logger)

	fc := a.cfg.Frequency
	a.frequency = ads.NewFrequencyManager(ads.FrequencyConfig{
		PerCampaign: fc.PerCampaign,
		Window:      fc.Window,
		HourlyCap:   fc.HourlyCap,
		DailyCap:    fc.DailyCap,
		WeeklyCap:   fc.WeeklyCap,
		IdleTTL:     fc.IdleTTL,
	}, a.logger)

	bc := a.cfg.Bandit
	a.bandit = bandit.NewEngine(bandit.Config{
		WarmupPeriod: bc.WarmupPeriod,
		Alpha:        bc.Alpha,
		PersistEvery: bc.PersistEvery,
		Buckets:      bc.Buckets,
	}, bandit.NewBadgerPersister(a.db), a.logger)
	if err := a.bandit.Load(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("bandit state not restored, starting cold")
	}

	cc := a.cfg.Causal
	a.causal = causal.NewEngine(causal.Config{
		Duration:           cc.Duration,
		GhostProbability:   cc.GhostProbability,
		ControlProbability: cc.ControlProbability,
		MinSample:          cc.MinSample,
		MaxIncrementality:  cc.MaxIncrementality,
	}, a.logger)

	ac := a.cfg.Auction
	a.auction = ads.NewAuctionEngine(ads.AuctionConfig{
		ReservePrice:      ac.ReservePrice,
		BidFloor:          ac.BidFloor,
		QualityThreshold:  ac.QualityThreshold,
		MaxAds:            ac.MaxAds,
		Timeout:           ac.Timeout,
		ChargeSecondPrice: ac.ChargeSecondPrice,
		CTRModel:          ac.CTRModel,
	}, a.pacing, a.frequency, a.logger)
	a.auction.SetPredictor(a.orch)
	a.auction.SetCreativeSelector(a.bandit)
	a.auction.SetIncrementality(a.causal)

	a.inventory = ads.NewInventory()
	return nil
}

func (a *app) initFeed(_ context.Context) error {
	fc := a.cfg.Feed
	svc, err := feed.New(feed.Config{
		DefaultLimit: fc.DefaultLimit,
		MaxLimit:     fc.MaxLimit,
		AdPosition:   fc.AdPosition,
		ContextID:    fc.ContextID,
		ServedAdTTL:  fc.ServedAdTTL,
	}, feed.Deps{
		Features:  a.features,
		Recommend: a.recommend,
		Auction:   a.auction,
		Inventory: a.inventory,
		Bandit:    a.bandit,
		Causal:    a.causal,
		Events:    a.events,
	}, a.logger)
	if err != nil {
		return err
	}
	a.feed = svc
	return nil
}

func (a *app) initAPI() {
	sc := a.cfg.Server
	a.handler = api.NewRouter(api.RouterConfig{
		CORSOrigins:       sc.CORSOrigins,
		RateLimitRequests: sc.RateLimitReqs,
		RateLimitWindow:   sc.RateLimitWindow,
		RateLimitDisabled: sc.RateLimitDisabled,
	}, api.Deps{
		Models:    a.orch,
		Alerts:    a.monitor,
		Campaigns: a.pacing,
		Inventory: a.inventory,
		Catalog:   a.catalog,
		Features:  a.features,
		Feed:      a.feed,
		Stats:     a.stats,
	}, a.logger)
}

// stats is the body of /api/v1/stats.
func (a *app) stats() map[string]any {
	return map[string]any{
		"cache":               a.cache.Stats(),
		"features":            a.features.Stats(),
		"serving":             a.orch.Metrics(),
		"recommend":           a.recommend.Stats(),
		"trending_items":      a.trending.Len(),
		"auction":             a.auction.Stats(),
		"inventory":           a.inventory.Len(),
		"bandit_interactions": a.bandit.Interactions(),
		"experiments":         a.causal.Experiments(),
		"events":              a.events.Stats(),
		"feed":                a.feed.Stats(),
	}
}

// registerServices adds the long-running loops to the supervisor tree.
func (a *app) registerServices(tree *supervisor.SupervisorTree, srv *http.Server) {
	tree.AddServingService(services.NewRunnerService("inference-batcher", a.orch.Run))
	tree.AddServingService(services.NewRunnerService("model-monitor", a.monitor.Run))

	tree.AddControlService(services.NewRunnerService("budget-pacing", a.pacing.Run))
	tree.AddControlService(services.NewTickerService("state-cleanup", a.cfg.Feed.CleanupInterval, a.cleanup, a.logger))
	tree.AddControlService(services.NewTickerService("bandit-persist", a.cfg.Bandit.PersistPeriod, a.bandit.Persist, a.logger))
	tree.AddControlService(services.NewTickerService("badger-gc", a.cfg.Features.GCInterval, func(context.Context) error {
		return badgerdb.RunGC(a.db, a.cfg.Features.GCRatio)
	}, a.logger))

	tree.AddDataService(services.NewRunnerService("decision-events", a.events.Run))

	tree.AddAPIService(services.NewHTTPServerService(srv, a.cfg.Server.ShutdownTimeout, a.logger))
}

// cleanup evicts idle frequency counters, expired served-ad records and
// expired cache entries.
func (a *app) cleanup(_ context.Context) error {
	freq := a.frequency.Cleanup()
	served := a.feed.Cleanup()
	cached := a.memStore.CleanupExpired()
	if freq+served+cached > 0 {
		a.logger.Debug().
			Int("frequency", freq).
			Int("served_ads", served).
			Int("cache", cached).
			Msg("expired state evicted")
	}
	return nil
}

// shutdown flushes pending events, persists bandit state and releases
// resources. The supervisor tree must already be stopped.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.events.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush events: %w", err))
	}
	if err := a.bandit.Persist(ctx); err != nil {
		errs = append(errs, fmt.Errorf("persist bandit: %w", err))
	}
	a.orch.Close()
	if err := a.releaseResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) releaseResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
