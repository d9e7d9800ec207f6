package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/signalmesh/signalmesh/breaker"
	"github.com/signalmesh/signalmesh/budget"
	"github.com/signalmesh/signalmesh/cache"
	"github.com/signalmesh/signalmesh/classify"
	"github.com/signalmesh/signalmesh/config"
	"github.com/signalmesh/signalmesh/decide"
	"github.com/signalmesh/signalmesh/hub"
	"github.com/signalmesh/signalmesh/integration"
	"github.com/signalmesh/signalmesh/llm"
	"github.com/signalmesh/signalmesh/model"
	"github.com/signalmesh/signalmesh/pipeline"
	"github.com/signalmesh/signalmesh/preprocess"
	"github.com/signalmesh/signalmesh/publish"
	"github.com/signalmesh/signalmesh/queue"
	"github.com/signalmesh/signalmesh/retryq"
	"github.com/signalmesh/signalmesh/review"
	"github.com/signalmesh/signalmesh/route"
	"github.com/signalmesh/signalmesh/signal"
)

// App assembles all components into a running system.
type App struct {
	Config    *config.Config
	Hub       *hub.Hub
	Registry  *model.Registry
	Gateway   *llm.Gateway
	Budget    *budget.Tracker
	Cache     *cache.Cache
	Pipeline  *pipeline.Pipeline
	Reviews   *review.Manager
	Publisher *publish.Publisher
	Router    *route.Router
	Queue     *queue.Manager
	RetryQ    *retryq.Queue
	Services  *integration.Manager

	unsubscribe []func()
	stopWarm    func()
	logger      *slog.Logger
}

// NewApp wires the full system from cfg. Nothing starts running until
// Start is called.
func NewApp(cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	logger := slog.Default()
	app := &App{Config: cfg, logger: logger}

	app.Hub = hub.New(hub.WithEventLog(cfg.EventLogPath()))

	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}
	app.Registry = registry
	app.Gateway = llm.New(registry)

	app.Budget, err = budget.New(cfg.TokenUsagePath(), registry,
		budget.WithDailyLimit(cfg.LLM.MaxDailyTokens))
	if err != nil {
		return nil, err
	}

	app.Cache = cache.New(cfg.CacheStorePath(),
		cache.WithDefaultTTL(cfg.Cache.OtherTTL),
		cache.WithTTL(cache.TypeClassification, cfg.Cache.ClassificationTTL),
		cache.WithTTL(cache.TypeDecision, cfg.Cache.DecisionTTL),
		cache.WithCostEstimator(func(prompt, completion int) float64 {
			return registry.CostFor(registry.Primary(), prompt, completion)
		}))
	if _, err := app.Cache.Load(); err != nil {
		logger.Warn("Cache restore failed, starting cold", "error", err)
	}

	classifier := classify.New(app.Gateway, app.Cache, app.Budget)
	decider := decide.New(app.Gateway, app.Budget,
		decide.WithForbiddenTargets(cfg.Decision.ForbiddenTargets),
		decide.WithConfidenceFloors(cfg.Decision.AutoExecute,
			cfg.Decision.RequireApproval, cfg.Decision.Reject))
	app.Pipeline = pipeline.New(preprocess.New(), classifier, decider,
		pipeline.WithTrustedSenders(cfg.Decision.TrustedSenders),
		pipeline.WithReviewConfidenceFloor(cfg.Decision.AutoExecute))

	app.Reviews, err = review.New(cfg.ReviewStorePath(),
		review.WithExpiryTiers(map[review.RiskLevel]time.Duration{
			review.RiskLow:    cfg.Review.LowExpiry,
			review.RiskMedium: cfg.Review.MediumExpiry,
			review.RiskHigh:   cfg.Review.HighExpiry,
		}))
	if err != nil {
		return nil, err
	}

	app.Publisher = publish.New(app.Hub, app.Reviews)
	app.Reviews.SetOnApproved(app.Publisher.PublishApproved)

	app.Router = route.New(route.WithBreakerFactory(func(platform string) *breaker.Breaker {
		return breaker.New(breaker.Config{
			Name:             "platform:" + platform,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			SuccessThreshold: cfg.Breaker.SuccessThreshold,
			Timeout:          cfg.Breaker.Timeout,
			CacheTTL:         cfg.Breaker.CacheTTL,
		}, breaker.WithHub(app.Hub))
	}))
	registerAdapters(app.Router, logger)

	app.Queue, err = queue.New(cfg.QueueStorePath(), app.Router,
		queue.WithMaxConcurrent(cfg.Queue.MaxConcurrent),
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
		queue.WithBackoffBase(cfg.Queue.BackoffBase),
		queue.WithProcessingInterval(cfg.Queue.ProcessingInterval))
	if err != nil {
		return nil, err
	}

	app.RetryQ, err = retryq.New(cfg.RetryStorePath(), cfg.FailedOpsPath())
	if err != nil {
		return nil, err
	}

	app.Services = integration.New(app.Hub)
	return app, nil
}

func loadRegistry(cfg *config.Config) (*model.Registry, error) {
	if cfg.LLM.RegistryPath != "" {
		registry, err := model.LoadFromFile(cfg.LLM.RegistryPath)
		if err != nil {
			return nil, fmt.Errorf("load provider registry: %w", err)
		}
		return registry, nil
	}
	registry := model.NewDefaultRegistry()
	registry.SetOrder(cfg.LLM.ProviderOrder)
	return registry, nil
}

// Start launches all long-running components and subscribes the pipeline
// to incoming signals.
func (a *App) Start(ctx context.Context) error {
	// Incoming signals walk the full reasoning path; publication outcomes
	// flow back through the hub to the queue.
	unsub := a.Hub.Subscribe(hub.EventSignalReceived, func(e hub.Event) {
		sig, ok := e.Data.(signal.Signal)
		if !ok {
			a.logger.Warn("signal.received event carried unexpected payload")
			return
		}
		result := a.Pipeline.Process(ctx, sig)
		a.Publisher.Publish(result)
	})
	a.unsubscribe = append(a.unsubscribe, unsub)
	a.unsubscribe = append(a.unsubscribe, a.Queue.SubscribeToHub(a.Hub))

	if path := a.Config.Cache.WarmPatternsPath; path != "" {
		stop, err := a.Cache.WatchWarmPatterns(path)
		if err != nil {
			a.logger.Warn("Warm pattern watch failed", "path", path, "error", err)
		} else {
			a.stopWarm = stop
		}
	}

	a.Services.Register(integration.Registration{
		Name:  "publisher",
		Start: func(context.Context) error { a.Publisher.Start(); return nil },
		Stop:  func(context.Context) error { a.Publisher.Stop(); return nil },
	})
	a.Services.Register(integration.Registration{
		Name:  "review-manager",
		Start: func(context.Context) error { a.Reviews.Start(); return nil },
		Stop:  func(context.Context) error { a.Reviews.Stop(); return nil },
	})
	a.Services.Register(integration.Registration{
		Name:  "action-queue",
		Start: func(context.Context) error { a.Queue.Start(); return nil },
		Stop:  func(context.Context) error { a.Queue.Stop(); return nil },
	})
	a.Services.Register(integration.Registration{
		Name:  "retry-queue",
		Start: func(ctx context.Context) error { a.RetryQ.Start(ctx); return nil },
		Stop:  func(context.Context) error { a.RetryQ.Stop(); return nil },
	})

	a.Services.StartAll(ctx)
	return nil
}

// Stop shuts the system down in reverse dependency order and flushes
// persistent state.
func (a *App) Stop(ctx context.Context) {
	for _, unsub := range a.unsubscribe {
		unsub()
	}
	if a.stopWarm != nil {
		a.stopWarm()
	}
	a.Services.StopAll(ctx)
	if err := a.Cache.Save(); err != nil {
		a.logger.Warn("Cache save failed", "error", err)
	}
	a.Hub.Close()
}

// Ingest emits one signal onto the bus.
func (a *App) Ingest(sig signal.Signal) {
	a.Hub.Emit(hub.Event{
		Source:   "ingest",
		Type:     hub.EventSignalReceived,
		Priority: hub.PriorityNormal,
		Data:     sig,
	})
}
