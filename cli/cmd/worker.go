package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ferret/adapter"
	adapterredis "github.com/justapithecus/ferret/adapter/redis"
	"github.com/justapithecus/ferret/adapter/webhook"
	"github.com/justapithecus/ferret/config"
	"github.com/justapithecus/ferret/engine"
	"github.com/justapithecus/ferret/events"
	"github.com/justapithecus/ferret/intel"
	"github.com/justapithecus/ferret/intervention"
	"github.com/justapithecus/ferret/log"
	"github.com/justapithecus/ferret/metrics"
	"github.com/justapithecus/ferret/proxy"
	"github.com/justapithecus/ferret/runtime"
	"github.com/justapithecus/ferret/snapshot"
	"github.com/justapithecus/ferret/types"
)

// WorkerCommand returns the worker command: the long-running process
// that dequeues and executes runs.
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the worker loop until interrupted",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Override worker.concurrency from the config",
			},
		},
		Action: workerAction,
	}
}

func workerAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pool, err := sessionPool(cfg)
	if err != nil {
		return err
	}

	// Engine ladder. HTTP and browser are always present; the provider
	// tier exists only when keys are configured.
	engines := map[types.Engine]engine.Engine{
		types.EngineHTTP: engine.NewHTTPEngine(cfg.Engines.HTTP.UserAgent, cfg.Engines.HTTP.Timeout.Duration),
	}
	headless := true
	if cfg.Engines.Browser.Headless != nil {
		headless = *cfg.Engines.Browser.Headless
	}
	browser := engine.NewBrowserEngine(
		cfg.Engines.Browser.NavTimeout.Duration,
		headless,
		cfg.Engines.Browser.WSEndpoint,
		cfg.Engines.Browser.ConsentSelectors,
	)
	defer browser.Close()
	engines[types.EngineBrowser] = browser

	providerAvailable := func() bool { return false }
	if keys := cfg.Engines.Provider.Keys(); len(keys) > 0 {
		provider := engine.NewProviderEngine(
			cfg.Engines.Provider.BaseURL,
			keys,
			cfg.Engines.Provider.Country,
			cfg.Engines.Provider.Timeout.Duration,
			st,
		)
		engines[types.EngineProvider] = provider
		providerAvailable = provider.Ring.Active
	}

	client, err := redisClient(cfg)
	if err != nil {
		return err
	}
	logger := log.NewLogger(log.RunContext{})
	emitter := events.New(st, client, logger)

	archiver, err := snapshot.New(ctx, cfg.Snapshot)
	if err != nil {
		return err
	}

	pauser := intervention.New(st, intervention.Options{
		Sessions: pool,
		Events:   emitter,
		Logger:   logger,
		TTL:      cfg.Intervention.TTLFor,
	})

	notifier, err := buildAdapter(cfg)
	if err != nil {
		return err
	}
	if notifier != nil {
		defer notifier.Close()
	}

	owner := cfg.Worker.Owner
	if owner == "" {
		host, _ := os.Hostname()
		owner = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	collector := metrics.NewCollector(owner)

	executor, err := runtime.New(runtime.Options{
		Store:             st,
		Intel:             intel.New(st),
		Sessions:          pool,
		Pauser:            pauser,
		Events:            emitter,
		Proxies:           proxy.NewSelector(cfg.Proxies),
		Engines:           engines,
		Snapshots:         archiver,
		Metrics:           collector,
		Notifier:          notifier,
		Strategy:          cfg.StrategyFor,
		ProviderAvailable: providerAvailable,
		Timeouts: map[types.Engine]time.Duration{
			types.EngineHTTP:     cfg.Engines.HTTP.Timeout.Duration,
			types.EngineBrowser:  cfg.Engines.Browser.NavTimeout.Duration,
			types.EngineProvider: cfg.Engines.Provider.Timeout.Duration,
		},
	})
	if err != nil {
		return err
	}

	concurrency := cfg.Worker.Concurrency
	if n := c.Int("concurrency"); n > 0 {
		concurrency = n
	}
	worker, err := runtime.NewWorker(runtime.WorkerOptions{
		Queue:        st,
		Executor:     executor,
		Sweeper:      pauser,
		Metrics:      collector,
		Owner:        owner,
		Concurrency:  concurrency,
		PollInterval: cfg.Worker.PollInterval.Duration,
		Logger:       logger.Sugar(),
	})
	if err != nil {
		return err
	}

	logger.Info("worker starting", map[string]any{
		"owner": owner, "concurrency": concurrency,
	})
	worker.Run(ctx)
	logger.Info("worker stopped", nil)
	return nil
}

// buildAdapter constructs the run-completed fan-out adapter, nil when
// none is configured.
func buildAdapter(cfg *config.Config) (adapter.Adapter, error) {
	retries := func(def int) int {
		if cfg.Adapter.Retries != nil {
			return *cfg.Adapter.Retries
		}
		return def
	}
	switch cfg.Adapter.Type {
	case "":
		return nil, nil
	case "redis":
		url := cfg.Adapter.URL
		if url == "" {
			url = cfg.RedisURL
		}
		return adapterredis.New(adapterredis.Config{
			URL:     url,
			Channel: cfg.Adapter.Channel,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries(adapterredis.DefaultRetries),
		})
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     cfg.Adapter.URL,
			Headers: cfg.Adapter.Headers,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries(webhook.DefaultRetries),
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Adapter.Type)
	}
}
