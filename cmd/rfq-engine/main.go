package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arcfield-labs/rfq-engine/internal/ammclient"
	"github.com/arcfield-labs/rfq-engine/internal/consumer"
	"github.com/arcfield-labs/rfq-engine/internal/fee"
	"github.com/arcfield-labs/rfq-engine/internal/feeconfig"
	"github.com/arcfield-labs/rfq-engine/internal/gasstation"
	"github.com/arcfield-labs/rfq-engine/internal/httpclient"
	"github.com/arcfield-labs/rfq-engine/internal/metrics"
	"github.com/arcfield-labs/rfq-engine/internal/oracle"
	"github.com/arcfield-labs/rfq-engine/internal/publisher"
	"github.com/arcfield-labs/rfq-engine/internal/rate"
	internalsecrets "github.com/arcfield-labs/rfq-engine/internal/secrets"
	"github.com/arcfield-labs/rfq-engine/pkg/config"
	"github.com/arcfield-labs/rfq-engine/pkg/logger"
	"github.com/arcfield-labs/rfq-engine/pkg/model"
	pkgsecrets "github.com/arcfield-labs/rfq-engine/pkg/secrets"
	"github.com/arcfield-labs/rfq-engine/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [rfq-engine]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- Data source credentials (AWS Secrets Manager, optional) ---
	// Base URLs and API keys resolved from secrets override the env config;
	// without AWS access the engine runs on the configured defaults.
	var priceFeedCreds, ammCreds pkgsecrets.Credentials
	if awsProvider, err := pkgsecrets.NewAWSProvider(cfg.AWSRegion); err != nil {
		logg.Warnw("aws secrets manager unavailable, using configured URLs", "error", err)
	} else {
		credsCache := pkgsecrets.NewCache[pkgsecrets.Credentials](cfg.SecretsTTL)
		credsResolver := internalsecrets.NewSourceResolver(logg.Desugar(), cfg.Env, awsProvider, credsCache)
		if sources, err := credsResolver.DiscoverSources(ctx); err != nil {
			logg.Warnw("failed to discover data source secrets", "error", err)
		} else {
			logg.Infow("discovered data source secrets", "count", len(sources), "sources", sources)
		}
		priceFeedCreds = resolveCreds(ctx, credsResolver, "price_feed", logg)
		ammCreds = resolveCreds(ctx, credsResolver, "amm_aggregator", logg)
	}
	if priceFeedCreds.BaseURL != "" {
		cfg.PriceFeedURL = priceFeedCreds.BaseURL
	}
	if ammCreds.BaseURL != "" {
		cfg.AmmQuoteURL = ammCreds.BaseURL
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}

	// --- Publisher ---
	pub, err := publisher.New(nc, cfg.OutboundSubject, "RFQ_ENGINE")
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}

	// --- Redis (oracle price cache) ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPass,
	})

	// --- Postgres pool (fee model configuration) ---
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logg.Fatalw("invalid database url", "error", err)
	}
	poolCfg.MaxConns = int32(cfg.PGMaxConns)
	poolCfg.MinConns = int32(cfg.PGMinConns)
	poolCfg.MaxConnLifetime = cfg.PGMaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.PGMaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.PGHealthCheckPeriod
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logg.Fatalw("failed to init postgres pool", "error", err)
	}

	// --- Fee model configuration (in-memory, refreshed from Postgres) ---
	feeResolver := feeconfig.NewResolver(fee.FeeModelConfiguration{})
	loader := feeconfig.NewLoader(logger.L(), pool, feeResolver, pub, model.SubjectConfigRefresh, cfg.FeeConfigRefreshInterval)
	go loader.Start(ctx)

	// --- Rate limiter + per-source HTTP executors ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.RequestBurst,
		Cooldown:          1 * time.Second,
	})

	gasExec := httpclient.New(logger.L(), rateMgr, sourceClient(""), cfg.RetryMax, "gas_station", nil)
	priceExec := httpclient.New(logger.L(), rateMgr, sourceClient(priceFeedCreds.APIKey), cfg.RetryMax, "price_oracle", nil)
	ammExec := httpclient.New(logger.L(), rateMgr, sourceClient(ammCreds.APIKey), cfg.RetryMax, "amm_aggregator", nil)

	// --- Data sources ---
	gasSource := gasstation.New(gasExec, cfg.GasStationURL, logger.L())
	priceSource := oracle.New(priceExec, cfg.PriceFeedURL, cfg.ChainID, rdb, cfg.PriceCacheTTL, logger.L())
	ammSource := ammclient.New(ammExec, cfg.AmmQuoteURL, cfg.ChainID, logger.L())

	// --- Fee service ---
	feeSvc := fee.NewService(
		cfg.ChainID,
		fee.TokenMetadata{
			Symbol:       cfg.FeeTokenSymbol,
			Decimals:     cfg.FeeTokenDecimals,
			TokenAddress: cfg.FeeTokenAddress,
		},
		cfg.GasEstimateUnits,
		feeResolver,
		gasSource,
		priceSource,
		ammSource,
		logger.L(),
		pub,
	)

	// --- NATS command consumer ---
	cons := consumer.New(logger.L(), nc, feeSvc, consumer.SubjectCalculateFee, pub)
	if err := cons.Start(ctx); err != nil {
		logg.Fatalw("failed to start consumer", "error", err)
	}

	// --- Metrics ---
	metrics.StartServer(fmt.Sprintf(":%d", cfg.MetricsPort))

	// --- Fiber HTTP Server (health only) ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})
	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := pool.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":   "degraded",
				"postgres": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.ServiceName})
	})

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[rfq-engine] running",
		"chain_id", cfg.ChainID,
		"fee_token", cfg.FeeTokenSymbol,
		"nats", cfg.NATSURL,
		"env", cfg.Env,
		"config_refresh", cfg.FeeConfigRefreshInterval)

	<-ctx.Done()
	logg.Info("shutting down [rfq-engine]...")

	cons.Stop()
	loader.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := nc.Drain(); err != nil {
		logg.Warnw("nats.drain_failed", "error", err)
	}
	if err := rdb.Close(); err != nil {
		logg.Warnw("redis.close_failed", "error", err)
	}
	pool.Close()
}

// resolveCreds fetches one data source's credentials, falling back to the
// zero value so the engine can run on configured defaults.
func resolveCreds(ctx context.Context, r *internalsecrets.SourceResolver[pkgsecrets.Credentials], source string, logg *zap.SugaredLogger) pkgsecrets.Credentials {
	creds, err := r.Resolve(ctx, source, func(m map[string]string) (pkgsecrets.Credentials, error) {
		return pkgsecrets.Credentials{APIKey: m["api_key"], BaseURL: m["base_url"]}, nil
	})
	if err != nil {
		logg.Warnw("credentials unavailable, using configured defaults",
			"source", source, "error", err)
		return pkgsecrets.Credentials{}
	}
	return creds
}

// sourceClient builds the HTTP client for one data source, injecting its API
// key header when configured.
func sourceClient(apiKey string) *http.Client {
	client := &http.Client{Timeout: 10 * time.Second}
	if apiKey != "" {
		client.Transport = &apiKeyTransport{base: http.DefaultTransport, key: apiKey}
	}
	return client
}

type apiKeyTransport struct {
	base http.RoundTripper
	key  string
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("X-Api-Key", t.key)
	return t.base.RoundTrip(req)
}
