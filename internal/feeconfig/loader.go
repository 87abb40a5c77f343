package feeconfig

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arcfield-labs/rfq-engine/internal/fee"
	"github.com/arcfield-labs/rfq-engine/internal/metrics"
)

const loadQuery = `
SELECT chain_id, token_a, token_b, trade_size_bps, margin_rake_ratio
FROM rfq.fee_model_configurations`

// DBQuerier is the minimal subset of pgxpool.Pool the loader needs.
type DBQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// EventPublisher is the optional sink for refresh notifications.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Loader periodically reloads fee model configurations from Postgres into a
// Resolver. A failed reload keeps the previous table in place.
type Loader struct {
	logger    *zap.Logger
	db        DBQuerier
	resolver  *Resolver
	publisher EventPublisher
	subject   string
	interval  time.Duration
	stopCh    chan struct{}
}

// NewLoader constructs a background loader. publisher may be nil.
func NewLoader(logger *zap.Logger, db DBQuerier, resolver *Resolver, publisher EventPublisher, subject string, interval time.Duration) *Loader {
	return &Loader{
		logger:    logger,
		db:        db,
		resolver:  resolver,
		publisher: publisher,
		subject:   subject,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start loads once immediately, then on every tick until the context is
// canceled or Stop is called.
func (l *Loader) Start(ctx context.Context) {
	l.logger.Info("feeconfig.loader.started", zap.Duration("interval", l.interval))

	l.runOnce(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runOnce(ctx)
		case <-l.stopCh:
			l.logger.Info("feeconfig.loader.stopped (manual stop)")
			return
		case <-ctx.Done():
			l.logger.Info("feeconfig.loader.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the loader.
func (l *Loader) Stop() {
	close(l.stopCh)
}

// runOnce executes one reload cycle.
func (l *Loader) runOnce(ctx context.Context) {
	start := time.Now()

	configs, err := l.load(ctx)
	if err != nil {
		l.logger.Error("feeconfig.loader.load_failed", zap.Error(err))
		metrics.IncError("feeconfig_loader", "load_failed")
		return
	}

	l.resolver.Replace(configs)
	metrics.SetLastConfigRefresh("feeconfig_loader", time.Now())

	if l.publisher != nil {
		event := map[string]any{
			"pairs":       len(configs),
			"timestamp":   time.Now().UTC(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if err := l.publisher.Publish(ctx, l.subject, event); err != nil {
			l.logger.Warn("feeconfig.loader.publish_failed", zap.Error(err))
		}
	}

	l.logger.Info("feeconfig.loader.refreshed",
		zap.Int("pairs", len(configs)),
		zap.Duration("duration", time.Since(start)))
}

func (l *Loader) load(ctx context.Context) (map[string]fee.FeeModelConfiguration, error) {
	rows, err := l.db.Query(ctx, loadQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := make(map[string]fee.FeeModelConfiguration)
	for rows.Next() {
		var (
			chainID      int64
			tokenA       string
			tokenB       string
			tradeSizeBps int64
			rakeRatio    float64
		)
		if err := rows.Scan(&chainID, &tokenA, &tokenB, &tradeSizeBps, &rakeRatio); err != nil {
			return nil, err
		}
		configs[PairKey(chainID, tokenA, tokenB)] = fee.FeeModelConfiguration{
			TradeSizeBps:    tradeSizeBps,
			MarginRakeRatio: decimal.NewFromFloat(rakeRatio),
		}
	}
	return configs, rows.Err()
}
