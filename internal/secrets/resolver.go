package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	pkgsecrets "github.com/arcfield-labs/rfq-engine/pkg/secrets"
)

// SourceResolver resolves per-data-source credentials (API keys for the
// price feed, the AMM aggregator, etc.) from AWS Secrets Manager, caching
// results locally to reduce API calls. It is generic over the resolved
// config type T.
//
// Secret naming convention: {env}/rfq-engine/{source}
type SourceResolver[T any] struct {
	logger   *zap.Logger
	env      string
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[T]
}

// NewSourceResolver constructs a credentials resolver.
func NewSourceResolver[T any](
	logger *zap.Logger,
	env string,
	provider pkgsecrets.Provider,
	cache *pkgsecrets.Cache[T],
) *SourceResolver[T] {
	return &SourceResolver[T]{
		logger:   logger,
		env:      env,
		provider: provider,
		cache:    cache,
	}
}

// secretName builds the AWS Secrets Manager key for a data source.
func (r *SourceResolver[T]) secretName(source string) string {
	return strings.ToLower(fmt.Sprintf("%s/rfq-engine/%s", r.env, source))
}

// Resolve fetches or caches credentials T for a data source. parse extracts
// T from the raw secret map; it should validate required fields.
func (r *SourceResolver[T]) Resolve(ctx context.Context, source string, parse func(map[string]string) (T, error)) (T, error) {
	key := strings.ToLower(source)

	if cfg, ok := r.cache.Get(key); ok {
		return cfg, nil
	}

	secretName := r.secretName(source)
	secretMap, err := r.provider.GetSecret(ctx, secretName)
	if err != nil {
		r.logger.Warn("aws.secret_fetch_failed",
			zap.String("key", secretName),
			zap.Error(err))
		var zero T
		return zero, fmt.Errorf("resolve credentials for %q: %w", source, err)
	}

	cfg, err := parse(secretMap)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse secret %q: %w", secretName, err)
	}

	r.cache.Put(key, cfg)

	r.logger.Info("aws.source_credentials_resolved",
		zap.String("source", source))
	return cfg, nil
}

// DiscoverSources lists all data sources that have secrets configured under
// "{env}/rfq-engine/".
func (r *SourceResolver[T]) DiscoverSources(ctx context.Context) ([]string, error) {
	prefix := strings.ToLower(fmt.Sprintf("%s/rfq-engine/", r.env))

	names, err := r.provider.ListSecrets(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("discover sources: %w", err)
	}

	var sources []string
	for _, name := range names {
		lower := strings.ToLower(name)
		trimmed := strings.TrimPrefix(lower, prefix)
		if trimmed != "" && trimmed != lower && !strings.Contains(trimmed, "/") {
			sources = append(sources, trimmed)
		}
	}

	r.logger.Info("aws.sources_discovered",
		zap.Int("count", len(sources)),
		zap.Strings("sources", sources))
	return sources, nil
}
