package pipeline

import (
	"fmt"

	"github.com/Sternrassler/diseasenet/internal/config"
	"github.com/Sternrassler/diseasenet/pkg/client"
	"github.com/Sternrassler/diseasenet/pkg/enrich"
	"github.com/Sternrassler/diseasenet/pkg/kegg"
	"github.com/Sternrassler/diseasenet/pkg/pubchem"
	"github.com/Sternrassler/diseasenet/pkg/ratelimit"
	"github.com/Sternrassler/diseasenet/pkg/uniprot"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// FromConfig wires the limiters, fetchers and sources of every upstream into
// a Service. With a non-nil Redis client the rate limits are shared by all
// processes using the same Redis.
func FromConfig(cfg config.Config, rdb *redis.Client, logger zerolog.Logger) (*Service, error) {
	newFetcher := func(name string, u config.UpstreamConfig, opts ...client.Option) (*client.Fetcher, error) {
		limiterCfg := ratelimit.DefaultConfig(name, u.RatePerSecond)

		var limiter ratelimit.Limiter
		var err error
		if rdb != nil {
			limiter, err = ratelimit.NewRedisWindow(rdb, limiterCfg, logger)
		} else {
			limiter, err = ratelimit.NewWindow(limiterCfg, logger)
		}
		if err != nil {
			return nil, fmt.Errorf("%s limiter: %w", name, err)
		}

		fetcherCfg := client.DefaultConfig(name, u.BaseURL, cfg.UserAgent)
		fetcherCfg.Timeout = u.Timeout
		fetcherCfg.Retry = u.Retry
		f, err := client.New(fetcherCfg, limiter, opts...)
		if err != nil {
			return nil, fmt.Errorf("%s fetcher: %w", name, err)
		}
		return f, nil
	}

	keggFetcher, err := newFetcher(config.UpstreamKEGG, cfg.Upstreams.KEGG)
	if err != nil {
		return nil, err
	}
	uniprotFetcher, err := newFetcher(config.UpstreamUniProt, cfg.Upstreams.UniProt)
	if err != nil {
		return nil, err
	}
	tracker := ratelimit.NewTracker(config.UpstreamPubChem, logger)
	pubchemFetcher, err := newFetcher(config.UpstreamPubChem, cfg.Upstreams.PubChem, client.WithThrottleTracker(tracker))
	if err != nil {
		return nil, err
	}

	pool := enrich.NewPool(
		uniprot.New(uniprotFetcher, logger),
		pubchem.New(pubchemFetcher, cfg.Bioactivity, logger),
		cfg.Enrich,
		logger,
	)

	return New(kegg.New(keggFetcher, logger), pool, Config{
		Resolver:    cfg.Resolver,
		RunTimeout:  cfg.RunTimeout,
		EventBuffer: DefaultConfig().EventBuffer,
	}, logger)
}
