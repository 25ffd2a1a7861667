package main

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/quorumlabs/committee/internal/agents"
	"github.com/quorumlabs/committee/internal/config"
	"github.com/quorumlabs/committee/internal/dataflows"
	"github.com/quorumlabs/committee/internal/debate"
	"github.com/quorumlabs/committee/internal/governor"
	"github.com/quorumlabs/committee/internal/memory"
	"github.com/quorumlabs/committee/internal/metrics"
	"github.com/quorumlabs/committee/internal/orchestrator"
	"github.com/quorumlabs/committee/internal/retrieval"
)

// System is the fully wired committee. Everything is dependency-injected
// from here; no package holds global state.
type System struct {
	Orchestrator *orchestrator.Orchestrator
	Collector    *metrics.Collector

	cache *governor.Cache
	redis *governor.RedisTier
}

// Close releases background resources.
func (s *System) Close() {
	s.cache.Close()
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

func buildSystem(cfg *config.Config, log *logrus.Logger) (*System, error) {
	collector := metrics.NewCollector()

	cacheOpts := []governor.CacheOption{governor.WithCacheCollector(collector)}
	var redisTier *governor.RedisTier
	if cfg.Redis.Addr != "" {
		tier, err := governor.NewRedisTier(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.WithError(err).Warn("redis tier unavailable, running with in-process cache only")
		} else {
			redisTier = tier
			cacheOpts = append(cacheOpts, governor.WithRedisTier(tier))
		}
	}
	cache := governor.NewCache(nil, log, cacheOpts...)
	cache.Start()

	limiter := governor.NewRateLimiter(nil, log, governor.WithLimiterCollector(collector))
	gov := governor.New(cache, limiter, cfg.Governor, log, collector)

	var provider dataflows.Provider
	if cfg.MarketData.BaseURL != "" {
		provider = dataflows.NewHTTPProvider(cfg.MarketData.BaseURL, cfg.MarketData.APIKey, cfg.MarketData.Timeout, log)
	} else {
		log.Warn("market data URL not configured, using bundled sample data")
		provider = sampleProvider()
	}
	provider = dataflows.NewGovernedProvider(gov, provider)

	var retrievalClient retrieval.Client
	if cfg.Retrieval.BaseURL != "" {
		retrievalClient = retrieval.NewHTTPClient(cfg.Retrieval.BaseURL, cfg.Retrieval.Timeout, log)
	} else {
		retrievalClient = sampleCorpus()
	}
	retrievalClient = retrieval.NewCached(retrievalClient, cache)

	registry := agents.NewRegistry(agents.Deps{
		Memory:    memory.NewStore(cfg.Memory, log),
		Retrieval: retrievalClient,
		Provider:  provider,
		Collector: collector,
		Log:       log,
	})
	engine := debate.NewEngine(cfg.Debate, log, debate.WithCollector(collector))
	orch := orchestrator.New(cfg.Orchestrator, registry, engine, log, orchestrator.WithCollector(collector))

	if cfg.Metrics.ListenAddr != "" {
		serveMetrics(cfg.Metrics.ListenAddr, collector.Handler(), log)
	}

	return &System{
		Orchestrator: orch,
		Collector:    collector,
		cache:        cache,
		redis:        redisTier,
	}, nil
}

// sampleProvider serves a representative large-cap snapshot so the CLI works
// offline.
func sampleProvider() dataflows.Provider {
	return dataflows.NewStaticProvider().
		SetJSON(dataflows.ResourceMarketData, dataflows.Quote{
			Ticker: "SAMPLE",
			Price:  decimal.RequireFromString("187.44"),
			Change: decimal.RequireFromString("-1.02"),
			Volume: 48_210_345,
		}).
		SetJSON(dataflows.ResourceFundamentals, dataflows.Fundamentals{
			Ticker:          "SAMPLE",
			MarketCap:       decimal.New(28, 11),
			PERatio:         24.5,
			PBRatio:         4.2,
			DebtToEquity:    0.8,
			ReturnOnEquity:  0.21,
			RevenueGrowth:   0.11,
			EarningsGrowth:  0.14,
			FreeCashFlow:    decimal.New(9, 10),
			GrossMargin:     0.44,
			OperatingMargin: 0.29,
			CurrentRatio:    1.1,
			Beta:            1.1,
			AccrualRatio:    0.03,
		}).
		SetJSON(dataflows.ResourceSentiment, []string{
			"services revenue beats expectations",
			"regulatory scrutiny over app store fees",
		})
}

// sampleCorpus is the built-in framework library used when no retrieval
// service is configured.
func sampleCorpus() retrieval.Client {
	return retrieval.NewStatic(
		retrieval.Framework{ID: "dcf", Name: "Discounted Cash Flow", Content: "estimate intrinsic value from projected free cash flow and a discount rate", Tags: []string{"value", "valuation"}},
		retrieval.Framework{ID: "moat", Name: "Economic Moat Analysis", Content: "durable competitive advantages: brands, switching costs, network effects, cost advantages", Tags: []string{"value", "competitive"}},
		retrieval.Framework{ID: "rule40", Name: "Rule of 40", Content: "revenue growth plus operating margin should exceed forty percent for healthy software businesses", Tags: []string{"growth"}},
		retrieval.Framework{ID: "tam", Name: "TAM Expansion", Content: "total addressable market sizing and share capture trajectory", Tags: []string{"growth"}},
		retrieval.Framework{ID: "var", Name: "Value at Risk", Content: "maximum expected loss at a confidence level over a holding period", Tags: []string{"risk"}},
		retrieval.Framework{ID: "stress", Name: "Stress Testing", Content: "portfolio behavior under historical crisis scenarios", Tags: []string{"risk"}},
		retrieval.Framework{ID: "porter", Name: "Porter Five Forces", Content: "industry structure: rivalry, entrants, substitutes, supplier and buyer power", Tags: []string{"competitive"}},
		retrieval.Framework{ID: "beneish", Name: "Beneish M-Score", Content: "statistical screen for earnings manipulation built on accrual ratios", Tags: []string{"forensic"}},
		retrieval.Framework{ID: "quality", Name: "Earnings Quality Analysis", Content: "cash conversion, accrual trends and one-off adjustments behind reported earnings", Tags: []string{"forensic"}},
	)
}
