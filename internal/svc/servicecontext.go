package svc

import (
	"context"
	"log"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/stat"
	gocache "github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlc"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	appcache "nof0-api/internal/cache"
	"nof0-api/internal/adapter"
	"nof0-api/internal/config"
	"nof0-api/internal/metrics"
	enginepersist "nof0-api/internal/persistence/engine"
	marketpersist "nof0-api/internal/persistence/market"
	"nof0-api/internal/repo"
	"nof0-api/pkg/confkit"
	"nof0-api/pkg/contracts"
	enginepkg "nof0-api/pkg/engine"
	exchangepkg "nof0-api/pkg/exchange"
	_ "nof0-api/pkg/exchange/hyperliquid"
	executorpkg "nof0-api/pkg/executor"
	"nof0-api/pkg/journal"
	llmpkg "nof0-api/pkg/llm"
	marketpkg "nof0-api/pkg/market"
	_ "nof0-api/pkg/market/exchanges/hyperliquid"
	"nof0-api/pkg/panel"
	"nof0-api/pkg/portfolio"
	"nof0-api/pkg/reconcile"
	"nof0-api/pkg/scan"
)

// ServiceContext is the composition root: it wires every collaborator the
// Engine (C13) drives each cycle, plus the optional Postgres/Redis
// persistence layer.
type ServiceContext struct {
	Config config.Config

	LLMConfig       *llmpkg.Config
	EngineConfig    *enginepkg.Config
	ExchangeConfig  *exchangepkg.Config
	ExchangeProviders map[string]exchangepkg.Provider
	DefaultExchange exchangepkg.Provider
	MarketConfig    *marketpkg.Config
	MarketProviders map[string]marketpkg.Provider
	DefaultMarket   marketpkg.Provider

	DBConn sqlx.SqlConn
	Cache  gocache.Cache
	Repos  *repo.Set

	MarketPersistence marketpkg.Persistence
	EnginePersistence *enginepersist.Service

	Engine *enginepkg.Engine
}

// NewServiceContext wires the full dependency graph. Fatal on malformed
// required configuration (mirroring the teacher's fail-fast startup);
// optional collaborators (Postgres, individual config sections) degrade to
// nil/no-op rather than aborting startup.
func NewServiceContext(c config.Config, mainConfigPath string) *ServiceContext {
	svc := &ServiceContext{Config: c}

	baseDir := confkit.BaseDir(mainConfigPath)

	if c.LLM.File != "" {
		llmCfg, err := llmpkg.LoadConfig(confkit.ResolvePath(baseDir, c.LLM.File))
		if err != nil {
			log.Fatalf("failed to load llm config: %v", err)
		}
		if c.IsTestEnv() {
			llmCfg.DefaultModel = "google/gemini-2.5-flash-lite"
		}
		svc.LLMConfig = llmCfg
	}

	if c.Engine.File != "" {
		engineCfg, err := enginepkg.LoadConfig(confkit.ResolvePath(baseDir, c.Engine.File))
		if err != nil {
			log.Fatalf("failed to load engine config: %v", err)
		}
		svc.EngineConfig = engineCfg
	}

	if c.Exchange.File != "" {
		exchangeCfg, err := exchangepkg.LoadConfig(confkit.ResolvePath(baseDir, c.Exchange.File))
		if err != nil {
			log.Fatalf("failed to load exchange config: %v", err)
		}
		if c.IsTestEnv() {
			for _, provider := range exchangeCfg.Providers {
				provider.Testnet = true
			}
		}
		providers, err := exchangeCfg.BuildProviders()
		if err != nil {
			log.Fatalf("failed to build exchange providers: %v", err)
		}
		svc.ExchangeConfig = exchangeCfg
		svc.ExchangeProviders = providers
		if exchangeCfg.Default != "" {
			svc.DefaultExchange = providers[exchangeCfg.Default]
		}
	}

	if c.Market.File != "" {
		marketCfg, err := marketpkg.LoadConfig(confkit.ResolvePath(baseDir, c.Market.File))
		if err != nil {
			log.Fatalf("failed to load market config: %v", err)
		}
		providers, err := marketCfg.BuildProviders()
		if err != nil {
			log.Fatalf("failed to build market providers: %v", err)
		}
		svc.MarketConfig = marketCfg
		svc.MarketProviders = providers
		if marketCfg.Default != "" {
			svc.DefaultMarket = providers[marketCfg.Default]
		}
	}

	ttlSet := appcache.NewTTLSet(c.TTL)

	if c.Postgres.DSN != "" {
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		svc.DBConn = conn

		cacheInst, err := gocache.NewCache(c.Cache, syncx.NewSingleFlight(), stat.NewStat("nof0"), sqlx.ErrNotFound)
		if err != nil {
			log.Fatalf("failed to build redis cache: %v", err)
		}
		svc.Cache = cacheInst

		repos, err := repo.New(repo.Dependencies{
			DBConn:     conn,
			CachedConn: sqlc.NewConn(conn, c.Cache),
			Cache:      cacheInst,
			TTL:        ttlSet,
		})
		if err != nil {
			log.Fatalf("failed to build repo set: %v", err)
		}
		svc.Repos = repos

		svc.MarketPersistence = marketpersist.NewService(marketpersist.Config{
			SQLConn: conn,
			Cache:   cacheInst,
			TTL:     ttlSet,
		})
		svc.EnginePersistence = enginepersist.NewService(enginepersist.Config{
			SQLConn: conn,
			Repos:   repos,
			Cache:   cacheInst,
			TTL:     ttlSet,
		})
	}

	svc.Engine = svc.buildEngine()
	return svc
}

// buildEngine wires the Engine (C13) and every collaborator it drives each
// cycle. Returns nil if the engine config or a required exchange/market
// provider is missing, mirroring the conditional-persistence idiom used for
// the optional Postgres layer.
func (svc *ServiceContext) buildEngine() *enginepkg.Engine {
	if svc.EngineConfig == nil || svc.DefaultExchange == nil || svc.DefaultMarket == nil {
		return nil
	}
	cfg := *svc.EngineConfig

	fetcher := scan.New(svc.DefaultMarket, cfg.MarketFetchTimeout)
	specSource := adapter.NewContractSource(svc.DefaultMarket)
	specs := contracts.New(specSource, cfg.ContractSpecTTL)

	var history portfolio.HistorySource
	var recorder executorpkg.ConversationRecorder
	var closed reconcile.ClosedPositionRepo
	if svc.EnginePersistence != nil {
		history = svc.EnginePersistence
		recorder = svc.EnginePersistence
	}
	if svc.Repos != nil {
		closed = svc.Repos.Closed
	}
	aggregator := portfolio.NewAggregator(svc.DefaultExchange, history, cfg.PortfolioTTL)

	analysts := svc.buildAnalysts(recorder)

	guard := cfg.AntiChurnGuard()
	registry := executorpkg.NewRegistry()
	exec := executorpkg.New(executorpkg.Config{DryRun: cfg.DryRun}, svc.DefaultExchange, specs, guard, registry, recorder)

	journalDir := filepath.Join(svc.Config.DataPath, "journal")
	writer := journal.NewWriter(journalDir)
	reconciler := reconcile.New(registry, nil, closed, writer)

	return enginepkg.New(cfg, enginepkg.Deps{
		Fetcher:     fetcher,
		Specs:       specs,
		Portfolio:   aggregator,
		Analysts:    analysts,
		PanelConfig: panel.Config{CallTimeout: cfg.AnalystTimeout},
		ExchangeSrc: svc.DefaultExchange,
		Executor:    exec,
		Reconciler:  reconciler,
		Registry:    registry,
		HoldHours: func(p portfolio.Position) float64 {
			return p.HoldHours(time.Now())
		},
		EquitySink: equitySink(svc.EnginePersistence),
		Journal:    writer,
		Metrics:    metrics.Default,
	})
}

func equitySink(persist *enginepersist.Service) func(context.Context, float64, time.Time) error {
	if persist == nil {
		return nil
	}
	return persist.RecordEquity
}

func (svc *ServiceContext) buildAnalysts(recorder executorpkg.ConversationRecorder) []panel.Analyst {
	if svc.LLMConfig == nil || svc.EngineConfig == nil {
		return nil
	}
	client, err := llmpkg.NewClient(svc.LLMConfig)
	if err != nil {
		log.Fatalf("failed to build llm client: %v", err)
	}
	analysts := make([]panel.Analyst, 0, len(svc.EngineConfig.Analysts))
	baseDir := confkit.BaseDir(svc.Config.MainPath())
	for _, seat := range svc.EngineConfig.Analysts {
		templatePath := confkit.ResolvePath(baseDir, seat.PromptTemplate)
		a, err := panel.NewLLMAnalyst(seat.ID, client, templatePath, seat.ModelName, recorder)
		if err != nil {
			log.Fatalf("failed to build analyst %s: %v", seat.ID, err)
		}
		analysts = append(analysts, a)
	}
	return analysts
}
