// Command quorumflow answers a single question from the command line,
// either through the single-pass RAG pipeline or through the multi-agent
// council, and prints the result as JSON.
//
// Usage:
//
//	quorumflow ask     --query "..." [--config config.yaml] [--scopes docs,wiki]
//	quorumflow council --query "..." [--config config.yaml] [--strategy synthesis]
//	quorumflow version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quorumflow/quorumflow/config"
	"github.com/quorumflow/quorumflow/council"
	"github.com/quorumflow/quorumflow/llm"
	"github.com/quorumflow/quorumflow/orchestrator"
	"github.com/quorumflow/quorumflow/rag"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ask":
		run(os.Args[2:], false)
	case "council":
		run(os.Args[2:], true)
	case "version":
		fmt.Printf("quorumflow %s (%s)\n", Version, GitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `quorumflow - retrieval-and-consensus engine

Commands:
  ask      answer one query through the RAG pipeline
  council  answer one query through the multi-agent council
  version  print version information

Flags (ask/council):
  --config    path to a YAML configuration file
  --query     the question to answer (required)
  --scopes    comma-separated index scopes, overrides configuration
  --strategy  voting strategy (council only), overrides configuration
`)
}

func run(args []string, councilMode bool) {
	fs := flag.NewFlagSet("quorumflow", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	query := fs.String("query", "", "question to answer")
	scopes := fs.String("scopes", "", "comma-separated index scopes")
	strategy := fs.String("strategy", "", "voting strategy override")
	_ = fs.Parse(args)

	if *query == "" {
		fmt.Fprintln(os.Stderr, "--query is required")
		os.Exit(2)
	}

	cfg, err := config.NewLoader().WithConfigPath(*configPath).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *scopes != "" {
		parts := strings.Split(*scopes, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.Council.Scopes = parts
		cfg.Pipeline.Scopes = parts
	}
	if *strategy != "" {
		cfg.Strategy = *strategy
	}

	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// A one-shot process has nothing to scrape, so metrics go to a private
	// registry and are printed on exit instead.
	var registry *prometheus.Registry
	var collector *orchestrator.Collector
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		collector = orchestrator.NewCollector(registry)
		cfg.Retrieval.StageHook = collector.RetrievalStageHook()
	}

	result, err := answer(context.Background(), cfg, logger, *query, councilMode, collector)
	if err != nil {
		logger.Error("invocation failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "encode result: %v\n", err)
		os.Exit(1)
	}

	if registry != nil {
		if err := dumpMetrics(os.Stderr, registry); err != nil {
			logger.Warn("metrics dump failed", zap.Error(err))
		}
	}
}

// dumpMetrics writes the run's metrics in the Prometheus text exposition
// format.
func dumpMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

func answer(ctx context.Context, cfg *config.Config, logger *zap.Logger, query string, councilMode bool, collector *orchestrator.Collector) (any, error) {
	base := llm.NewOpenAICompatProvider(llm.OpenAICompatConfig{
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Timeout:        cfg.LLM.Timeout,
	}, logger)
	var provider llm.CompletionProvider = base
	if cfg.LLM.RateLimitRPS > 0 {
		provider = llm.NewRateLimitedProvider(base, cfg.LLM.RateLimitRPS, cfg.LLM.RateLimitBurst, logger)
	}
	budgeter := llm.NewTokenBudgeter(cfg.LLM.TokenEncoding)
	retriever := buildRetriever(cfg, provider, base, logger)

	var sink orchestrator.PersistenceSink = orchestrator.NopSink{}
	if cfg.Persistence.Enabled {
		db, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		gormSink, err := orchestrator.NewGormSink(db)
		if err != nil {
			return nil, err
		}
		sink = gormSink
	}

	if !councilMode {
		pcfg := cfg.Pipeline
		if len(pcfg.Scopes) == 0 {
			pcfg.ResearchEnabled = false
		}
		var pipelineRetriever *rag.Retriever
		if pcfg.ResearchEnabled {
			pipelineRetriever = retriever
		}
		pipeline, err := orchestrator.NewPipeline(pipelineRetriever, provider, budgeter, pcfg, logger)
		if err != nil {
			return nil, err
		}
		pipeline.SetSink(sink)
		if collector != nil {
			pipeline.SetCollector(collector)
		}
		return pipeline.Generate(ctx, query)
	}

	strat, err := council.StrategyByName(cfg.Strategy, provider)
	if err != nil {
		return nil, err
	}
	voters := make([]council.Agent, 0, len(cfg.Voters))
	for _, vc := range cfg.Voters {
		voter, err := council.NewVoter(vc, provider, logger)
		if err != nil {
			return nil, err
		}
		voters = append(voters, voter)
	}

	opts := []orchestrator.CouncilOption{orchestrator.WithSink(sink)}
	if len(cfg.Council.Scopes) > 0 {
		opts = append(opts, orchestrator.WithRetriever(retriever, budgeter))
	}
	if collector != nil {
		opts = append(opts, orchestrator.WithCollector(collector))
	}
	c, err := orchestrator.NewCouncil(voters, strat, cfg.Council, logger, opts...)
	if err != nil {
		return nil, err
	}
	return c.Evaluate(ctx, query)
}

// buildRetriever wires the qdrant index, the intent extractor with its
// cache, and the staged retriever. Completion calls (intent extraction)
// go through the possibly rate-limited provider; embedding goes straight
// to the base provider.
func buildRetriever(cfg *config.Config, provider llm.CompletionProvider, embedder llm.Embedder, logger *zap.Logger) *rag.Retriever {
	index := rag.NewQdrantIndex(cfg.Qdrant, logger)

	var cache rag.IntentCache = rag.NewMemoryIntentCache(cfg.Redis.TTL)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = rag.NewRedisIntentCache(client, cfg.Redis.TTL, logger)
	}
	intent := rag.NewIntentExtractor(provider, cache, 0.1, logger)

	return rag.NewRetriever(index, embedder, intent, cfg.Retrieval, logger)
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.Persistence.Driver {
	case "postgres":
		return orchestrator.OpenPostgres(cfg.Persistence.DSN)
	default:
		return orchestrator.OpenSQLite(cfg.Persistence.DSN)
	}
}
