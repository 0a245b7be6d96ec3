package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/queryglass-ai/queryglass-engine/pkg/audit"
	"github.com/queryglass-ai/queryglass-engine/pkg/config"
	"github.com/queryglass-ai/queryglass-engine/pkg/database"
	"github.com/queryglass-ai/queryglass-engine/pkg/llm"
	"github.com/queryglass-ai/queryglass-engine/pkg/logging"
	"github.com/queryglass-ai/queryglass-engine/pkg/models"
	"github.com/queryglass-ai/queryglass-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	question := flag.String("q", "", "answer one question and exit")
	verbose := flag.Bool("v", false, "print generated SQL and column types with each answer")
	flag.Parse()

	// .env is optional; deployments set environment variables directly.
	_ = godotenv.Load()

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting queryglass-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("database", cfg.Database.Database),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.New(ctx, &database.Config{
		ConnString:     cfg.Database.ConnectionString(),
		MinConnections: cfg.Database.MinConnections,
		MaxConnections: cfg.Database.MaxConnections,
		AcquireTimeout: time.Duration(cfg.Database.AcquireTimeoutSeconds) * time.Second,
		QueryTimeout:   time.Duration(cfg.Database.QueryTimeoutSeconds) * time.Second,
		CatalogTTL:     time.Duration(cfg.Database.CatalogTTLSeconds) * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	apiKey := cfg.LLM.OpenAIAPIKey
	if cfg.LLM.Provider == llm.ProviderAnthropic {
		apiKey = cfg.LLM.AnthropicAPIKey
	}
	llmClient, err := llm.NewClientForProvider(cfg.LLM.Provider, &llm.Config{
		Endpoint:  cfg.LLM.Endpoint,
		Model:     cfg.LLM.Model,
		APIKey:    apiKey,
		MaxTokens: cfg.LLM.MaxTokens,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create LLM client", zap.Error(err))
	}

	schemaSvc := services.NewSchemaService(pool, cfg.Schema, cfg.Database.Database, logger.Named("schema"))
	retriever := services.NewSchemaRetriever(schemaSvc, logger.Named("retriever"))

	var embeddings services.SchemaEmbeddingService
	if cfg.Pipeline.EnableEmbeddings {
		embeddings = services.NewSchemaEmbeddingService(schemaSvc, llmClient, cfg.LLM.EmbeddingModel, logger.Named("embeddings"))
	}

	generator := services.NewQueryGenerator(schemaSvc, retriever, embeddings, llmClient, cfg.Pipeline, logger.Named("generator"))
	validator := services.NewQueryValidator(schemaSvc, logger.Named("validator"))
	executor := services.NewQueryExecutor(
		pool,
		audit.NewSecurityAuditor(logger),
		audit.NewHistory(audit.DefaultHistorySize),
		cfg.Database.MaxRows,
		logger.Named("executor"),
	)
	parser := services.NewResultParser(cfg.Pipeline.MaxDisplayRows, cfg.Pipeline.MaxTextLength, logger.Named("parser"))
	pipeline := services.NewText2SQLService(generator, validator, executor, parser, cfg.Pipeline, logger.Named("text2sql"))

	// Warm the snapshot so the first question skips the catalog fetch.
	if _, err := schemaSvc.GetSchema(ctx, true, false); err != nil {
		logger.Warn("Initial schema load failed", zap.Error(err))
	}

	if *question != "" {
		answer(ctx, pipeline, *question, *verbose)
		return
	}

	runREPL(ctx, pipeline, *verbose)
}

func runREPL(ctx context.Context, pipeline services.Text2SQLService, verbose bool) {
	fmt.Println("queryglass - ask questions about your database (empty line or Ctrl-D to exit)")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || ctx.Err() != nil {
			return
		}
		answer(ctx, pipeline, line, verbose)
	}
}

func answer(ctx context.Context, pipeline services.Text2SQLService, question string, verbose bool) {
	response := pipeline.ProcessQuery(ctx, &models.QueryRequest{Question: question})

	if verbose {
		fmt.Printf("sql: %s\n", response.GeneratedSQL)
		fmt.Printf("confidence: %.2f\n", response.Confidence)
		if response.QueryResult != nil && len(response.QueryResult.ColumnTypes) > 0 {
			fmt.Printf("column types: %s\n", strings.Join(response.QueryResult.ColumnTypes, ", "))
		}
	}
	fmt.Println(response.Interpretation)
}
