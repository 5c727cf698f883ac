package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/oslabs-beta/graphqlgate/internal/config"
	"github.com/oslabs-beta/graphqlgate/internal/limiter"
	"github.com/oslabs-beta/graphqlgate/internal/middleware"
	"github.com/oslabs-beta/graphqlgate/internal/observability"
	"github.com/oslabs-beta/graphqlgate/internal/store"
	"github.com/oslabs-beta/graphqlgate/internal/typeweights"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	showVersion    = flag.Bool("version", false, "Show version information")
	validateConfig = flag.Bool("validate", false, "Validate configuration and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("GraphQLGate %s\n", Version)
		fmt.Printf("Commit: %s\n", Commit)
		fmt.Printf("Build Date: %s\n", BuildDate)
		os.Exit(0)
	}

	// Initialize logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting GraphQLGate")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	if *validateConfig {
		log.Info().Msg("Configuration is valid")
		os.Exit(0)
	}

	schemaSource, err := os.ReadFile(cfg.GraphQL.SchemaFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.GraphQL.SchemaFile).Msg("Failed to read schema file")
	}
	schemaDoc, err := parser.Parse(parser.ParseParams{Source: string(schemaSource)})
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.GraphQL.SchemaFile).Msg("Failed to parse schema file")
	}

	var pool *pgxpool.Pool
	if cfg.Store.Backend == "postgres" {
		pool, err = pgxpool.New(context.Background(), cfg.Store.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
	}

	st, err := store.NewStore(&cfg.Store, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create rate limit store")
	}
	defer st.Close()

	if pg, ok := st.(*store.PostgresStore); ok {
		if err := pg.EnsureTable(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Failed to prepare rate limit table")
		}
	}

	weights := typeweights.Defaults{
		Mutation:   cfg.GraphQL.MutationWeight,
		Object:     cfg.GraphQL.ObjectWeight,
		Scalar:     cfg.GraphQL.ScalarWeight,
		Connection: cfg.GraphQL.ConnectionWeight,
	}

	gate, err := middleware.NewGate(middleware.GateConfig{
		Algorithm: limiter.Algorithm(cfg.Limiter.Algorithm),
		Options: limiter.Options{
			Capacity:   cfg.Limiter.Capacity,
			RefillRate: cfg.Limiter.RefillRate,
			WindowMs:   cfg.Limiter.WindowMs,
			TTL:        time.Duration(cfg.Limiter.TTLMs) * time.Millisecond,
		},
		Store:               st,
		Schema:              schemaDoc,
		TypeWeights:         &weights,
		PaginationArgs:      cfg.GraphQL.PaginationArgs,
		Dark:                cfg.Limiter.Dark,
		EnforceBoundedLists: cfg.GraphQL.EnforceBoundedLists,
		DepthLimit:          cfg.GraphQL.DepthLimit,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build rate limit middleware")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(middleware.RequestLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get(cfg.Server.MetricsPath, observability.Handler())

	// The gate runs in front of whatever resolves the query. The bundled
	// handler just acknowledges admitted requests; production deployments
	// proxy to their GraphQL server here.
	app.Post("/graphql", gate, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"data": fiber.Map{
				"cost":      c.Locals(middleware.LocalCost),
				"remaining": c.Locals(middleware.LocalResult).(*limiter.Result).Remaining,
			},
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info().Str("addr", addr).Str("algorithm", cfg.Limiter.Algorithm).Msg("GraphQLGate listening")
		if err := app.Listen(addr); err != nil {
			log.Fatal().Err(err).Msg("Server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error().Err(err).Msg("Forced shutdown")
	}
}
