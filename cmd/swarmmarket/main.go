// @title			SwarmMarket API
// @version		1.0
// @description	Marketplace where agents list capabilities, receive tasks over signed webhooks and get paid on accepted results.
// @BasePath		/api/v1
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/swarmmarket/internal/config"
	"github.com/mtlprog/swarmmarket/internal/database"
	"github.com/mtlprog/swarmmarket/internal/handler"
	"github.com/mtlprog/swarmmarket/internal/logger"
	"github.com/mtlprog/swarmmarket/internal/middleware"
	"github.com/mtlprog/swarmmarket/internal/repository"
	"github.com/mtlprog/swarmmarket/internal/webhook"
)

func main() {
	app := &cli.App{
		Name:  "swarmmarket",
		Usage: "Marketplace for hiring AI agents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Aliases: []string{"d"},
				Value:   config.DefaultDatabaseURL,
				Usage:   "PostgreSQL database URL",
				EnvVars: []string{"DATABASE_URL"},
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logger.ParseLevel(c.String("log-level"))
			if err != nil {
				return err
			}
			logger.Setup(os.Stdout, level)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the web server",
				Flags:  serveFlags(),
				Action: runServe,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations and exit",
				Action: runMigrate,
			},
			{
				Name:  "report",
				Usage: "Print the top earning listings",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 10,
						Usage: "Number of listings to show",
					},
				},
				Action: runReport,
			},
		},
	}
	// Running without a command serves, so the server flags are accepted at the top level too.
	app.Flags = append(app.Flags, serveFlags()...)
	app.Action = runServe

	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Value:   config.DefaultPort,
			Usage:   "HTTP server port",
			EnvVars: []string{"PORT"},
		},
		&cli.StringFlag{
			Name:    "jwt-secret",
			Value:   config.DefaultJWTSecret,
			Usage:   "Secret used to sign access tokens",
			EnvVars: []string{"JWT_SECRET"},
		},
		&cli.DurationFlag{
			Name:    "token-ttl",
			Value:   config.DefaultTokenTTL,
			Usage:   "Lifetime of issued access tokens",
			EnvVars: []string{"TOKEN_TTL"},
		},
		&cli.StringFlag{
			Name:    "frontend-origin",
			Value:   config.DefaultFrontendOrigin,
			Usage:   "Web client origin allowed by CORS",
			EnvVars: []string{"FRONTEND_URL"},
		},
		&cli.StringFlag{
			Name:    "base-url",
			Value:   config.DefaultBaseURL,
			Usage:   "Public URL of the API, used in webhook callback URLs",
			EnvVars: []string{"BASE_URL"},
		},
		&cli.DurationFlag{
			Name:    "webhook-timeout",
			Value:   config.DefaultWebhookTimeout,
			Usage:   "Timeout of a single webhook delivery attempt",
			EnvVars: []string{"WEBHOOK_TIMEOUT"},
		},
		&cli.IntFlag{
			Name:    "webhook-max-retries",
			Value:   config.DefaultWebhookMaxRetries,
			Usage:   "Retries after the first failed webhook delivery",
			EnvVars: []string{"WEBHOOK_MAX_RETRIES"},
		},
		&cli.DurationFlag{
			Name:    "webhook-base-delay",
			Value:   config.DefaultWebhookBaseDelay,
			Usage:   "First backoff interval between webhook delivery attempts",
			EnvVars: []string{"WEBHOOK_BASE_DELAY"},
		},
	}
}

// loadConfig builds the configuration from flags and environment.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{
		Port:              c.String("port"),
		DatabaseURL:       c.String("database-url"),
		LogLevel:          c.String("log-level"),
		JWTSecret:         c.String("jwt-secret"),
		TokenTTL:          c.Duration("token-ttl"),
		FrontendOrigin:    c.String("frontend-origin"),
		BaseURL:           c.String("base-url"),
		WebhookTimeout:    c.Duration("webhook-timeout"),
		WebhookMaxRetries: c.Int("webhook-max-retries"),
		WebhookBaseDelay:  c.Duration("webhook-base-delay"),
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = config.DefaultJWTSecret
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openDatabase connects and applies pending migrations.
func openDatabase(ctx context.Context, databaseURL string) (*database.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := database.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := database.RunMigrations(ctx, db.Pool()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func runServe(c *cli.Context) error {
	ctx := c.Context

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.UsesDefaultSecret() {
		slog.Warn("using the development JWT secret, set JWT_SECRET in production")
	}

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	notifier := webhook.NewNotifier(webhook.Config{
		Timeout:    cfg.WebhookTimeout,
		MaxRetries: cfg.WebhookMaxRetries,
		BaseDelay:  cfg.WebhookBaseDelay,
		BaseURL:    cfg.BaseURL,
	})

	h := handler.New(db.Pool(), cfg, notifier)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.CORS(cfg.AllowedOrigins())(mux),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "server_addr", "http://localhost:"+cfg.Port, "base_url", cfg.BaseURL)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-done:
		slog.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	h.Wait()

	slog.Info("server stopped")
	return nil
}

func runMigrate(c *cli.Context) error {
	ctx := c.Context

	db, err := database.New(ctx, c.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	version, err := database.RunMigrations(ctx, db.Pool())
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "schema version %d\n", version)
	return nil
}

func runReport(c *cli.Context) error {
	ctx := c.Context

	limit := c.Int("limit")
	if limit < 1 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}

	db, err := openDatabase(ctx, c.String("database-url"))
	if err != nil {
		return err
	}
	defer db.Close()

	earners, err := repository.NewListingRepository(db.Pool()).TopEarners(ctx, limit)
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(c.App.Writer)
	tw.AppendHeader(table.Row{"Listing", "Slug", "Hires", "Completed", "Earned", "Rating"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	for _, e := range earners {
		rating := "-"
		if e.AvgRating != nil {
			rating = fmt.Sprintf("%.2f (%d)", *e.AvgRating, e.RatingCount)
		}
		tw.AppendRow(table.Row{
			e.Name,
			e.Slug,
			e.TotalHires,
			e.TasksCompleted,
			fmt.Sprintf("%d.%02d", e.TotalEarnedCents/100, e.TotalEarnedCents%100),
			rating,
		})
	}
	tw.Render()

	return nil
}
