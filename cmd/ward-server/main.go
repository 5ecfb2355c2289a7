package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/ehr/ward/internal/config"
	"github.com/ehr/ward/internal/domain/admin"
	"github.com/ehr/ward/internal/domain/admission"
	"github.com/ehr/ward/internal/domain/careteam"
	"github.com/ehr/ward/internal/domain/documents"
	"github.com/ehr/ward/internal/domain/identity"
	"github.com/ehr/ward/internal/domain/intake"
	"github.com/ehr/ward/internal/platform/auth"
	"github.com/ehr/ward/internal/platform/blobstore"
	"github.com/ehr/ward/internal/platform/db"
	"github.com/ehr/ward/internal/platform/extraction"
	"github.com/ehr/ward/internal/platform/middleware"
	"github.com/ehr/ward/internal/platform/notification"
	"github.com/ehr/ward/internal/platform/telemetry"
	"github.com/ehr/ward/migrations"
)

const version = "0.1.0"

const (
	// JSON bodies carry pasted text up to the upload limit plus escaping.
	jsonOverhead      = 64 << 10
	multipartOverhead = 1 << 20

	extractionBurst = 3
	sweepInterval   = 10 * time.Minute
	cacheCleanup    = time.Minute
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ward-server",
		Short: "Ward clinical record manager API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(extractCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationFiles(dir))
			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.SchemaFor("default"), "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Migration status for schema: %s\n", schema)
			fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.SchemaFor("default"), "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// migrationFiles returns dir as a filesystem, or the migrations compiled into
// the binary when dir is empty.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <id>",
		Short: "Create a tenant schema and apply all migrations to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Creating tenant schema: %s\n", db.SchemaFor(args[0]))
			if err := db.CreateTenantSchema(ctx, pool, args[0], migrations.FS); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Tenant created successfully.")
			return nil
		},
	})
	return cmd
}

// extractCmd runs the recognition service on a local file and prints the
// mapped candidates, for checking extraction quality without a session.
func extractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract patient candidates from a local document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			doc, err := readDocument(args[0], cfg.MaxUploadBytes)
			if err != nil {
				return err
			}

			extractor, err := extraction.NewAnthropicExtractorFromKey(cfg.AnthropicAPIKey,
				extraction.WithModel(cfg.ExtractionModel),
				extraction.WithTimeout(cfg.ExtractionTimeout),
				extraction.WithLogger(newLogger(cfg.Env).Level(zerolog.WarnLevel)),
			)
			if err != nil {
				return err
			}

			res, err := extractor.Analyze(cmd.Context(), doc)
			if err != nil {
				return fmt.Errorf("extract %s: %w", doc.Filename, err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(intake.MapCandidates(res.Patients))
		},
	}
}

// readDocument loads a file for extraction. Text files go through the pasted
// text path; everything else must be a PDF, JPEG or PNG.
func readDocument(path string, maxBytes int64) (extraction.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return extraction.Document{}, err
	}
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return extraction.ValidateText(string(data), maxBytes)
	}
	return extraction.Validate(extraction.Document{Filename: filepath.Base(path), Data: data}, maxBytes)
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// extractionKey charges recognition calls to the acting user within their
// tenant, falling back to the client address.
func extractionKey(c echo.Context) string {
	ctx := c.Request().Context()
	if user := auth.UserIDFromContext(ctx); user != "" {
		return db.TenantFromContext(ctx) + "/" + user
	}
	return c.RealIP()
}

func openSessionStore(cfg *config.Config) (intake.SessionStore, func() error, error) {
	switch cfg.SessionStore {
	case "sqlite":
		s, err := intake.NewSQLiteStore(cfg.SessionSQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return intake.NewMemoryStore(), func() error { return nil }, nil
	}
}

func newExtractor(cfg *config.Config, logger zerolog.Logger) (extraction.Extractor, error) {
	if !cfg.ExtractionEnabled() {
		logger.Warn().Msg("ANTHROPIC_API_KEY not set; document extraction is disabled")
		return extraction.Disabled{}, nil
	}
	return extraction.NewAnthropicExtractorFromKey(cfg.AnthropicAPIKey,
		extraction.WithModel(cfg.ExtractionModel),
		extraction.WithTimeout(cfg.ExtractionTimeout),
		extraction.WithLogger(logger),
	)
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Background workers stop when the server shuts down.
	bg, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// Tracing
	shutdownTracing, err := telemetry.InitTracing(bg, telemetry.TracingConfig{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise tracing")
	}

	// Database
	pool, err := db.NewPool(bg, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.NewMetrics()

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(telemetry.TracingMiddleware(otel.GetTracerProvider()))
	e.Use(metrics.Middleware())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.MaxUploadBytes+jsonOverhead, cfg.MaxUploadBytes+multipartOverhead))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
			Skipper:  auth.AuthSkipper,
		}))
	}

	// Tenant middleware
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1")

	// Domain services
	identitySvc := identity.NewService(identity.NewPatientRepoPG(pool))
	admissionSvc := admission.NewService(admission.NewAdmissionRepoPG(pool))
	notesSvc := documents.NewService(documents.NewClinicalNoteRepoPG(pool))
	adminSvc := admin.NewService(admin.NewFacilityRepoPG(pool), admin.NewProfileRepoPG(pool))
	teamSvc := careteam.NewService(careteam.NewTeamRepoPG(pool))

	// The admissions listing is cached per tenant; an intake commit drops it.
	cacheStore := middleware.NewInMemoryCacheStore()
	cacheStore.StartCleanup(bg, cacheCleanup)
	admissionsCache := middleware.NewResponseCache(cacheStore, cfg.AdmissionsCacheTTL)

	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)
	admission.NewHandler(admissionSvc).RegisterRoutes(apiV1, admissionsCache.Middleware())
	documents.NewHandler(notesSvc).RegisterRoutes(apiV1)
	admin.NewHandler(adminSvc).RegisterRoutes(apiV1)
	careteam.NewHandler(teamSvc).RegisterRoutes(apiV1)

	// Notifications
	var sender notification.Sender = notification.LogSender{Logger: logger}
	if cfg.NotifyWebhookURL != "" {
		sender = notification.NewWebhookSender(cfg.NotifyWebhookURL)
	}
	dispatcher := notification.NewDispatcher(sender, notification.WithLogger(logger))

	// Intake pipeline
	sessions, closeSessions, err := openSessionStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open session store")
	}
	defer closeSessions()

	blobs, err := blobstore.Open(bg, blobstore.Config{
		Driver:    cfg.BlobDriver,
		Bucket:    cfg.BlobS3Bucket,
		Region:    cfg.BlobS3Region,
		Endpoint:  cfg.BlobS3Endpoint,
		PathStyle: cfg.BlobS3PathStyle,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open blob store")
	}

	extractor, err := newExtractor(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure extraction")
	}

	committer := intake.NewCommitExecutor(identitySvc, admissionSvc,
		intake.WithNoteSaver(notesSvc),
		intake.WithOnboarding(adminSvc),
		intake.WithCacheInvalidator(admissionsCache),
		intake.WithNotifier(dispatcher),
		intake.WithCommitLogger(logger),
	)
	pipeline := intake.NewPipeline(intake.Deps{
		Sessions:   sessions,
		Extractor:  extractor,
		Blobs:      blobs,
		Detector:   intake.DuplicateDetectorFunc(identitySvc.FindByNames),
		Facilities: adminSvc,
		Teams:      teamSvc,
		Committer:  committer,
	},
		intake.WithRecorder(metrics),
		intake.WithTracerProvider(otel.GetTracerProvider()),
		intake.WithLogger(logger),
		intake.WithMaxUploadBytes(cfg.MaxUploadBytes),
		intake.WithSessionTTL(cfg.SessionTTL),
	)
	pipeline.StartSweeper(bg, sweepInterval)

	var extractLimit []echo.MiddlewareFunc
	if cfg.ExtractionsPerMin > 0 {
		limiter := middleware.NewRateLimiter(cfg.ExtractionsPerMin, extractionBurst, extractionKey)
		extractLimit = append(extractLimit, limiter.Middleware())
	}
	intake.NewHandler(pipeline).RegisterRoutes(apiV1, extractLimit...)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	stopBackground()
	if err := dispatcher.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("notifications not drained")
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Warn().Err(err).Msg("tracing shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
