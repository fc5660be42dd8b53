package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/catalyzator-io/catalyzator-sub000/internal/config"
	"github.com/catalyzator-io/catalyzator-sub000/internal/db"
	"github.com/catalyzator-io/catalyzator-sub000/internal/draft"
	"github.com/catalyzator-io/catalyzator-sub000/internal/events"
	"github.com/catalyzator-io/catalyzator-sub000/internal/formreg"
	"github.com/catalyzator-io/catalyzator-sub000/internal/handler"
	"github.com/catalyzator-io/catalyzator-sub000/internal/metrics"
	"github.com/catalyzator-io/catalyzator-sub000/internal/repository"
	"github.com/catalyzator-io/catalyzator-sub000/internal/router"
	"github.com/catalyzator-io/catalyzator-sub000/internal/routestate"
	"github.com/catalyzator-io/catalyzator-sub000/internal/service"
)

func serveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := g.setup()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	opts := db.Options{
		Host:        cfg.OxiDB.Host,
		Port:        cfg.OxiDB.Port,
		Size:        cfg.OxiDB.PoolSize,
		DialTimeout: cfg.OxiDB.Timeout,
		Keepalive:   cfg.OxiDB.Keepalive,
	}
	pool, err := db.NewPool(ctx, opts, logger)
	if err != nil {
		return fmt.Errorf("connect to oxidb: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to oxidb",
		zap.String("host", cfg.OxiDB.Host),
		zap.Int("port", cfg.OxiDB.Port),
		zap.Int("pool_size", cfg.OxiDB.PoolSize))

	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return err
		}
		publisher = nc
	}
	defer publisher.Close()

	drafts, err := draft.Open(cfg.Drafts.Path)
	if err != nil {
		return err
	}
	defer drafts.Close()

	forms := formreg.New(logger)
	if err := forms.LoadDefaults(); err != nil {
		return err
	}
	if cfg.Forms.Dir != "" {
		if err := forms.LoadDir(cfg.Forms.Dir); err != nil {
			return err
		}
		if cfg.Forms.Watch {
			go func() {
				if err := forms.Watch(ctx, cfg.Forms.Dir, cfg.Forms.WatchDebounce); err != nil {
					logger.Error("form watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	m := metrics.New()

	// Repositories
	userRepo := repository.NewUserRepo(pool)
	entityRepo := repository.NewEntityRepo(pool)
	subRepo := repository.NewSubmissionRepo(pool)
	sectionRepo := repository.NewSectionRepo(pool)
	routeRepo := repository.NewRouteStateRepo(pool)
	fileRepo := repository.NewFileRepo(pool, cfg.Storage.Bucket)
	adminRepo := repository.NewAdminRepo(pool)

	// Services
	pub := service.NewPublisher(publisher, m, logger)
	authSvc := service.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger)
	userSvc := service.NewUserService(userRepo)
	formSvc := service.NewFormService(forms)
	entitySvc := service.NewEntityService(entityRepo, userRepo, pub, logger)
	sectionSvc := service.NewSectionService(sectionRepo, entitySvc)
	fileSvc := service.NewFileService(fileRepo, userRepo, entitySvc, cfg.Storage, m, logger)
	subSvc := service.NewSubmissionService(forms, subRepo, sectionRepo, entityRepo, drafts, pub, m, logger)
	routeSvc := service.NewRouteService(routeRepo, routestate.Default, cfg.RouteState.HistoryLimit, pub, m, logger)
	dashSvc := service.NewDashboardService(authSvc, entitySvc, subSvc, routeSvc, formSvc)
	adminSvc := service.NewAdminService(subRepo, userRepo, entityRepo, adminRepo, formSvc)

	r := router.New(router.Options{
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Metrics:        m,
		Logger:         logger,
	}, router.Handlers{
		Auth:       handler.NewAuthHandler(authSvc, logger),
		Forms:      handler.NewFormHandler(formSvc, logger),
		Submission: handler.NewSubmissionHandler(subSvc, logger),
		Entity:     handler.NewEntityHandler(entitySvc, logger),
		Section:    handler.NewSectionHandler(sectionSvc, fileSvc, cfg.Storage.MaxUploadBytes, logger),
		Profile:    handler.NewProfileHandler(userSvc, fileSvc, cfg.Storage.MaxUploadBytes, logger),
		Route:      handler.NewRouteHandler(routeSvc, logger),
		Dashboard:  handler.NewDashboardHandler(dashSvc, logger),
		Admin:      handler.NewAdminHandler(adminSvc, logger),
		Files:      handler.NewFileHandler(fileSvc, logger),
		Health:     handler.NewHealthHandler(pool, logger),
	})

	// Serve immediately; index builds on large collections can take minutes,
	// so they run on their own connection.
	go backgroundInit(ctx, cfg, opts, pool, logger)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("grantflow listening", zap.String("addr", cfg.HTTP.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func backgroundInit(ctx context.Context, cfg *config.Config, opts db.Options, pool *db.Pool, logger *zap.Logger) {
	logger = logger.Named("init")
	opts.Size = 1
	opts.Keepalive = 0
	var src db.Source = pool
	initPool, err := db.NewPool(ctx, opts, logger)
	if err != nil {
		logger.Warn("dedicated connection failed, using main pool", zap.Error(err))
	} else {
		defer initPool.Close()
		src = initPool
	}

	start := time.Now()
	if err := repository.EnsureSchema(ctx, src, cfg.Storage.Bucket, logger); err != nil {
		logger.Error("schema setup failed", zap.Error(err))
		return
	}
	if cfg.Auth.AdminPass != "" {
		authSvc := service.NewAuthService(repository.NewUserRepo(src), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, logger)
		if err := authSvc.SeedAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPass); err != nil {
			logger.Warn("seed admin failed", zap.Error(err))
		}
	}
	logger.Info("background init done", zap.Duration("took", time.Since(start).Round(time.Millisecond)))
}
