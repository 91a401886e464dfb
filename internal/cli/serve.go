package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"landingzone/internal/api"
	"landingzone/internal/auth"
	"landingzone/internal/hub"
	"landingzone/internal/provision"
	"landingzone/internal/redis"
	"landingzone/internal/service/account"
	"landingzone/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the landing zone web UI",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if os.Getenv(gin.EnvGinMode) == "" && !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	dbType := cfg.BasicConfig.Database
	logger.Info("opening database", zap.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
	}

	authService, err := auth.NewService(db, rdb, time.Duration(cfg.BasicConfig.SessionTTL)*time.Minute, logger)
	if err != nil {
		return fmt.Errorf("init auth service: %w", err)
	}
	provider := auth.NewProvider(cfg.OAuth, auth.NewCache(rdb), nil)
	workflow, err := newWorkflow()
	if err != nil {
		return err
	}
	handler := api.NewHandler(account.NewService(db), authService, provider, workflow, api.Options{
		MaxUploadBytes:   cfg.BasicConfig.MaxUploadMB << 20,
		TemplateSpace:    cfg.Hub.TemplateSpace,
		MCPServerName:    cfg.Hub.MCPServerName,
		DataRepoVariable: cfg.Hub.DataRepoVariable,
	}, rdb, logger)

	router := api.NewRouter(logger)
	handler.RegisterRoutes(router)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	authService.StartSessionCleaner(ctx, auth.DefaultSessionCleanupInterval)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newWorkflow wires the provisioning workflow to the hub from the config.
func newWorkflow() (*provision.Workflow, error) {
	opts, err := provision.OptionsFromConfig(cfg.Hub)
	if err != nil {
		return nil, err
	}
	endpoint := cfg.Hub.Endpoint
	newHub := func(token string) provision.Hub {
		return hub.NewClient(endpoint, token, hub.WithLogger(logger))
	}
	return provision.New(newHub, opts, logger), nil
}
