package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"insiderwatch/internal/app"
	"insiderwatch/internal/config"
	cronrunner "insiderwatch/internal/cron"
	"insiderwatch/internal/db"
	"insiderwatch/internal/handler"
	"insiderwatch/internal/jobs"
	"insiderwatch/internal/logger"
	"insiderwatch/internal/metrics"

	_ "insiderwatch/docs"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		panic(err)
	}
	cfgPath := os.Getenv("IW_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("IW_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}
	defer svc.Close()

	var queue jobs.Queue
	policy := jobs.RetryPolicy{MaxRetries: cfg.Cron.MaxRetries, Backoff: cfg.Cron.RetryBackoff}
	if cfg.Cron.Enabled {
		queue = cronrunner.New(logger, ctx, policy)
	} else {
		queue = jobs.NewInline(logger, policy)
	}
	if err := svc.RegisterJobs(queue); err != nil {
		logger.Fatal("register jobs failed", zap.Error(err))
	}
	queue.Start()
	defer queue.Stop()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(metrics.GinMiddleware())

	health := &handler.HealthHandler{
		DB:          handler.PingFunc(func(context.Context) error { return db.Ping(svc.DB) }),
		MetricsPath: cfg.Server.MetricsPath,
	}
	if svc.Redis != nil {
		health.Cache = svc.Redis
	}
	health.Register(engine)

	alerts := &handler.AlertsHandler{Repo: svc.Store, Workflow: svc.Workflow}
	alerts.Register(engine)
	candidates := &handler.CandidatesHandler{Repo: svc.Store, Workflow: svc.Workflow, QueueLimit: cfg.Investigation.QueueLimit}
	candidates.Register(engine)
	scores := &handler.ScoresHandler{Repo: svc.Store}
	scores.Register(engine)
	feedbackRuns := &handler.FeedbackHandler{Repo: svc.Store, Loop: svc.Feedback}
	feedbackRuns.Register(engine)
	settingsHandler := &handler.SettingsHandler{Repo: svc.Store, Settings: svc.Settings, Registry: svc.Registry}
	settingsHandler.Register(engine)
	jobsHandler := &handler.JobsHandler{Queue: queue}
	jobsHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
