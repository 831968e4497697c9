package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"levtrade/internal/config"
	cronrunner "levtrade/internal/cron"
	"levtrade/internal/db"
	"levtrade/internal/engine"
	"levtrade/internal/feed"
	"levtrade/internal/handler"
	"levtrade/internal/logger"
	"levtrade/internal/notify"
	"levtrade/internal/riskband"
	"levtrade/internal/service"
	"levtrade/internal/store"
	gormstore "levtrade/internal/store/gorm"
	memorystore "levtrade/internal/store/memory"
)

func main() {
	cfgPath := os.Getenv("LT_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("LT_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	var positions store.PositionStore
	var dbConn *db.DB
	if strings.TrimSpace(cfg.DB.DSN) != "" {
		dbConn, err = db.Open(cfg.DB)
		if err != nil {
			log.Fatal("db open failed", zap.Error(err))
		}
		defer db.Close(dbConn)
		if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
			log.Warn("failed to set timezone", zap.Error(err))
		}
		if err := db.AutoMigrate(dbConn); err != nil {
			log.Fatal("auto-migrate failed", zap.Error(err))
		}
		positions = gormstore.New(dbConn.Gorm)
		log.Info("using postgres store")
	} else {
		positions = memorystore.New()
		log.Info("using in-memory store")
	}

	sizer, err := engine.NewSizer(
		decimal.NewFromFloat(cfg.Engine.LadderStartFraction),
		cfg.Engine.LadderRungs,
		decimal.NewFromFloat(cfg.Engine.CapitalCapFraction),
	)
	if err != nil {
		log.Fatal("bad ladder config", zap.Error(err))
	}
	tracker, err := engine.NewPercentBandTracker(
		toDecimalBands(cfg.Clusters.DefaultBands),
		toDecimalBandMap(cfg.Clusters.PerSymbol),
	)
	if err != nil {
		log.Fatal("bad cluster config", zap.Error(err))
	}

	senders := []notify.Sender{notify.NewLogSender(log)}
	if url := strings.TrimSpace(cfg.Notify.WebhookURL); url != "" {
		senders = append(senders, notify.NewWebhookSender(url))
	}
	notifier := notify.NewNotifier(senders, cfg.Notify.QueueSize, log)
	notifier.Start()
	defer notifier.Close()

	eng, err := engine.New(positions, sizer, tracker, notifier, log, engine.Config{
		TPMultiplier:      decimal.NewFromFloat(cfg.Engine.TPMultiplier),
		PartialTPFraction: decimal.NewFromFloat(cfg.Engine.PartialTPFraction),
		TrailingRetrace:   decimal.NewFromFloat(cfg.Engine.TrailingRetracePct),
		MaxDoublings:      cfg.Engine.MaxDoublings,
	})
	if err != nil {
		log.Fatal("bad engine config", zap.Error(err))
	}

	classifier := riskband.NewVolClassifier(cfg.Risk.Window, cfg.Risk.FullRiskPct)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sources []feed.PriceSource
	if cfg.Feed.Rest.Enabled {
		sources = append(sources, &feed.RestPoller{
			Logger:       log,
			Endpoint:     cfg.Feed.Rest.Endpoint,
			Symbols:      cfg.Feed.Symbols,
			PollInterval: cfg.Feed.Rest.PollInterval,
		})
	}
	if cfg.Feed.WS.Enabled {
		sources = append(sources, &feed.WSSource{
			Logger:  log,
			URL:     cfg.Feed.WS.URL,
			Symbols: cfg.Feed.Symbols,
		})
	}

	ticks := make(chan feed.Tick, 1024)
	for _, src := range sources {
		go runSource(ctx, src, ticks, log)
	}

	dispatcher := &service.TickDispatcher{
		Engine:     eng,
		Store:      positions,
		Classifier: classifier,
		Logger:     log,
	}
	go dispatcher.Run(ctx, ticks)

	healthHandler := &handler.HealthHandler{Sources: sources}
	if dbConn != nil {
		healthHandler.DB = dbConn.Gorm
	}
	healthHandler.Register(router)
	positionHandler := &handler.PositionHandler{
		Engine:     eng,
		Store:      positions,
		Classifier: classifier,
	}
	positionHandler.Register(router)

	cronRunner := cronrunner.New(log, ctx)
	if cfg.Cron.Enabled {
		if _, err := cronRunner.Add("cluster_refresh", cfg.Cron.ClusterRefresh, func(ctx context.Context) {
			eng.RefreshClusters(ctx)
		}); err != nil {
			log.Warn("cron register cluster refresh failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// runSource keeps one price source alive, restarting it with a short backoff
// after transport failures.
func runSource(ctx context.Context, src feed.PriceSource, out chan<- feed.Tick, log *zap.Logger) {
	for {
		err := src.Start(ctx, out)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		log.Warn("price source stopped, restarting",
			zap.String("source", src.Name()), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func toDecimalBands(bands []float64) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(bands))
	for _, b := range bands {
		out = append(out, decimal.NewFromFloat(b))
	}
	return out
}

func toDecimalBandMap(m map[string][]float64) map[string][]decimal.Decimal {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string][]decimal.Decimal, len(m))
	for sym, bands := range m {
		out[strings.ToUpper(sym)] = toDecimalBands(bands)
	}
	return out
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
