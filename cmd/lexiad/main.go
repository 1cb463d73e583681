package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tokligence/lexia-stream/internal/bootstrap"
	"github.com/tokligence/lexia-stream/internal/config"
	"github.com/tokligence/lexia-stream/internal/health"
	"github.com/tokligence/lexia-stream/internal/httpserver"
	"github.com/tokligence/lexia-stream/internal/lexia"
	"github.com/tokligence/lexia-stream/internal/logging"
	"github.com/tokligence/lexia-stream/internal/metrics"
	"github.com/tokligence/lexia-stream/internal/ratelimit"
	"github.com/tokligence/lexia-stream/internal/version"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	const maxLogBytes = int64(300 * 1024 * 1024) // 300MB
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[lexiad] ")
	if logTarget := strings.TrimSpace(cfg.LogFile); logTarget != "" {
		rot, err := logging.NewRotatingWriter(logTarget, maxLogBytes)
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.Printf("lexiad %s env=%s dev_mode=%t", version.FullInfo(), cfg.Environment, cfg.DevMode)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	ledgerStore, err := bootstrap.OpenLedger(cfg, log.New(log.Writer(), "[lexiad/ledger] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		log.Fatalf("%v", err)
	}
	if ledgerStore != nil {
		defer ledgerStore.Close()
	} else {
		log.Printf("usage ledger disabled (ledger_path empty)")
	}

	conversations, err := bootstrap.OpenConversations(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if conversations != nil {
		defer conversations.Close()
	}

	opts := []lexia.Option{
		lexia.WithLogger(log.New(log.Writer(), "[lexiad/lexia] ", log.LstdFlags|log.Lmicroseconds)),
		lexia.WithMetrics(m),
	}
	if ledgerStore != nil {
		opts = append(opts, lexia.WithLedger(ledgerStore))
	}
	handler := lexia.New(cfg, opts...)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	httpSrv := httpserver.New(handler)
	httpSrv.SetBaseContext(baseCtx)
	httpSrv.SetMetrics(m)
	if conversations != nil {
		httpSrv.SetConversationStore(conversations)
	}
	if ledgerStore != nil {
		httpSrv.SetLedger(ledgerStore)
	}

	probes := map[string]health.Pinger{}
	if p, ok := ledgerStore.(health.Pinger); ok {
		probes["ledger_db"] = p
	}
	if p, ok := conversations.(health.Pinger); ok {
		probes["conversation_db"] = p
	}
	checkerCfg := health.Config{Databases: probes}
	if cfg.HealthProbeCentrifugo && !cfg.DevMode {
		checkerCfg.CentrifugoURL = cfg.CentrifugoURL
	}
	httpSrv.SetHealthChecker(health.New(checkerCfg))

	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerSecond: cfg.SendRatePerSecond, Burst: cfg.SendBurst})
	defer limiter.Close()
	httpSrv.SetRateLimiter(limiter)
	httpSrv.SetLogger(cfg.LogLevel, log.New(log.Writer(), "[lexiad/http] ", log.LstdFlags|log.Lmicroseconds))

	// Stream endpoints hold responses open, so no write timeout.
	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpSrv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("lexia server listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := httpSrv.Wait(shutdownCtx); err != nil {
		log.Printf("in-flight responses did not finish: %v", err)
		cancelBase()
	}
}
