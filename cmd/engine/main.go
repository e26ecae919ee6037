package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zeromicro/go-zero/core/logx"

	"nof0-api/internal/cli"
	appconfig "nof0-api/internal/config"
	"nof0-api/internal/svc"
	"nof0-api/pkg/confkit"

	_ "nof0-api/pkg/exchange/hyperliquid"
	_ "nof0-api/pkg/exchange/sim"
	_ "nof0-api/pkg/market/exchanges/hyperliquid"
)

func fatalf(format string, args ...interface{}) {
	logx.Errorf(format, args...)
	os.Exit(1)
}

// serveMetrics exposes the Engine's Prometheus counters (internal/metrics)
// until the process exits. Failure to bind logs and returns rather than
// aborting startup: the cycle loop runs fine without observability.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logx.Infof("serving metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logx.Errorf("metrics server stopped: %v", err)
	}
}

func main() {
	appConfig := flag.String("app-config", "etc/nof0.yaml", "path to application config")
	metricsAddr := flag.String("metrics-addr", ":9090", "listen address for the /metrics endpoint")
	flag.Parse()

	logx.MustSetup(logx.LogConf{})
	logx.DisableStat()
	confkit.LoadDotenvOnce()

	path := strings.TrimSpace(*appConfig)
	if path == "" {
		fatalf("app-config flag cannot be empty")
	}

	cfg, err := appconfig.Load(path)
	if err != nil {
		fatalf("load app config %s: %v", path, err)
	}
	cli.LogConfigSummary(cfg)

	svcCtx := svc.NewServiceContext(*cfg, cfg.MainPath())
	if svcCtx.Engine == nil {
		fatalf("engine not wired: check engine/exchange/market config sections in %s", path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go serveMetrics(*metricsAddr)

	logx.Info("starting engine cycle loop")
	if err := svcCtx.Engine.Start(ctx); err != nil {
		fatalf("engine stopped with error: %v", err)
	}
	svcCtx.Engine.Cleanup()
	logx.Info("engine stopped")
}
