// Command tiercache fetches images through the two-tier cache and manages
// the on-disk cache directory.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/IvanBrykalov/tiercache/internal/config"
	"github.com/IvanBrykalov/tiercache/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "dev"

type app struct {
	v       *viper.Viper
	cfgFile string

	cfg     *config.Config
	log     *logrus.Logger
	reg     *prometheus.Registry
	metrics *http.Server
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:               "tiercache",
		Short:             "Fetch and cache images in memory and on disk",
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (yaml or toml)")
	pf.String("cache-dir", "", "cache directory (default: per-user cache dir)")
	pf.String("log-level", "info", "log level: trace, debug, info, warn, error")
	pf.String("metrics-addr", "", "serve Prometheus metrics at addr while running")
	_ = a.v.BindPFlag("cache_dir", pf.Lookup("cache-dir"))
	_ = a.v.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = a.v.BindPFlag("metrics_addr", pf.Lookup("metrics-addr"))

	root.AddCommand(a.fetchCmd(), a.statsCmd(), a.clearCmd())
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, logger
	a.reg = prometheus.NewRegistry()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
		a.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Warn("metrics server stopped")
			}
		}()
		logger.WithFields(logrus.Fields{"action": "metrics", "addr": cfg.MetricsAddr}).Info("serving metrics")
	}
	logger.WithFields(logrus.Fields{"action": cmd.Name(), "cache_dir": cfg.CacheDir}).Debug("configured")
	return nil
}

func (a *app) teardown() error {
	if a.metrics == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.metrics.Shutdown(ctx)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
