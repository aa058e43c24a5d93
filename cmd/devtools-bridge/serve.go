package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EchoPBX/devtools-bridge/internal/bridge"
	"github.com/EchoPBX/devtools-bridge/internal/config"
	"github.com/EchoPBX/devtools-bridge/internal/host"
	"github.com/EchoPBX/devtools-bridge/internal/httpserver"
	"github.com/EchoPBX/devtools-bridge/internal/logging"
	"github.com/EchoPBX/devtools-bridge/internal/metrics"
	"github.com/EchoPBX/devtools-bridge/internal/motion"
	"github.com/EchoPBX/devtools-bridge/internal/reloader"
	"github.com/EchoPBX/devtools-bridge/internal/sink"
	"github.com/EchoPBX/devtools-bridge/internal/upload"
	"github.com/EchoPBX/devtools-bridge/pkg/sdk"
)

func newServeCmd() *cobra.Command {
	var cfgFlag string
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge and its HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, configPath(cfgFlag), watch, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&cfgFlag, "config", "c", "", "config file (default $DEVBRIDGE_CONFIG or "+defaultConfigPath+")")
	cmd.Flags().BoolVar(&watch, "watch", true, "reload when the config file changes")
	return cmd
}

func serve(ctx context.Context, cfgPath string, watch bool, stdout io.Writer) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, level, err := logging.New(logging.Cfg{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Banner
	fmt.Fprintln(stdout, `
  ____              _____           _
 |  _ \  _____   __|_   _|__   ___ | |___
 | | | |/ _ \ \ / /  | |/ _ \ / _ \| / __|
 | |_| |  __/\ V /   | | (_) | (_) | \__ \
 |____/ \___| \_/    |_|\___/ \___/|_|___/

DevTools Bridge · shake gesture and log events
-----------------------------------------------
Config:  `+cfgPath+`
`)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)
	registrar := host.NewRegistrar(logger.Named("host"))

	var file *sink.File
	if !cfg.Sink.Disabled {
		file = sink.NewFile(cfg.Sink.Path, logger.Named("sink"))
	}

	loc, err := cfg.BridgeLocation()
	if err != nil {
		return fmt.Errorf("bridge location: %w", err)
	}
	opts := []bridge.Option{
		bridge.WithRegistrar(registrar),
		bridge.WithObserver(collector),
	}
	if file != nil {
		opts = append(opts, bridge.WithLogStore(file))
	}
	b := bridge.New(bridge.Config{
		DebounceWindow: cfg.Bridge.DebounceWindow,
		ShakeEnabled:   !cfg.Bridge.DisableShake,
		LogLevel:       cfg.BridgeLevel(),
		Location:       loc,
	}, logger.Named("bridge"), opts...)
	if err := b.Start(); err != nil {
		return err
	}
	if file != nil {
		if _, err := b.Subscribe(sdk.EventLog, file.HandleLog); err != nil {
			return err
		}
	}

	deps := httpserver.Deps{
		Bridge:   b,
		Modules:  registrar,
		Uploader: upload.NewClient(cfg.Upload.Timeout, logger.Named("upload")),
		Gatherer: reg,
	}
	if file != nil {
		deps.LogFile = file
	}
	var slack *upload.SlackClient
	if cfg.Upload.Slack.Token != "" {
		slack = upload.NewSlackClient(slackConfig(cfg), cfg.Upload.Timeout, logger.Named("slack"))
		deps.Slack = slack
	}
	srv, err := httpserver.New(cfg, logger.Named("http"), deps)
	if err != nil {
		_ = registrar.Shutdown(context.Background())
		return fmt.Errorf("http surface: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var motionClient *motion.Client
	if cfg.Motion.Enabled {
		motionClient = motion.NewClient(cfg.Motion, logger.Named("motion"), b)
		go motionClient.Run(runCtx)
	}

	var reloadMu sync.Mutex
	reload := func() {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		newCfg, err := config.Load(cfgPath)
		if err != nil {
			logger.Warn("config reload failed", zap.Error(err))
			return
		}
		if err := logging.SetLevel(level, newCfg.Logging.Level); err != nil {
			logger.Warn("log level reload failed", zap.Error(err))
		}
		b.SetDebounceWindow(newCfg.Bridge.DebounceWindow)
		b.SetLogLevel(newCfg.BridgeLevel())
		if motionClient != nil {
			motionClient.Reload(newCfg.Motion)
		}
		if slack != nil {
			slack.Reload(slackConfig(newCfg))
		}
		srv.Reload(newCfg)
		logger.Info("reloaded config",
			zap.Duration("debounce_window", newCfg.Bridge.DebounceWindow),
			zap.String("bridge_log_level", newCfg.Bridge.LogLevel))
	}

	// Hot reload con SIGHUP
	reloader.OnSIGHUP(runCtx, reload)
	if watch {
		if _, err := reloader.WatchFile(runCtx, cfgPath, 0, logger.Named("reloader"), reload); err != nil {
			logger.Warn("config watch disabled", zap.Error(err))
		}
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", httpSrv.Addr), zap.Bool("tls", cfg.HTTP.TLS.Enabled))
		var err error
		if cfg.HTTP.TLS.Enabled {
			err = httpSrv.ListenAndServeTLS(cfg.HTTP.TLS.Cert, cfg.HTTP.TLS.Key)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		logger.Error("http server failed", zap.Error(runErr))
	}

	// Graceful shutdown
	logger.Info("shutting down...")
	cancel()
	if motionClient != nil {
		motionClient.Close()
	}

	if err := shutdown(logger, httpSrv, cfg.HTTP.ShutdownTimeout, registrar, cfg.Bridge.FlushTimeout); err != nil && runErr == nil {
		runErr = err
	}
	logger.Info("bye")
	return runErr
}

func slackConfig(cfg *config.Config) upload.SlackConfig {
	return upload.SlackConfig{
		Token:    cfg.Upload.Slack.Token,
		Token2:   cfg.Upload.Slack.Token2,
		Channel:  cfg.Upload.Slack.Channel,
		Platform: cfg.Upload.Slack.Platform,
	}
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdown stops the HTTP server first and then the modules, each under its
// own deadline.
func shutdown(log *zap.Logger, httpSrv shutdowner, httpTimeout time.Duration, modules shutdowner, flushTimeout time.Duration) error {
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), httpTimeout)
	defer cancelHTTP()
	if err := httpSrv.Shutdown(httpCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), flushTimeout)
	defer cancelFlush()
	if err := modules.Shutdown(flushCtx); err != nil {
		log.Warn("module shutdown", zap.Error(err))
		return err
	}
	return nil
}
