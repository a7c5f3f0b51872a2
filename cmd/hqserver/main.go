// Copyright 2024 The proxygen-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command hqserver runs the sample handler suite over HTTP/1.1, h2c and
// (with TLS material) HTTP/3, with Prometheus metrics on a side port.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/jdelliot/proxygen"
)

// Set via -ldflags at build time.
//
//nolint:gochecknoglobals
var (
	version   = "devel"
	gitCommit = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		addr        = flag.String("addr", "", "listen address for HTTP/1.1 and h2c (overrides config)")
		logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("hqserver %s (%s)\n", version, gitCommit)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := proxygen.NewMetrics(registry)

	mux := &proxygen.Mux{
		HTTPVersion:         cfg.HTTPVersion,
		MaxResponseLength:   cfg.MaxResponseLength,
		MaxChunkSize:        cfg.MaxChunkSize,
		EgressBufferLimit:   cfg.EgressBufferLimit,
		WriteBytesPerSecond: cfg.WriteBytesPerSecond,
		Unhealthy:           cfg.Unhealthy,
		Logger:              logger,
		Metrics:             metrics,
	}
	handler := chain(mux.AsHandler(),
		withRecovery(logger),
		withRequestID(),
		withAccessLog(logger),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeout),
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeout),
	}

	var h3Server *http3.Server
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		h3Server = &http3.Server{
			Addr:    cfg.H3Addr,
			Handler: handler,
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("version", version))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if h3Server != nil {
		group.Go(func() error {
			logger.Info("HTTP/3 listening", zap.String("addr", cfg.H3Addr))
			if err := h3Server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeout))
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if metricsErr := metricsServer.Shutdown(shutdownCtx); err == nil {
			err = metricsErr
		}
		if h3Server != nil {
			if h3Err := h3Server.Close(); err == nil {
				err = h3Err
			}
		}
		return err
	})
	return group.Wait()
}

func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	return cfg.Build()
}
