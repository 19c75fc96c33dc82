// Command x402-facilitator serves the split-payment facilitator API.
//
// Configuration is read from an optional file (--config) and from
// X402_* environment variables, which take precedence:
//
//	X402_KORA_RPC_URL=http://localhost:8080 \
//	X402_NETWORK=solana-devnet \
//	X402_DEFAULT_FEE_TOKEN=So11111111111111111111111111111111111111112 \
//	x402-facilitator
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	x402 "github.com/vitwit/x402split"
	"github.com/vitwit/x402split/clients"
	"github.com/vitwit/x402split/logger"
	"github.com/vitwit/x402split/metrics"
	"github.com/vitwit/x402split/server"
	"github.com/vitwit/x402split/types"
	"github.com/vitwit/x402split/utils"
)

var configKeys = []string{
	"kora_rpc_url",
	"kora_api_key",
	"solana_rpc_url",
	"network",
	"default_fee_token",
	"supported_tokens",
	"default_timeout",
	"listen_addr",
	"log_level",
	"enable_metrics",
}

func main() {
	configPath := flag.String("config", "", "path to a config file (json, yaml or toml)")
	version := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *version {
		for key, value := range x402.GetVersion() {
			fmt.Printf("%s: %v\n", key, value)
		}
		return
	}

	config, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewZapLogger(config.LogLevel)
	if z, ok := log.(*logger.ZapLogger); ok {
		defer func() { _ = z.Sync() }()
	}

	if err := run(config, log); err != nil {
		log.Error("facilitator stopped", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func loadConfig(path string) (*types.FacilitatorConfig, error) {
	v := viper.New()
	v.SetDefault("network", string(types.NetworkSolanaDevnet))
	v.SetDefault("listen_addr", ":8402")
	v.SetDefault("log_level", "info")
	v.SetDefault("default_timeout", "30s")

	v.SetEnvPrefix("X402")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	var config types.FacilitatorConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := utils.CheckFacilitatorConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func run(config *types.FacilitatorConfig, log logger.Logger) error {
	opts := []x402.Option{x402.WithLogger(log)}
	serverOpts := []server.Option{server.WithLogger(log)}

	if config.EnableMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		rec, err := metrics.NewPrometheusRecorder(reg)
		if err != nil {
			return err
		}
		opts = append(opts, x402.WithMetrics(rec))
		serverOpts = append(serverOpts, server.WithMetrics(rec), server.WithMetricsEndpoint(reg))
	}

	if config.SolanaRPCURL != "" {
		ledger, err := clients.NewSolanaClient(config.Network, config.SolanaRPCURL)
		if err != nil {
			return err
		}
		defer ledger.Close()
		serverOpts = append(serverOpts, server.WithLedger(ledger))
	}

	facilitator, err := x402.New(config, opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              config.ListenAddr,
		Handler:           server.New(facilitator, serverOpts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("facilitator listening", map[string]any{
			"addr":    config.ListenAddr,
			"network": string(config.Network),
			"version": x402.Version,
			"metrics": config.EnableMetrics,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
