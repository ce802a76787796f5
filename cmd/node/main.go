// Command node runs the bridge's HTTP API: the façade a relayer, signer,
// or dashboard talks to.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Fantasim/nbtcbridge/internal/api"
	"github.com/Fantasim/nbtcbridge/internal/bridge"
	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/logging"
	"github.com/Fantasim/nbtcbridge/internal/spv"
	"github.com/Fantasim/nbtcbridge/internal/storage"
	"github.com/Fantasim/nbtcbridge/internal/tokensink"
	"github.com/Fantasim/nbtcbridge/internal/validatorset"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("node error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting bridge node",
		"version", version,
		"network", cfg.Network,
		"port", cfg.Port,
		"storagePath", cfg.StoragePath,
	)

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	slog.Info("storage opened", "path", cfg.StoragePath)

	oracle, err := loadOracle(cfg.ValidatorsFile)
	if err != nil {
		return fmt.Errorf("failed to load validator set: %w", err)
	}
	validators := validatorset.NewRegistry(oracle, store)

	spvPool := spv.NewPoolFromURLs(cfg.EsploraURLs)

	sink, err := setupTokenSink(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up token sink: %w", err)
	}

	b := bridge.New(store, config.DefaultCheckpointConfig(), config.DefaultBitcoinConfig(), validators, spvPool, sink)

	hub := api.NewProgressHub()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	api.Version = version
	router := api.NewRouter(b, cfg, hub)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	srv := &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    config.ServerReadTimeout,
		WriteTimeout:   config.ServerWriteTimeout,
		IdleTimeout:    config.ServerIdleTimeout,
		MaxHeaderBytes: config.ServerMaxHeaderBytes,
	}

	slog.Info("server configured",
		"readTimeout", config.ServerReadTimeout,
		"writeTimeout", config.ServerWriteTimeout,
		"idleTimeout", config.ServerIdleTimeout,
	)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("initiating graceful shutdown", "timeout", config.ShutdownTimeout)

	hubCancel()

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// loadOracle reads a JSON array of validatorset.OracleValidator from path
// into a StaticOracle. An empty path yields an oracle with no validators,
// useful for a node standing up before any validator has registered.
func loadOracle(path string) (*validatorset.StaticOracle, error) {
	if path == "" {
		slog.Warn("no validators file configured, starting with an empty validator set")
		return validatorset.NewStaticOracle(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read validators file %q: %w", path, err)
	}

	var vals []validatorset.OracleValidator
	if err := json.Unmarshal(data, &vals); err != nil {
		return nil, fmt.Errorf("parse validators file %q: %w", path, err)
	}

	slog.Info("validator set loaded", "count", len(vals), "file", path)
	return validatorset.NewStaticOracle(vals), nil
}

func setupTokenSink(cfg *config.Config) (*tokensink.Sink, error) {
	client, err := ethclient.Dial(cfg.TokenSinkRPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial token sink RPC %s: %w", cfg.TokenSinkRPCURL, err)
	}

	sink, err := tokensink.New(client, cfg.TokenSinkContract, cfg.TokenSinkMnemonic, cfg.Network, cfg.TokenSinkChainID)
	if err != nil {
		return nil, fmt.Errorf("construct token sink: %w", err)
	}

	slog.Info("token sink configured", "rpcURL", cfg.TokenSinkRPCURL, "contract", cfg.TokenSinkContract, "chainID", cfg.TokenSinkChainID)
	return sink, nil
}
