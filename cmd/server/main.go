// Command server runs a web3cupid node: it replays the ledger, serves the
// transaction and query API, and streams committed events over websocket.
//
// Configuration comes from environment variables, optionally loaded from a
// .env file in the working directory:
//
//	LISTEN_ADDR=:8080 LEDGER_BACKEND=sqlite SQLITE_PATH=cupid.db go run ./cmd/server
//
// # Ledger backends
//
// LEDGER_BACKEND selects where the commit log lives: "mem" (volatile, for
// demos), "sqlite" (single file, SQLITE_PATH) or "postgres" (POSTGRES_*
// variables). Persistent backends require GATEWAY_KEY, a 32-byte hex key,
// so ciphertexts written before a restart still open after it.
//
// # Privileged roles
//
// ORACLE_ADDRESS, ADMIN_ADDRESS and SCORER_ADDRESS gate human verification,
// token minting and compatibility scoring. Leaving one empty disables the
// corresponding operation.
package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/shivaniD96/web3cupid/api/httpserver"
	"github.com/shivaniD96/web3cupid/crypto"
	"github.com/shivaniD96/web3cupid/gateway"
	"github.com/shivaniD96/web3cupid/ledger"
	"github.com/shivaniD96/web3cupid/protocol"
	"github.com/shivaniD96/web3cupid/server"
	"github.com/shivaniD96/web3cupid/tdx"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("loading .env: %w", err)
	}
	cfg := loadConfig()

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	chainCfg, err := chainConfig(cfg)
	if err != nil {
		return err
	}

	gw, err := newGateway(cfg, log)
	if err != nil {
		return err
	}

	ledgerLog, err := newLedger(cfg)
	if err != nil {
		return err
	}
	defer ledgerLog.Close()

	node, err := protocol.NewNode(chainCfg, gw, ledgerLog, log)
	if err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	if verifier := newAttestationVerifier(cfg); verifier != nil {
		node.SetAttestationVerifier(verifier)
	}

	srv, err := server.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.GetString("LISTEN_ADDR"),
		MetricsAddr:              cfg.GetString("METRICS_ADDR"),
		EnablePprof:              cfg.GetBool("ENABLE_PPROF"),
		Log:                      log,
		DrainDuration:            cfg.GetDuration("DRAIN_DURATION"),
		GracefulShutdownDuration: cfg.GetDuration("GRACEFUL_SHUTDOWN_DURATION"),
		ReadTimeout:              cfg.GetDuration("READ_TIMEOUT"),
		WriteTimeout:             cfg.GetDuration("WRITE_TIMEOUT"),
	}, node)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	log.Info("node up",
		"listen_addr", cfg.GetString("LISTEN_ADDR"),
		"ledger_backend", cfg.GetString("LEDGER_BACKEND"),
		"active_users", node.ActiveUserCount(),
	)
	srv.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	srv.Shutdown()
	return nil
}

func loadConfig() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":8090")
	v.SetDefault("ENABLE_PPROF", false)
	v.SetDefault("DRAIN_DURATION", "5s")
	v.SetDefault("GRACEFUL_SHUTDOWN_DURATION", "10s")
	v.SetDefault("READ_TIMEOUT", "15s")
	v.SetDefault("WRITE_TIMEOUT", "15s")

	v.SetDefault("LOG_JSON", false)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("LEDGER_BACKEND", "mem")
	v.SetDefault("SQLITE_PATH", "web3cupid.db")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_USER", "web3cupid")
	v.SetDefault("POSTGRES_DB", "web3cupid")

	return v
}

func newLogger(cfg *viper.Viper) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.GetBool("LOG_JSON") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

// chainConfig starts from the default parameters and applies any overrides
// set in the environment.
func chainConfig(cfg *viper.Viper) (*protocol.Config, error) {
	c := protocol.DefaultConfig()

	if cfg.IsSet("MIN_STAKE") {
		c.MinStake = cfg.GetUint64("MIN_STAKE")
	}
	if cfg.IsSet("MESSAGE_STAKE") {
		c.MessageStake = cfg.GetUint64("MESSAGE_STAKE")
	}
	if cfg.IsSet("SUPER_LIKE_COST") {
		c.SuperLikeCost = cfg.GetUint64("SUPER_LIKE_COST")
	}
	if cfg.IsSet("PROFILE_BOOST_COST") {
		c.ProfileBoostCost = cfg.GetUint64("PROFILE_BOOST_COST")
	}
	if cfg.IsSet("PREMIUM_COST") {
		c.PremiumCost = cfg.GetUint64("PREMIUM_COST")
	}
	if cfg.IsSet("BOOST_DURATION") {
		c.BoostDuration = cfg.GetDuration("BOOST_DURATION")
	}
	if cfg.IsSet("PREMIUM_DURATION") {
		c.PremiumDuration = cfg.GetDuration("PREMIUM_DURATION")
	}
	c.Oracle = crypto.Address(cfg.GetString("ORACLE_ADDRESS"))
	c.Admin = crypto.Address(cfg.GetString("ADMIN_ADDRESS"))
	c.Scorer = crypto.Address(cfg.GetString("SCORER_ADDRESS"))

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func newGateway(cfg *viper.Viper, log *slog.Logger) (gateway.Gateway, error) {
	keyHex := cfg.GetString("GATEWAY_KEY")
	if keyHex == "" {
		if cfg.GetString("LEDGER_BACKEND") != "mem" {
			return nil, fmt.Errorf("GATEWAY_KEY is required with a persistent ledger backend")
		}
		log.Warn("GATEWAY_KEY not set, ciphertexts will not survive a restart")
		return gateway.NewInMemoryGateway()
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_KEY: %w", err)
	}
	return gateway.NewInMemoryGatewayWithKey(key)
}

func newLedger(cfg *viper.Viper) (ledger.Log, error) {
	switch backend := cfg.GetString("LEDGER_BACKEND"); backend {
	case "mem":
		return ledger.NewMemLog(), nil
	case "sqlite":
		return ledger.NewSQLiteLog(cfg.GetString("SQLITE_PATH"))
	case "postgres":
		return ledger.NewPostgresLog(&ledger.PostgresConfig{
			Host:     cfg.GetString("POSTGRES_HOST"),
			Port:     cfg.GetInt("POSTGRES_PORT"),
			User:     cfg.GetString("POSTGRES_USER"),
			Password: cfg.GetString("POSTGRES_PASSWORD"),
			Database: cfg.GetString("POSTGRES_DB"),
			SSLMode:  cfg.GetString("POSTGRES_SSL_MODE"),
		})
	default:
		return nil, fmt.Errorf("unknown LEDGER_BACKEND %q", backend)
	}
}

// newAttestationVerifier wires the oracle's quote check. Without TDX the
// oracle signature is the only gate on human verification.
func newAttestationVerifier(cfg *viper.Viper) protocol.AttestationVerifier {
	if !cfg.GetBool("USE_TDX") {
		return nil
	}
	var provider tdx.AttestationProvider = &tdx.TDXProvider{}
	if url := cfg.GetString("TDX_URL"); url != "" {
		provider = &tdx.RemoteDCAPProvider{URL: url, Timeout: 30 * time.Second}
	}
	return &tdx.QuoteVerifier{Provider: provider}
}
