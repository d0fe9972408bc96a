package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"mlm"
	"mlm/codecref"
	"mlm/config"
	"mlm/cryptoref"
	"mlm/observability/logging"
	telemetry "mlm/observability/otel"
	"mlm/wal"
)

const (
	validatorPassEnv = "MLM_VALIDATOR_PASS"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the engine tuning configuration file")
	genesisFile := flag.String("genesis", "./genesis.yaml", "Path to the genesis authority roster file")
	keystoreFile := flag.String("keystore", "./validator.keystore", "Path to the validator's encrypted keystore file")
	devFlag := flag.Bool("dev", false, "DEV ONLY: generate an ephemeral validator key instead of loading a keystore")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MLM_ENV"))
	log := logging.Setup("mlmnode", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if v := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "mlmnode",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialise telemetry: %v", err))
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	authority, err := config.LoadGenesis(*genesisFile)
	if err != nil {
		panic(fmt.Sprintf("failed to load genesis: %v", err))
	}

	crypto, err := loadValidatorKey(*keystoreFile, *devFlag)
	if err != nil {
		panic(fmt.Sprintf("failed to load validator key: %v", err))
	}

	w, err := wal.Open(filepath.Join(cfg.DataDir, "wal"))
	if err != nil {
		panic(fmt.Sprintf("failed to open write-ahead log: %v", err))
	}
	defer w.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consensusHost := newLocalConsensus(crypto, authority, log)
	durationCfg := cfg.DurationConfig()
	instance := mlm.New[Block](crypto.Address(), consensusHost, crypto, codecref.New[Block](), w, mlm.Config{
		InitHeight:  1,
		IntervalMS:  cfg.IntervalMS,
		Authority:   authority,
		TimerConfig: &durationCfg,
	})

	log.Info("mlmnode initialised", "address", cryptoref.Bech32(crypto.Address()), "authority_size", len(authority))
	fmt.Println("--- mlmnode running ---")
	if err := instance.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("engine exited with error", "err", err)
	}
	fmt.Println("--- mlmnode shutting down ---")
}

func loadValidatorKey(keystorePath string, dev bool) (*cryptoref.Crypto, error) {
	if dev {
		key, err := ethcrypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral dev key: %w", err)
		}
		return cryptoref.New(ethcrypto.FromECDSA(key))
	}

	passphrase, ok := os.LookupEnv(validatorPassEnv)
	if !ok || strings.TrimSpace(passphrase) == "" {
		return nil, fmt.Errorf("validator keystore passphrase required; set %s", validatorPassEnv)
	}
	return cryptoref.LoadKeystore(keystorePath, passphrase)
}
