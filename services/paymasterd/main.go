package paymasterd

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"paymaster/activity"
	"paymaster/chain"
	"paymaster/engine"
	"paymaster/observability/logging"
	telemetry "paymaster/observability/otel"
	"paymaster/reconcile"
	"paymaster/safe"
)

// Main initialises and runs the payout daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/paymasterd/config.yaml", "path to paymasterd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PAYMASTER_ENV"))
	logger := logging.Setup("paymasterd", env)
	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "paymasterd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("configuration loaded",
		"listen", cfg.ListenAddress,
		"location", cfg.Location,
		"chains", len(cfg.Chains),
		logging.Field("bearer_token", cfg.Admin.BearerToken),
	)

	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return fmt.Errorf("load location %s: %w", cfg.Location, err)
	}

	readers := make(map[string]*chain.Reader, len(cfg.Chains))
	indexes := make(map[string]chain.BlockIndex, len(cfg.Chains))
	for name, chainCfg := range cfg.Chains {
		dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := ethclient.DialContext(dialCtx, chainCfg.RPC)
		cancel()
		if err != nil {
			return fmt.Errorf("dial chain %s: %w", name, err)
		}
		defer client.Close()
		readers[name] = chain.NewReader(client)
		if strings.TrimSpace(chainCfg.BlockIndex) != "" {
			indexes[name] = chain.NewHTTPBlockIndex(chainCfg.BlockIndex)
		}
	}

	signer, err := safe.NewKeySigner(cfg.Signer.Key())
	if err != nil {
		return fmt.Errorf("load signer key: %w", err)
	}

	flows, err := BuildFlows(cfg.Flows)
	if err != nil {
		return fmt.Errorf("build flows: %w", err)
	}

	var price engine.PriceSource
	if cfg.Flows.Tiered != nil {
		feed, err := activity.NewPriceFeed(cfg.Flows.Tiered.PriceFeed)
		if err != nil {
			return fmt.Errorf("price feed: %w", err)
		}
		price = feed
	}

	eng, err := engine.New(engine.Config{
		Indexes:  indexes,
		Readers:  readers,
		Service:  safe.NewHTTPService(cfg.SafeService),
		Signer:   signer,
		History:  reconcile.NewExplorerClient(cfg.History.Endpoint, cfg.History.APIKey(), cfg.History.RequestsPerSecond),
		Price:    price,
		Location: loc,
		Log:      logger,
		Metrics:  NewMetrics(),
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	if cfg.PauseOnStart {
		eng.Pause()
	}

	auth, err := NewAuthenticator(cfg.Admin.BearerToken)
	if err != nil {
		return fmt.Errorf("init authenticator: %w", err)
	}
	server := NewServer(eng, flows, auth, logger)
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("paymasterd listening", "address", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
