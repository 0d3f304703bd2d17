// Command splitpay-server serves the splitter management API, the
// build-split-tx endpoint and the payment-gated demo resource.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/x402-foundation/splitpay"
	"github.com/x402-foundation/splitpay/extensions/idempotency"
	splitpayhttp "github.com/x402-foundation/splitpay/http"
	"github.com/x402-foundation/splitpay/internal/config"
	"github.com/x402-foundation/splitpay/internal/logging"
	"github.com/x402-foundation/splitpay/internal/metrics"
	"github.com/x402-foundation/splitpay/mechanisms/svm"
	splitpaygin "github.com/x402-foundation/splitpay/pkg/gin"
	"github.com/x402-foundation/splitpay/store/memory"
	"github.com/x402-foundation/splitpay/store/sqlstore"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:          "splitpay-server",
		Short:        "Serve the split payment API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	return cmd
}

// store is what the server needs from a persistence backend.
type store interface {
	splitpay.ConfigStore
	splitpay.RecordStore
	splitpay.UsageStore
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(dsn string) (store, io.Closer, error) {
	if dsn == "" {
		return memory.New(), nopCloser{}, nil
	}
	s, err := sqlstore.Open(dsn)
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, logCloser, err := logging.New("splitpay-server", cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logging.SetDefault(logger)

	programID, err := svm.ParseAddress(cfg.ProgramID)
	if err != nil {
		return fmt.Errorf("invalid program id: %w", err)
	}
	mint, err := svm.ParseAddress(cfg.USDCMint)
	if err != nil {
		return fmt.Errorf("invalid usdc mint: %w", err)
	}
	mode, err := svm.ParseSettlementMode(cfg.SettlementMode)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	st, stCloser, err := openStore(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer stCloser.Close()

	ledger := svm.NewRPCLedger(cfg.RPCURL)

	gateway := splitpay.NewConfigGateway(st, svm.NewAddresses(programID), ledger,
		splitpay.WithGatewayLogger(logger))

	builderOpts := []svm.BuilderOption{
		svm.WithBuilderProgramID(programID),
		svm.WithMint(mint, svm.USDCDecimals),
		svm.WithSettlementMode(mode),
		svm.WithBuilderLogger(logger),
		svm.WithBuilderMetrics(m),
	}
	if cfg.ComputeUnitPrice > 0 {
		builderOpts = append(builderOpts, svm.WithComputeBudget(cfg.ComputeUnitLimit, cfg.ComputeUnitPrice))
	}
	builder := svm.NewTransactionBuilder(ledger, builderOpts...)

	verifierOpts := []splitpay.VerifierOption{
		splitpay.WithInspector(svm.NewInspector(programID, mint)),
		splitpay.WithFinalityPolling(cfg.FinalityAttempts, cfg.FinalityInterval),
		splitpay.WithVerifierLogger(logger),
		splitpay.WithVerifierMetrics(m),
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		verifierOpts = append(verifierOpts, splitpay.WithVerificationStore(idempotency.NewRedisStore(rdb)))
	}
	verifier := splitpay.NewProofVerifier(st, gateway, ledger, verifierOpts...)

	issuerOpts := []splitpay.IssuerOption{
		splitpay.WithNetwork(splitpay.Network(cfg.Network)),
		splitpay.WithProgramID(programID.String()),
		splitpay.WithDefaultAmount(cfg.PaymentAmount),
		splitpay.WithIssuerMetrics(m),
	}
	for resource, amount := range cfg.Prices {
		issuerOpts = append(issuerOpts, splitpay.WithPrice(resource, amount))
	}
	issuer := splitpay.NewChallengeIssuer(mint.String(), issuerOpts...)

	coordinator := splitpay.NewCoordinator(gateway, issuer, verifier, st,
		splitpay.WithCoordinatorLogger(logger),
		splitpay.WithCoordinatorMetrics(m))
	coordinator.OnGranted(func(g splitpay.GrantContext) {
		logger.Info("payment accepted",
			logging.Proof(g.Record.ProofID),
			logging.Splitter(g.Record.SplitterID),
			logging.Resource(g.Request.Resource),
			slog.Bool("replayed", g.Replayed))
	})

	gin.SetMode(gin.ReleaseMode)
	router := splitpaygin.NewRouter(splitpaygin.Dependencies{
		Gateway:        gateway,
		Records:        st,
		Builder:        builder,
		Gate:           splitpayhttp.NewPaymentGate(coordinator),
		Network:        splitpay.Network(cfg.Network),
		ProgramID:      programID.String(),
		BuildRateLimit: rate.Limit(cfg.BuildRateLimit),
		BuildBurst:     cfg.BuildBurst,
		Gatherer:       prometheus.DefaultGatherer,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			slog.String("addr", srv.Addr),
			slog.String("network", cfg.Network),
			slog.String("program", programID.String()),
			slog.String("mode", string(mode)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
