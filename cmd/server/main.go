package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	netHttp "net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trust-payments/config"
	"trust-payments/db"
	"trust-payments/http"
	"trust-payments/http/handlers"
	"trust-payments/http/middleware"
	"trust-payments/logger"
	"trust-payments/services"
	"trust-payments/services/kafka"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trust-payments",
		Short:         "Donation and membership payments for the trust",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create tables and seed membership plans",
			RunE: func(cmd *cobra.Command, args []string) error {
				_, conn, err := setup(cmd.Context())
				if err != nil {
					return err
				}
				defer conn.Close()
				logger.Info("Migrations applied")
				return nil
			},
		},
		reconcileCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func reconcileCmd() *cobra.Command {
	var from, to, out string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Write the reconciliation workbook for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := handlers.ReportWindow(from, to, time.Now())
			if err != nil {
				return err
			}
			cfg, conn, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			rs := services.NewReportService(db.NewLedgerStore(conn), services.NewRazorpayGateway(cfg.Razorpay), cfg.ReconcileStaleAfter)
			report, err := rs.Build(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			defer report.Close()

			if out == "" {
				out = fmt.Sprintf("reconciliation_%s.xlsx", start.Format(time.DateOnly))
			}
			if err := report.SaveAs(out); err != nil {
				return err
			}
			logger.Info("Wrote %s: %d donations, %d payments, %d stale pending, %d orphan orders",
				out, report.Donations, report.Payments, report.StalePending, report.OrphanOrders)
			if report.GatewayError != "" {
				logger.Warn("Gateway orders were not compared: %s", report.GatewayError)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (default: seven days before --to)")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (default: today)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file")
	return cmd
}

// setup loads configuration, opens the database and applies migrations.
func setup(ctx context.Context) (config.Config, *sql.DB, error) {
	if root := findProjectRoot(mustGetwd()); root != "" {
		if err := os.Chdir(root); err != nil {
			logger.Warn("Error changing to project root: %v", err)
		}
	}

	cfg := config.Load()
	logger.Default().SetLevel(logger.ParseLevel(cfg.LogLevel))

	conn, err := db.Open(ctx, cfg.DB)
	if err != nil {
		return cfg, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, conn); err != nil {
		conn.Close()
		return cfg, nil, fmt.Errorf("migrating database: %w", err)
	}
	return cfg, conn, nil
}

func serve(ctx context.Context) error {
	cfg, conn, err := setup(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger := db.NewLedgerStore(conn)
	dlqStore := db.NewDLQStore(conn)
	gateway := services.NewRazorpayGateway(cfg.Razorpay)
	if cfg.Razorpay.WebhookSecret == "" {
		logger.Warn("RAZORPAY_WEBHOOK_SECRET is not set; webhooks will be rejected")
	}

	// Kafka is optional; every piece below degrades to a no-op without brokers.
	producer := kafka.NewProducer(cfg.Kafka, dlqStore, services.TopicPayments, services.TopicEmails)
	producer.EnsureTopics(ctx)
	dlq := kafka.NewDLQ(cfg.Kafka, dlqStore)
	dlq.UseProducer(producer)

	receipts := services.NewReceiptMailer(services.NewSMTPMailer(cfg.SMTP), cfg.TrustName)
	var sender services.ReceiptSender = receipts
	consumer := kafka.NewConsumer(cfg.Kafka, services.TopicEmails, dlq)
	if consumer != nil {
		consumer.Register(services.EventEmailSend, receipts.HandleEmailEvent)
		go consumer.Run(ctx)
		dlq.StartAutoRetry(ctx, 5*time.Minute)
		sender = services.NewQueuedReceiptSender(producer)
	}
	dispatcher := services.NewNotificationDispatcher(sender, cfg.NotifyQueueSize)

	svc := services.New(services.Deps{
		Gateway:       gateway,
		Ledger:        ledger,
		Journal:       db.NewWebhookJournal(conn),
		Events:        producer,
		Notifier:      dispatcher,
		KeySecret:     cfg.Razorpay.KeySecret,
		WebhookSecret: cfg.Razorpay.WebhookSecret,
		Recurring:     cfg.Razorpay.Recurring,
	})

	h := &handlers.Handlers{
		Services: svc,
		Reports:  services.NewReportService(ledger, gateway, cfg.ReconcileStaleAfter),
		DLQ:      dlq,
		Health: []handlers.HealthCheck{
			{Name: "database", Check: ledger.Ping},
			{Name: "kafka", Check: func(context.Context) error {
				if producer.Enabled() && !producer.IsConnected() {
					return errors.New("producer disconnected")
				}
				return nil
			}},
		},
	}
	identity := services.NewIdentity(cfg.AuthJWTSecret, ledger)

	server := &netHttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           http.NewRouter(h, middleware.NewAuth(identity)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, netHttp.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server: %v", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Error("Error draining notifications: %v", err)
	}
	if err := consumer.Close(); err != nil {
		logger.Error("Error closing Kafka consumer: %v", err)
	}
	if err := dlq.Close(); err != nil {
		logger.Error("Error closing DLQ producer: %v", err)
	}
	if err := producer.Close(); err != nil {
		logger.Error("Error closing Kafka producer: %v", err)
	}

	logger.Info("Server shutdown complete")
	return nil
}

func mustGetwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return cwd
}

// findProjectRoot walks up from start and returns the first directory containing go.mod
func findProjectRoot(start string) string {
	if start == "" {
		return ""
	}
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir || strings.HasSuffix(dir, ":\\") || parent == "" {
			break
		}
		dir = parent
	}
	return ""
}
