package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/missbott/backend/internal/api"
	"github.com/missbott/backend/internal/api/handlers"
	"github.com/missbott/backend/internal/leads"
	"github.com/missbott/backend/internal/mail"
	"github.com/missbott/backend/internal/queue"
	"github.com/missbott/backend/internal/tasks"
	"github.com/missbott/backend/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func serveCommand() *cobra.Command {
	var (
		workers   int
		accessLog bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), workers, accessLog)
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "also consume queued audits with this many in-process workers")
	cmd.Flags().BoolVar(&accessLog, "access-log", true, "log every request")
	return cmd
}

func serve(ctx context.Context, workers int, accessLog bool) error {
	logger.Info("Starting portfolio API server")

	svc, err := buildServices(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer svc.Close()

	runner := tasks.NewRunner(tasks.Config{
		Workers:   cfg.Tasks.Workers,
		QueueSize: cfg.Tasks.QueueSize,
	})
	runner.Start()

	checks := map[string]handlers.Pinger{"sqlite": svc.store}
	var enqueuer handlers.AuditEnqueuer
	if svc.streams != nil {
		enqueuer = queue.NewProducer(svc.streams, 0)
		checks["redis"] = svc.streams
	}

	var sender mail.Sender
	if svc.sender.Configured() {
		sender = svc.sender
	} else {
		logger.Warn("SMTP credentials not set; notification and approval emails are disabled")
	}

	var analyzer leads.Analyzer
	if svc.llm.Configured() {
		analyzer = leads.NewScorer(svc.store, svc.llm, leads.ScorerConfig{
			Timeout: seconds(cfg.LLM.TimeoutSec),
		})
	}

	app, stopRouter := api.NewRouter(api.Deps{
		Config:   cfg,
		Store:    svc.store,
		Auditor:  svc.auditor,
		Enqueuer: enqueuer,
		Analyzer: analyzer,
		Actions:  leads.NewApprover(svc.store, svc.sender, svc.persona, cfg.Leads.BookingURL),
		Runner:   runner,
		Notifier: handlers.NewNotifier(sender, cfg.Mail.AdminEmail, runner),
		Subscriber: mail.NewMailchimp(mail.MailchimpConfig{
			APIKey:     cfg.Mailchimp.APIKey,
			DataCenter: cfg.Mailchimp.DataCenter,
			AudienceID: cfg.Mailchimp.AudienceID,
		}),
		Auth:      svc.auth,
		Checks:    checks,
		AccessLog: accessLog,
	})
	defer stopRouter()

	g, gctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	g.Go(func() error {
		logger.Info("Server starting", zap.String("address", addr))
		return app.Listen(addr)
	})

	if workers > 0 {
		if svc.streams == nil {
			logger.Warn("Audit queue unavailable; in-process workers not started")
		} else {
			g.Go(func() error {
				return runConsumers(gctx, svc, workers)
			})
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Server shutting down gracefully...")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if stopErr := runner.Stop(stopCtx); stopErr != nil {
		logger.Warn("Background tasks did not finish", zap.Error(stopErr))
	}

	logger.Info("Server stopped")
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
