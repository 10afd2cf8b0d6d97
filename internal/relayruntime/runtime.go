package relayruntime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/israel303/Lollypop/internal/backup"
	"github.com/israel303/Lollypop/internal/dispatch"
	"github.com/israel303/Lollypop/internal/metrics"
	"github.com/israel303/Lollypop/internal/outputfmt"
	"github.com/israel303/Lollypop/internal/relay"
	"github.com/israel303/Lollypop/internal/telegram"
	"github.com/israel303/Lollypop/internal/threads"
	"github.com/israel303/Lollypop/internal/webhook"
	"golang.org/x/sync/errgroup"
)

const shutdownBackupTimeout = 20 * time.Second

// allowedUpdates is all the relay consumes; everything else is filtered
// out by Telegram.
var allowedUpdates = []string{"message"}

type Dependencies struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	// Listener, when set, is used instead of listening on the configured
	// address.
	Listener net.Listener
}

// Run starts the relay and blocks until ctx is cancelled. Recovery always
// completes before any update is accepted.
func Run(ctx context.Context, d Dependencies, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ro, err := resolveRuntimeOptions(opts)
	if err != nil {
		return err
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay", "mode", ro.Mode)

	client := telegram.NewClient(telegram.Options{
		HTTPClient:     d.HTTPClient,
		BaseURL:        ro.BaseURL,
		Token:          ro.BotToken,
		RequestTimeout: ro.RequestTimeout,
		RateLimit:      ro.RateLimit,
		RateBurst:      ro.RateBurst,
	})
	me, err := client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("verify bot token: %w", err)
	}
	logger.Info("bot_identity", "bot_id", me.ID, "username", me.Username)

	// getUpdates only works while no webhook is registered.
	if err := client.DeleteWebhook(ctx, false); err != nil {
		logger.Warn("delete_webhook_failed", "error", outputfmt.FormatErrorForDisplay(err))
	}

	store := threads.NewStore()
	loader := &backup.Loader{Sources: buildSources(client, ro), Logger: logger}
	rec := loader.Load(ctx)
	store.Replace(rec.Threads)
	d.Metrics.SetThreads(store.Len())

	// Dropping waits until recovery has scanned the pending window. Webhook
	// mode drops through setWebhook instead.
	if ro.Mode == ModePolling && ro.DropPendingUpdates {
		if err := client.DeleteWebhook(ctx, true); err != nil {
			logger.Warn("drop_pending_updates_failed", "error", outputfmt.FormatErrorForDisplay(err))
		}
	}

	pub, err := backup.NewPublisher(client, store, backup.PublisherOptions{
		ChatID:     ro.AdminGroupID,
		ThreadID:   ro.BackupThreadID,
		Artifact:   ro.Artifact,
		Format:     ro.ArtifactFormat,
		Mode:       ro.PublishMode,
		Pin:        ro.BackupPin,
		MirrorPath: ro.BackupMirrorPath,
		Logger:     logger,
		Metrics:    d.Metrics,
	})
	if err != nil {
		return err
	}
	pub.Adopt(rec)

	router, err := relay.NewRouter(client, store, pub, relay.Options{
		AdminChatID:   ro.AdminGroupID,
		BotID:         me.ID,
		WelcomeText:   ro.WelcomeText,
		IntroTemplate: ro.IntroTemplate,
		Artifact:      ro.Artifact,
		Logger:        logger,
		Metrics:       d.Metrics,
	})
	if err != nil {
		return &ConfigError{Key: "relay.intro_template", Reason: err.Error()}
	}

	dispatcher := dispatch.New(dispatch.Options[telegram.Update]{
		QueueSize: ro.QueueSize,
		Handle:    router.HandleUpdate,
		Logger:    logger,
	})

	var ready atomic.Bool
	serverOpts := webhook.Options{
		Addr:    ro.ListenAddr,
		Path:    ro.WebhookPath,
		Metrics: d.Metrics,
		Logger:  logger,
		Health: func() webhook.Health {
			return webhook.Health{
				Ready:   ready.Load(),
				Mode:    ro.Mode,
				Threads: store.Len(),
				Pending: dispatcher.Pending(),
				Backup:  pub.Status(),
			}
		},
	}
	if ro.Mode == ModeWebhook {
		serverOpts.Queue = dispatcher
		serverOpts.SecretToken = ro.WebhookSecretToken
		if ro.WebhookSecretToken == "" {
			logger.Warn("webhook_secret_token_missing", "hint", "set webhook.secret_token so forged updates are rejected")
		}
	}
	server := webhook.New(serverOpts)

	ln := d.Listener
	if ln == nil {
		ln, err = net.Listen("tcp", ro.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", ro.ListenAddr, err)
		}
	}

	if ro.Mode == ModeWebhook {
		if err := client.SetWebhook(ctx, telegram.SetWebhookRequest{
			URL:                ro.HookURL,
			SecretToken:        ro.WebhookSecretToken,
			DropPendingUpdates: ro.DropPendingUpdates,
			AllowedUpdates:     allowedUpdates,
		}); err != nil {
			_ = ln.Close()
			return fmt.Errorf("register webhook: %w", err)
		}
		logger.Info("webhook_registered", "url", outputfmt.SanitizeErrorText(ro.HookURL), "drop_pending", ro.DropPendingUpdates)
	}

	scheduler := &backup.Scheduler{
		Interval: ro.BackupInterval,
		Cron:     ro.BackupCron,
		Logger:   logger,
		Tick: func(ctx context.Context) {
			_ = pub.Publish(ctx, backup.TriggerPeriodic)
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()

	g.Go(func() error {
		return dispatcher.Run(dispatchCtx)
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		// Intake stops first; queued updates are drained afterwards.
		defer stopDispatch()
		if ro.Mode == ModePolling {
			pg, pctx := errgroup.WithContext(gctx)
			pg.Go(func() error { return server.Serve(pctx, ln) })
			pg.Go(func() error {
				return (&poller{api: client, queue: dispatcher, timeout: ro.PollTimeout, logger: logger, metrics: d.Metrics}).run(pctx)
			})
			return pg.Wait()
		}
		return server.Serve(gctx, ln)
	})

	ready.Store(true)
	logger.Info("relay_started", "threads", store.Len(), "backup_source", rec.Source, "backup_message_id", rec.MessageID)

	runErr := g.Wait()
	ready.Store(false)

	if ro.BackupOnShutdown {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownBackupTimeout)
		_ = pub.Publish(shutdownCtx, backup.TriggerShutdown)
		cancel()
	}
	logger.Info("relay_stopped", "threads", store.Len())
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func buildSources(client *telegram.Client, ro runtimeOptions) []backup.Source {
	pinned := &backup.PinnedSource{API: client, ChatID: ro.AdminGroupID, Artifact: ro.Artifact}
	updates := &backup.UpdatesSource{
		API:      client,
		ChatID:   ro.AdminGroupID,
		Artifact: ro.Artifact,
		ThreadID: ro.BackupThreadID,
		Window:   ro.BackupScanWindow,
	}
	var out []backup.Source
	switch ro.BackupRecovery {
	case RecoveryPinned:
		out = append(out, pinned)
	case RecoveryUpdates:
		out = append(out, updates)
	default:
		out = append(out, pinned, updates)
	}
	if ro.BackupMirrorPath != "" {
		out = append(out, &backup.MirrorSource{Path: ro.BackupMirrorPath})
	}
	return out
}
