package relayruntime

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/israel303/Lollypop/internal/backup"
	"github.com/israel303/Lollypop/internal/webhook"
)

const (
	ModeWebhook = "webhook"
	ModePolling = "polling"

	RecoveryPinned  = "pinned"
	RecoveryUpdates = "updates"
	RecoveryAll     = "all"

	defaultPort = 10000
)

type RunOptions struct {
	Mode string

	BotToken           string
	BaseURL            string
	RateLimit          float64
	RateBurst          int
	RequestTimeout     time.Duration
	PollTimeout        time.Duration
	DropPendingUpdates bool

	AdminGroupID int64

	WebhookURL         string
	WebhookPath        string
	WebhookListen      string
	WebhookPort        int
	WebhookSecretToken string

	BackupFileName   string
	BackupTag        string
	BackupFormat     string
	BackupMode       string
	BackupPin        bool
	BackupThreadID   int64
	BackupRecovery   string
	BackupScanWindow int
	BackupInterval   time.Duration
	BackupCron       string
	BackupOnShutdown bool
	BackupMirrorPath string

	WelcomeText   string
	IntroTemplate string

	QueueSize int
}

// ConfigError reports an unusable configuration value. The process exits
// before any network call when one is returned.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Key, e.Reason)
}

type runtimeOptions struct {
	RunOptions

	ArtifactFormat backup.Format
	PublishMode    backup.Mode
	Artifact       backup.Artifact
	// ListenAddr is host:port for the HTTP server.
	ListenAddr string
	// HookURL is the full URL registered with setWebhook.
	HookURL string
}

func resolveRuntimeOptions(opts RunOptions) (runtimeOptions, error) {
	opts = normalizeRunOptions(opts)
	if err := validateRunOptions(opts); err != nil {
		return runtimeOptions{}, err
	}
	format, err := backup.ParseFormat(opts.BackupFormat)
	if err != nil {
		return runtimeOptions{}, &ConfigError{Key: "backup.format", Reason: err.Error()}
	}
	mode, err := backup.ParseMode(opts.BackupMode)
	if err != nil {
		return runtimeOptions{}, &ConfigError{Key: "backup.mode", Reason: err.Error()}
	}
	out := runtimeOptions{
		RunOptions:     opts,
		ArtifactFormat: format,
		PublishMode:    mode,
		Artifact:       backup.Artifact{FileName: opts.BackupFileName, Tag: opts.BackupTag},
		ListenAddr:     net.JoinHostPort(opts.WebhookListen, strconv.Itoa(opts.WebhookPort)),
	}
	if opts.Mode == ModeWebhook {
		out.HookURL = joinHookURL(opts.WebhookURL, opts.WebhookPath)
	}
	return out, nil
}

func normalizeRunOptions(opts RunOptions) RunOptions {
	opts.Mode = strings.ToLower(strings.TrimSpace(opts.Mode))
	opts.BotToken = strings.TrimSpace(opts.BotToken)
	opts.BaseURL = strings.TrimSpace(opts.BaseURL)
	opts.WebhookURL = strings.TrimSpace(opts.WebhookURL)
	opts.WebhookPath = webhook.NormalizePath(opts.WebhookPath)
	opts.WebhookListen = strings.TrimSpace(opts.WebhookListen)
	opts.WebhookSecretToken = strings.TrimSpace(opts.WebhookSecretToken)
	opts.BackupRecovery = strings.ToLower(strings.TrimSpace(opts.BackupRecovery))
	opts.BackupCron = strings.TrimSpace(opts.BackupCron)
	opts.BackupMirrorPath = strings.TrimSpace(opts.BackupMirrorPath)

	if opts.Mode == "" {
		opts.Mode = ModeWebhook
	}
	if opts.WebhookPort == 0 {
		opts.WebhookPort = defaultPort
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 30 * time.Second
	}
	if opts.BackupRecovery == "" {
		opts.BackupRecovery = RecoveryAll
	}
	if opts.BackupScanWindow <= 0 || opts.BackupScanWindow > 100 {
		opts.BackupScanWindow = 100
	}
	if opts.BackupInterval <= 0 {
		opts.BackupInterval = 30 * time.Minute
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return opts
}

func validateRunOptions(opts RunOptions) error {
	if opts.BotToken == "" {
		return &ConfigError{Key: "telegram.bot_token", Reason: "required (BOT_TOKEN)"}
	}
	if opts.AdminGroupID == 0 {
		return &ConfigError{Key: "admin.group_id", Reason: "required (ADMIN_GROUP_ID)"}
	}
	switch opts.Mode {
	case ModeWebhook:
		if opts.WebhookURL == "" {
			return &ConfigError{Key: "webhook.url", Reason: "required in webhook mode (WEBHOOK_URL)"}
		}
		u, err := url.Parse(opts.WebhookURL)
		if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			return &ConfigError{Key: "webhook.url", Reason: fmt.Sprintf("%q is not an absolute http(s) URL", opts.WebhookURL)}
		}
	case ModePolling:
	default:
		return &ConfigError{Key: "mode", Reason: fmt.Sprintf("unknown mode %q (want webhook|polling)", opts.Mode)}
	}
	if opts.WebhookPort < 1 || opts.WebhookPort > 65535 {
		return &ConfigError{Key: "webhook.port", Reason: fmt.Sprintf("%d is out of range", opts.WebhookPort)}
	}
	switch opts.BackupRecovery {
	case RecoveryPinned, RecoveryUpdates, RecoveryAll:
	default:
		return &ConfigError{Key: "backup.recovery", Reason: fmt.Sprintf("unknown strategy %q (want pinned|updates|all)", opts.BackupRecovery)}
	}
	if err := backup.ValidateCron(opts.BackupCron); err != nil {
		return &ConfigError{Key: "backup.cron", Reason: err.Error()}
	}
	if opts.RateLimit < 0 {
		return &ConfigError{Key: "telegram.rate_limit", Reason: "must not be negative"}
	}
	return nil
}

// joinHookURL appends path to base unless base already ends with it.
func joinHookURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}
