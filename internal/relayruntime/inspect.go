package relayruntime

import (
	"context"
	"fmt"
	"strings"

	"github.com/israel303/Lollypop/internal/backup"
	"github.com/israel303/Lollypop/internal/telegram"
)

const SourceMirror = "mirror"

// InspectBackup reads the newest backup from one recovery source without
// starting the relay. The updates source only works while no webhook is
// registered for the bot.
func InspectBackup(ctx context.Context, d Dependencies, opts RunOptions, source string) (backup.Record, error) {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == SourceMirror {
		path := strings.TrimSpace(opts.BackupMirrorPath)
		if path == "" {
			return backup.Record{}, &ConfigError{Key: "backup.mirror_path", Reason: "required to read the mirror"}
		}
		return backup.Inspect(ctx, &backup.MirrorSource{Path: path})
	}
	if source != RecoveryPinned && source != RecoveryUpdates {
		return backup.Record{}, fmt.Errorf("unknown backup source %q (want pinned|updates|mirror)", source)
	}

	// Only the Telegram side of the configuration matters here.
	opts.Mode = ModePolling
	opts.BackupRecovery = source
	opts.BackupMirrorPath = ""
	ro, err := resolveRuntimeOptions(opts)
	if err != nil {
		return backup.Record{}, err
	}
	client := telegram.NewClient(telegram.Options{
		HTTPClient:     d.HTTPClient,
		BaseURL:        ro.BaseURL,
		Token:          ro.BotToken,
		RequestTimeout: ro.RequestTimeout,
	})
	return backup.Inspect(ctx, buildSources(client, ro)[0])
}
