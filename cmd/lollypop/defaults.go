package main

import (
	"time"

	"github.com/israel303/Lollypop/internal/backup"
	"github.com/israel303/Lollypop/internal/relay"
	"github.com/israel303/Lollypop/internal/telegram"
	"github.com/israel303/Lollypop/internal/webhook"
	"github.com/spf13/viper"
)

func initViperDefaults() {
	viper.SetDefault("mode", "webhook")

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.base_url", telegram.DefaultBaseURL)
	viper.SetDefault("telegram.rate_limit", 25.0)
	viper.SetDefault("telegram.rate_burst", 5)
	viper.SetDefault("telegram.request_timeout", 30*time.Second)
	viper.SetDefault("telegram.poll_timeout", 30*time.Second)
	viper.SetDefault("telegram.drop_pending_updates", false)

	viper.SetDefault("admin.group_id", int64(0))

	// Webhook server
	viper.SetDefault("webhook.url", "")
	viper.SetDefault("webhook.path", webhook.DefaultPath)
	viper.SetDefault("webhook.listen", "")
	viper.SetDefault("webhook.port", 10000)
	viper.SetDefault("webhook.secret_token", "")

	// Backup
	viper.SetDefault("backup.filename", backup.DefaultFileName)
	viper.SetDefault("backup.tag", backup.DefaultTag)
	viper.SetDefault("backup.format", string(backup.FormatDocument))
	viper.SetDefault("backup.mode", string(backup.ModeReplace))
	viper.SetDefault("backup.pin", true)
	viper.SetDefault("backup.thread_id", int64(0))
	viper.SetDefault("backup.recovery", "all")
	viper.SetDefault("backup.scan_window", 100)
	viper.SetDefault("backup.interval", 30*time.Minute)
	viper.SetDefault("backup.cron", "")
	viper.SetDefault("backup.on_shutdown", true)
	viper.SetDefault("backup.mirror_path", "")

	// Relay
	viper.SetDefault("relay.welcome_text", relay.DefaultWelcomeText)
	viper.SetDefault("relay.intro_template", relay.DefaultIntroTemplate)

	viper.SetDefault("dispatch.queue_size", 256)

	// Logging
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
	viper.SetDefault("logging.file", "")
	viper.SetDefault("logging.max_size_mb", 50)
	viper.SetDefault("logging.max_backups", 5)
	viper.SetDefault("logging.max_age_days", 14)
	viper.SetDefault("logging.compress", false)
	viper.SetDefault("trace", false)
}
