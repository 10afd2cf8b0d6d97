package main

import (
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/israel303/Lollypop/internal/logutil"
	"github.com/israel303/Lollypop/internal/metrics"
	"github.com/israel303/Lollypop/internal/outputfmt"
	"github.com/israel303/Lollypop/internal/relayruntime"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			logger, closer, err := logutil.LoggerFromViper()
			if err != nil {
				return err
			}
			defer closer.Close()
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = relayruntime.Run(ctx, relayruntime.Dependencies{
				Logger:  logger,
				Metrics: metrics.New(),
			}, runOptionsFromViper())
			if err != nil {
				var cfgErr *relayruntime.ConfigError
				if errors.As(err, &cfgErr) {
					logger.Error("config_invalid", "key", cfgErr.Key, "reason", cfgErr.Reason)
				} else {
					logger.Error("relay_failed", "error", outputfmt.FormatErrorForDisplay(err))
				}
				return err
			}
			return nil
		},
	}

	cmd.Flags().String("mode", "webhook", "Update intake: webhook|polling.")
	cmd.Flags().Bool("drop-pending-updates", false, "Discard updates queued while the bot was down.")
	_ = viper.BindPFlag("mode", cmd.Flags().Lookup("mode"))
	_ = viper.BindPFlag("telegram.drop_pending_updates", cmd.Flags().Lookup("drop-pending-updates"))

	return cmd
}
