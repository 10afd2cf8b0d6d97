package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/israel303/Lollypop/internal/backup"
	"github.com/israel303/Lollypop/internal/clifmt"
	"github.com/israel303/Lollypop/internal/relayruntime"
	"github.com/israel303/Lollypop/internal/threads"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const sourceFile = "file"

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Inspect thread backups",
	}
	cmd.AddCommand(newBackupShowCmd())
	return cmd
}

type backupView struct {
	Source      string           `json:"source" yaml:"source"`
	MessageID   int64            `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	PublishedAt string           `json:"published_at,omitempty" yaml:"published_at,omitempty"`
	Count       int              `json:"count" yaml:"count"`
	Threads     map[string]int64 `json:"threads" yaml:"threads"`
}

func newBackupShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the newest backup a recovery source can find",
		Long: "Print the newest backup a recovery source can find.\n\n" +
			"Sources: pinned (admin group pin), updates (pending updates; fails while a webhook is set),\n" +
			"mirror (backup.mirror_path) and file (a threads_backup.json on disk, see --file).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			source, _ := cmd.Flags().GetString("source")
			file, _ := cmd.Flags().GetString("file")
			format, _ := cmd.Flags().GetString("format")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			source = strings.ToLower(strings.TrimSpace(source))

			var (
				rec backup.Record
				err error
			)
			if source == sourceFile {
				rec, err = readBackupFile(file)
			} else {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()
				rec, err = relayruntime.InspectBackup(ctx, relayruntime.Dependencies{}, runOptionsFromViper(), source)
			}
			if err != nil {
				return err
			}
			return writeBackupView(cmd.OutOrStdout(), format, viewOf(rec))
		},
	}

	cmd.Flags().String("source", relayruntime.RecoveryPinned, "Where to look: pinned|updates|mirror|file.")
	cmd.Flags().String("file", "", "Backup file to decode with --source file.")
	cmd.Flags().String("format", "json", "Output format: json|yaml|table.")
	cmd.Flags().Duration("timeout", 30*time.Second, "Give up on Telegram after this long.")
	return cmd
}

func readBackupFile(path string) (backup.Record, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return backup.Record{}, fmt.Errorf("--file is required with --source file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return backup.Record{}, err
	}
	tag := viper.GetString("backup.tag")
	var m threads.Map
	if trimmed := strings.TrimSpace(string(data)); tag != "" && strings.HasPrefix(trimmed, tag) {
		m, err = backup.DecodeText(tag, trimmed)
	} else {
		m, err = backup.Decode(data)
	}
	if err != nil {
		return backup.Record{}, fmt.Errorf("%s: %w", path, err)
	}
	return backup.Record{Threads: m, Source: sourceFile}, nil
}

func viewOf(rec backup.Record) backupView {
	v := backupView{
		Source:    rec.Source,
		MessageID: rec.MessageID,
		Count:     len(rec.Threads),
		Threads:   make(map[string]int64, len(rec.Threads)),
	}
	if !rec.PublishedAt.IsZero() {
		v.PublishedAt = rec.PublishedAt.UTC().Format(time.RFC3339)
	}
	for user, thread := range rec.Threads {
		v.Threads[strconv.FormatInt(int64(user), 10)] = int64(thread)
	}
	return v
}

func writeBackupView(out io.Writer, format string, v backupView) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		enc := json.NewEncoder(out)
		if clifmt.IsTerminal(out) {
			enc.SetIndent("", "  ")
		}
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		users := make([]string, 0, len(v.Threads))
		for user := range v.Threads {
			users = append(users, user)
		}
		sort.Slice(users, func(i, j int) bool {
			a, _ := strconv.ParseInt(users[i], 10, 64)
			b, _ := strconv.ParseInt(users[j], 10, 64)
			return a < b
		})
		rows := make([]clifmt.Row, 0, len(users))
		for _, user := range users {
			rows = append(rows, clifmt.Row{Name: user, Detail: strconv.FormatInt(v.Threads[user], 10)})
		}
		title := "Threads from " + v.Source
		if v.MessageID != 0 {
			title = fmt.Sprintf("%s message %d", title, v.MessageID)
		}
		clifmt.PrintTable(out, clifmt.TableOptions{
			Title:        title,
			Rows:         rows,
			EmptyText:    "Backup is empty.",
			NameHeader:   "USER",
			DetailHeader: "THREAD",
		})
		return nil
	default:
		return fmt.Errorf("unknown format %q (want json|yaml|table)", format)
	}
}
