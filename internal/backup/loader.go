package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/israel303/Lollypop/internal/threads"
)

// Loader restores the mapping at startup from the newest backup any source
// can find. It never fails: no backup, an unreadable backup or a broken
// source all end in an empty record.
type Loader struct {
	Sources []Source
	Logger  *slog.Logger
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *Loader) Load(ctx context.Context) Record {
	logger := l.logger()

	var all []Candidate
	for _, src := range l.Sources {
		if src == nil {
			continue
		}
		found, err := src.Candidates(ctx)
		if err != nil {
			logger.Warn("backup_source_failed", "source", src.Name(), "error", err.Error())
			continue
		}
		logger.Debug("backup_source_scanned", "source", src.Name(), "candidates", len(found))
		all = append(all, found...)
	}

	winner, ok := newest(all)
	if !ok {
		logger.Info("backup_not_found", "sources", len(l.Sources))
		return emptyRecord()
	}

	m, err := winner.Fetch(ctx)
	if err != nil {
		var decErr *DecodeError
		if errors.As(err, &decErr) {
			logger.Warn("backup_decode_failed", "source", winner.Source, "message_id", winner.MessageID, "error", err.Error())
		} else {
			logger.Warn("backup_fetch_failed", "source", winner.Source, "message_id", winner.MessageID, "error", err.Error())
		}
		// The unreadable artifact is left in place: no handle is adopted.
		return emptyRecord()
	}
	if m == nil {
		m = threads.Map{}
	}
	logger.Info("backup_restored",
		"source", winner.Source,
		"message_id", winner.MessageID,
		"published_at", winner.PublishedAt,
		"threads", len(m),
		"candidates", len(all),
	)
	return Record{
		Threads:     m,
		MessageID:   winner.MessageID,
		PublishedAt: winner.PublishedAt,
		Source:      winner.Source,
	}
}

// ErrNoBackup is returned by Inspect when the source holds no artifact.
var ErrNoBackup = errors.New("no backup found")

// Inspect reads the newest backup src can find. Unlike Load it reports every
// failure instead of falling back to an empty record.
func Inspect(ctx context.Context, src Source) (Record, error) {
	cands, err := src.Candidates(ctx)
	if err != nil {
		return emptyRecord(), fmt.Errorf("%s: %w", src.Name(), err)
	}
	winner, ok := newest(cands)
	if !ok {
		return emptyRecord(), fmt.Errorf("%s: %w", src.Name(), ErrNoBackup)
	}
	m, err := winner.Fetch(ctx)
	if err != nil {
		return emptyRecord(), fmt.Errorf("%s message %d: %w", src.Name(), winner.MessageID, err)
	}
	if m == nil {
		m = threads.Map{}
	}
	return Record{Threads: m, MessageID: winner.MessageID, PublishedAt: winner.PublishedAt, Source: winner.Source}, nil
}

// newest picks the most recently published candidate; message id breaks
// ties since ids grow monotonically within a chat.
func newest(cands []Candidate) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	sorted := append([]Candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.MessageID > b.MessageID
	})
	return sorted[0], true
}
