package backup

import (
	"strings"
	"sync"
	"time"
)

// Trigger names why a backup was published.
type Trigger string

const (
	TriggerThreadCreated Trigger = "thread_created"
	TriggerPeriodic      Trigger = "periodic"
	TriggerManual        Trigger = "manual"
	TriggerShutdown      Trigger = "shutdown"
)

// Status tracks publish outcomes for health reporting.
type Status struct {
	mu          sync.Mutex
	failures    int
	published   int
	lastSuccess time.Time
	lastTrigger Trigger
	lastError   string
	messageID   int64
}

type StatusSnapshot struct {
	Failures    int       `json:"failures" yaml:"failures"`
	Published   int       `json:"published" yaml:"published"`
	LastSuccess time.Time `json:"last_success,omitempty" yaml:"last_success,omitempty"`
	LastTrigger Trigger   `json:"last_trigger,omitempty" yaml:"last_trigger,omitempty"`
	LastError   string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	MessageID   int64     `json:"message_id,omitempty" yaml:"message_id,omitempty"`
}

func (s *Status) success(now time.Time, trigger Trigger, messageID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
	s.published++
	s.lastError = ""
	s.lastSuccess = now
	s.lastTrigger = trigger
	s.messageID = messageID
}

func (s *Status) failure(trigger Trigger, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.lastTrigger = trigger
	if err != nil {
		s.lastError = strings.TrimSpace(err.Error())
	}
}

func (s *Status) adopt(messageID int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageID = messageID
	if s.lastSuccess.IsZero() {
		s.lastSuccess = at
	}
}

func (s *Status) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusSnapshot{
		Failures:    s.failures,
		Published:   s.published,
		LastSuccess: s.lastSuccess,
		LastTrigger: s.lastTrigger,
		LastError:   s.lastError,
		MessageID:   s.messageID,
	}
}
