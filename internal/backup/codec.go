// Package backup persists the user/thread mapping through the messaging
// transport itself and restores it at startup.
package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/israel303/Lollypop/internal/threads"
)

const (
	DefaultFileName = "threads_backup.json"
	DefaultTag      = "#BACKUP_THREADS"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeError reports a backup payload that could not be turned into a
// mapping. Callers fall back to an empty map.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "backup decode failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("backup decode: %s: %v", e.Reason, e.Err)
	}
	return "backup decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Encode renders m as a JSON object keyed by the decimal user id. Keys are
// sorted so identical maps always produce identical bytes.
func Encode(m threads.Map) ([]byte, error) {
	users := make([]threads.UserID, 0, len(m))
	for u, t := range m {
		if u <= 0 {
			return nil, fmt.Errorf("backup encode: invalid user id %d", u)
		}
		if t <= 0 {
			return nil, fmt.Errorf("backup encode: invalid thread id %d for user %d", t, u)
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	var b bytes.Buffer
	if len(users) == 0 {
		b.WriteString("{}\n")
		return b.Bytes(), nil
	}
	b.WriteString("{\n")
	for i, u := range users {
		fmt.Fprintf(&b, "  %q: %d", strconv.FormatInt(int64(u), 10), int64(m[u]))
		if i < len(users)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}\n")
	return b.Bytes(), nil
}

// Decode parses a payload produced by Encode. An empty payload is an empty
// map. A null thread, written by older deployments for users whose topic
// was never created, is skipped. Anything else that is not an object of
// positive integer ids, one user per thread, is a *DecodeError.
func Decode(data []byte) (threads.Map, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, &DecodeError{Reason: "payload is not valid UTF-8"}
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return threads.Map{}, nil
	}
	if data[0] != '{' {
		return nil, &DecodeError{Reason: "payload is not a JSON object"}
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON", Err: err}
	}
	out := make(threads.Map, len(raw))
	owners := make(map[threads.ThreadID]threads.UserID, len(raw))
	for key, val := range raw {
		user, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil || user <= 0 {
			return nil, &DecodeError{Reason: fmt.Sprintf("invalid user id %q", key), Err: err}
		}
		val = bytes.TrimSpace(val)
		if bytes.Equal(val, []byte("null")) {
			continue
		}
		thread, err := strconv.ParseInt(string(val), 10, 64)
		if err != nil || thread <= 0 {
			return nil, &DecodeError{Reason: fmt.Sprintf("invalid thread id %s for user %d", val, user), Err: err}
		}
		if prev, dup := owners[threads.ThreadID(thread)]; dup {
			first, second := min(prev, threads.UserID(user)), max(prev, threads.UserID(user))
			return nil, &DecodeError{Reason: fmt.Sprintf("thread %d is claimed by users %d and %d", thread, first, second)}
		}
		owners[threads.ThreadID(thread)] = threads.UserID(user)
		out[threads.UserID(user)] = threads.ThreadID(thread)
	}
	return out, nil
}

// EncodeText renders the tagged text form: the tag on the first line, the
// JSON object below it.
func EncodeText(tag string, m threads.Map) (string, error) {
	data, err := Encode(m)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(tag) + "\n" + strings.TrimSpace(string(data)), nil
}

// DecodeText is the inverse of EncodeText.
func DecodeText(tag, text string) (threads.Map, error) {
	tag = strings.TrimSpace(tag)
	body := strings.TrimSpace(text)
	if !strings.HasPrefix(body, tag) {
		return nil, &DecodeError{Reason: "missing backup tag"}
	}
	return Decode([]byte(strings.TrimPrefix(body, tag)))
}
