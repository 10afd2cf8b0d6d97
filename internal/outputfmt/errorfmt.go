package outputfmt

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	absoluteURLInTextRE = regexp.MustCompile(`https?://[^\s"'<>]+`)
	// Bot API paths embed the token: /bot<id>:<secret>/method and
	// /file/bot<id>:<secret>/path.
	botTokenInPathRE = regexp.MustCompile(`/bot[0-9]+:[A-Za-z0-9_-]+`)
)

// FormatErrorForDisplay renders err for logs and chat replies without
// hosts, bot tokens or secret query values.
func FormatErrorForDisplay(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeErrorText(err.Error())
}

// SanitizeErrorText strips URL hosts and credentials from arbitrary text.
func SanitizeErrorText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = absoluteURLInTextRE.ReplaceAllStringFunc(raw, sanitizeURLInText)
	return RedactBotToken(raw)
}

// RedactBotToken replaces every Bot API token path segment in s.
func RedactBotToken(s string) string {
	return botTokenInPathRE.ReplaceAllString(s, "/bot[redacted]")
}

func sanitizeURLInText(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return raw
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if q := redactSensitiveQuery(u.Query()); q != "" {
		path += "?" + q
	}
	return path
}

func redactSensitiveQuery(q url.Values) string {
	for k := range q {
		if isSensitiveQueryKey(k) {
			q.Set(k, "[redacted]")
		}
	}
	return q.Encode()
}

func isSensitiveQueryKey(key string) bool {
	n := strings.ToLower(strings.TrimSpace(key))
	n = strings.NewReplacer("-", "", "_", "").Replace(n)
	if n == "" {
		return false
	}
	for _, marker := range []string{"token", "secret", "password", "apikey", "authorization"} {
		if strings.Contains(n, marker) {
			return true
		}
	}
	return n == "key"
}
