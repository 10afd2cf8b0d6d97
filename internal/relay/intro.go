package relay

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/israel303/Lollypop/internal/telegram"
)

// DefaultIntroTemplate is the card posted at the top of every new thread.
const DefaultIntroTemplate = "📬 פנייה חדשה מ- {{.Name}}\n🆔 ID: {{.ID}}\n🧑‍💻 שם משתמש: {{.Username}}"

const missingUsername = "לא קיים"

// IntroData is what the intro template can reference.
type IntroData struct {
	Name     string
	ID       int64
	Username string
}

func introDataFor(u *telegram.User) IntroData {
	d := IntroData{Name: telegram.DisplayName(u), Username: missingUsername}
	if u == nil {
		d.Name = "Unknown"
		return d
	}
	d.ID = u.ID
	if d.Name == "" {
		d.Name = "Unknown"
	}
	if name := strings.TrimSpace(u.Username); name != "" {
		d.Username = "@" + name
	}
	return d
}

// ParseIntroTemplate compiles src, rejecting references to fields
// IntroData does not have.
func ParseIntroTemplate(src string) (*template.Template, error) {
	if strings.TrimSpace(src) == "" {
		src = DefaultIntroTemplate
	}
	t, err := template.New("intro").Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse intro template: %w", err)
	}
	if _, err := renderIntro(t, IntroData{Name: "x", ID: 1, Username: "@x"}); err != nil {
		return nil, fmt.Errorf("intro template: %w", err)
	}
	return t, nil
}

func renderIntro(t *template.Template, d IntroData) (string, error) {
	var b bytes.Buffer
	if err := t.Execute(&b, d); err != nil {
		return "", err
	}
	return b.String(), nil
}

// topicName is the forum topic title for a user's thread.
func topicName(u *telegram.User) string {
	if u == nil {
		return "Unknown"
	}
	name := telegram.DisplayName(u)
	if name == "" {
		return "User " + strconv.FormatInt(u.ID, 10)
	}
	return name
}
