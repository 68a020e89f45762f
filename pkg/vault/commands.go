package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"
)

const commandsLogPrefix = "vault:commands"

// CommandDailyNote opens (creating if needed) today's daily note.
const CommandDailyNote = "daily-notes"

// ErrCommandUnavailable is returned for command ids the host does not know.
var ErrCommandUnavailable = errors.New("command unavailable")

// DailyNotes configures the daily-notes command.
type DailyNotes struct {
	// Folder holds new daily notes; empty means the vault root.
	Folder string
	// Format is a Go time layout for the note name. Defaults to 2006-01-02.
	Format string
	// Template is a vault path whose content seeds new notes.
	Template string
}

// Commands executes the vault's built-in named commands.
type Commands struct {
	vault *Vault
	daily DailyNotes
	now   func() time.Time
}

// NewCommands creates the built-in command set for v.
func NewCommands(v *Vault, daily DailyNotes) *Commands {
	if daily.Format == "" {
		daily.Format = "2006-01-02"
	}
	return &Commands{vault: v, daily: daily, now: time.Now}
}

// ExecuteCommand runs the command registered under id.
func (c *Commands) ExecuteCommand(ctx context.Context, id string) error {
	switch id {
	case CommandDailyNote:
		_, err := c.DailyNote(ctx)
		return err
	default:
		return fmt.Errorf("command %s: %w", id, ErrCommandUnavailable)
	}
}

// DailyNote returns the path of today's note, creating it from the
// template when it does not exist yet.
func (c *Commands) DailyNote(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := c.now()
	title := now.Format(c.daily.Format)
	notePath := title + ".md"
	if folder := strings.Trim(c.daily.Folder, "/"); folder != "" {
		notePath = path.Join(folder, notePath)
	}

	if c.vault.Exists(notePath) {
		slog.Debug(fmt.Sprintf("%s - Daily note %s already exists", commandsLogPrefix, notePath))
		return notePath, nil
	}

	content, err := c.renderTemplate(now, title)
	if err != nil {
		return "", err
	}
	if err := c.vault.Create(notePath, content); err != nil && !errors.Is(err, ErrExists) {
		return "", fmt.Errorf("%s - create daily note: %w", commandsLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Created daily note %s", commandsLogPrefix, notePath))
	return notePath, nil
}

func (c *Commands) renderTemplate(now time.Time, title string) (string, error) {
	if c.daily.Template == "" {
		return "", nil
	}
	tmpl := c.daily.Template
	if path.Ext(tmpl) == "" {
		tmpl += ".md"
	}
	text, err := c.vault.ReadText(tmpl)
	if err != nil {
		return "", fmt.Errorf("%s - read template %s: %w", commandsLogPrefix, tmpl, err)
	}
	r := strings.NewReplacer(
		"{{date}}", now.Format(c.daily.Format),
		"{{time}}", now.Format("15:04"),
		"{{title}}", title,
	)
	return r.Replace(text), nil
}
