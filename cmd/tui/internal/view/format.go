package view

import (
	"context"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const dbTimeout = 5 * time.Second

var printer = message.NewPrinter(language.English)

// FormatAmount renders wallet units with digit grouping.
func FormatAmount(units int64) string {
	return printer.Sprintf("%d", units)
}

// FormatTime formats a timestamp as YYYY-MM-DD HH:MM, empty for nil.
func FormatTime(t *time.Time) string {
	if t == nil {
		return ""
	}

	return t.Local().Format("2006-01-02 15:04")
}

// ShortID keeps the first block of a uuid, enough to tell rows apart.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

func deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}

// DbCtx returns a context with a standard timeout for storage operations.
func DbCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), dbTimeout)
}

func activeStyle(s string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Render(s)
}
