package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	toml "github.com/pelletier/go-toml/v2"

	"rely/internal/config"
	"rely/internal/llm/retry"
)

var (
	retryableStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	fatalStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	labelStyle     = lipgloss.NewStyle().Faint(true)
)

// renderVerdict formats a classification for terminal display.
func renderVerdict(c retry.Classification) string {
	var b strings.Builder

	if c.Retryable {
		b.WriteString(retryableStyle.Render("retryable"))
	} else {
		b.WriteString(fatalStyle.Render("fatal"))
	}
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("message:"))
	b.WriteString(" ")
	b.WriteString(c.Message)

	if c.RetryAfter > 0 {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render("retry after:"))
		b.WriteString(" ")
		b.WriteString(c.RetryAfter.String())
	}

	return b.String()
}

// renderConfig serializes the config back to TOML with secrets redacted.
func renderConfig(cfg config.Config) string {
	redacted := cfg
	redacted.Providers = make(map[string]config.ProviderConfig, len(cfg.Providers))
	for id, pc := range cfg.Providers {
		if pc.APIKey != "" {
			pc.APIKey = "<redacted>"
		}
		redacted.Providers[id] = pc
	}

	raw, err := toml.Marshal(redacted)
	if err != nil {
		return fmt.Sprintf("marshal config: %v\n", err)
	}
	return string(raw)
}
