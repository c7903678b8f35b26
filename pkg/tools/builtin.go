package tools

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// RegisterBuiltins installs the stock tool set into a catalogue.
func RegisterBuiltins(c *Catalogue) error {
	defs := []*Definition{
		NewEchoTool(),
		NewScrapeRepoTool(),
		NewRemindTool(),
	}
	for _, def := range defs {
		if err := c.Register(def); err != nil {
			return fmt.Errorf("failed to register builtin %s: %w", def.Name, err)
		}
	}
	return nil
}

// NewEchoTool returns a tool that echoes its task back, useful for wiring checks.
func NewEchoTool() *Definition {
	return &Definition{
		Name:        "echo",
		Description: "Repeats the task text back verbatim. Use for connectivity checks.",
		Ack:         "Echoing that for you in the background.",
		Timeout:     5 * time.Second,
		Action: func(_ context.Context, task string) (string, error) {
			return task, nil
		},
	}
}

// NewScrapeRepoTool returns a tool that inspects a repository URL and reports a
// summary. The fetch is simulated; the URL must still be well-formed.
func NewScrapeRepoTool() *Definition {
	return &Definition{
		Name:        "scrape_repo",
		Description: "Scrapes a source repository given its URL and reports a file summary.",
		Timeout:     60 * time.Second,
		Action: func(ctx context.Context, task string) (string, error) {
			target := strings.TrimSpace(task)
			u, err := url.Parse(target)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return "", NewTerminalFailure("not a repository URL: %q", target)
			}

			select {
			case <-ctx.Done():
				return "", NewRetryableFailure("scrape interrupted: %v", ctx.Err())
			default:
			}

			// Deterministic stand-in for the real crawl.
			files := len(u.Path)
			if files == 0 {
				files = 1
			}
			return fmt.Sprintf("done: %d files scraped from %s", files, u.Host+u.Path), nil
		},
	}
}

// NewRemindTool returns a tool that records a reminder note.
func NewRemindTool() *Definition {
	return &Definition{
		Name:        "remind",
		Description: "Stores a reminder note for the user and confirms it.",
		Ack:         "Got it, I'll set that reminder.",
		Timeout:     5 * time.Second,
		Action: func(_ context.Context, task string) (string, error) {
			note := strings.TrimSpace(task)
			if note == "" {
				return "", NewTerminalFailure("reminder text is empty")
			}
			return fmt.Sprintf("reminder saved: %s", note), nil
		},
	}
}
