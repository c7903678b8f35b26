// Package tools provides the tool catalogue: named asynchronous actions the
// model can delegate work to.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds a tool execution when the definition does not set one.
const DefaultTimeout = 30 * time.Second

// Action is a tool's executable body.
type Action func(ctx context.Context, task string) (string, error)

// Definition describes one tool: prompt-facing description, the
// acknowledgement shown to the user on submission, and the action itself.
//
//nolint:govet // struct alignment optimization not critical for this type
type Definition struct {
	Name        string
	Description string
	Ack         string // acknowledgement text returned to the user at submission time
	Timeout     time.Duration
	Action      Action
}

// Failure is a structured tool error carrying retryability classification.
type Failure struct {
	Message   string
	Retryable bool
}

func (f *Failure) Error() string {
	return f.Message
}

// ShouldRetry reports whether the orchestration loop may resubmit the request.
func (f *Failure) ShouldRetry() bool {
	return f.Retryable
}

// NewTerminalFailure creates a non-retryable tool failure.
func NewTerminalFailure(format string, args ...any) *Failure {
	return &Failure{Message: fmt.Sprintf(format, args...)}
}

// NewRetryableFailure creates a retryable tool failure.
func NewRetryableFailure(format string, args ...any) *Failure {
	return &Failure{Message: fmt.Sprintf(format, args...), Retryable: true}
}

// AsFailure extracts a *Failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

// Catalogue is an injected, explicitly-owned set of tool definitions. No
// process-wide singleton: the orchestration loop receives its catalogue.
type Catalogue struct {
	mu    sync.RWMutex
	tools map[string]*Definition
}

// NewCatalogue creates an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{tools: make(map[string]*Definition)}
}

// Register adds a tool definition. Re-registering a name replaces it.
func (c *Catalogue) Register(def *Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Action == nil {
		return fmt.Errorf("tool %s has no action", def.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[def.Name] = def
	return nil
}

// Get returns a tool definition by name.
func (c *Catalogue) Get(name string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.tools[name]
	return def, ok
}

// Names returns registered tool names in sorted order.
func (c *Catalogue) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EffectiveTimeout returns the execution bound for a tool.
func (d *Definition) EffectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// Acknowledgement returns the user-visible submission text for a task.
func (d *Definition) Acknowledgement(task string) string {
	if d.Ack != "" {
		return d.Ack
	}
	return fmt.Sprintf("Working on it: %s has been asked to handle %q. I'll follow up when it finishes.", d.Name, task)
}

// PromptBlock renders the catalogue for prompt construction, one line per tool.
func (c *Catalogue) PromptBlock() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %s\n", name, c.tools[name].Description)
	}
	return b.String()
}
