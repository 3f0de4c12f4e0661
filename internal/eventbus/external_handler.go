package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ExternalHandlerConfig is the configuration of a notification hook, read
// from the notifications.hooks list of the config file.
type ExternalHandlerConfig struct {
	ID       string   `json:"id" mapstructure:"id"`
	Command  string   `json:"command" mapstructure:"command"`
	Events   []string `json:"events" mapstructure:"events"`
	Priority int      `json:"priority,omitempty" mapstructure:"priority"` // Default 50
	Shell    string   `json:"shell,omitempty" mapstructure:"shell"`       // Default "sh"
}

// ExternalHandler runs a shell command for each matching event.
//
// Protocol:
//   - Event JSON is passed on stdin
//   - Handler may write result JSON to stdout; its warnings are collected
//   - A non-zero exit is an error, logged by the bus
type ExternalHandler struct {
	config ExternalHandlerConfig
	events []EventType
}

// NewExternalHandler creates a handler from its configuration.
func NewExternalHandler(cfg ExternalHandlerConfig) *ExternalHandler {
	if cfg.Priority == 0 {
		cfg.Priority = 50
	}
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	events := make([]EventType, len(cfg.Events))
	for i, e := range cfg.Events {
		events[i] = EventType(e)
	}
	return &ExternalHandler{
		config: cfg,
		events: events,
	}
}

func (h *ExternalHandler) ID() string           { return h.config.ID }
func (h *ExternalHandler) Handles() []EventType { return h.events }
func (h *ExternalHandler) Priority() int        { return h.config.Priority }

// Config returns the handler configuration.
func (h *ExternalHandler) Config() ExternalHandlerConfig { return h.config }

func (h *ExternalHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	input := []byte(event.Raw)
	if len(input) == 0 {
		var err error
		input, err = json.Marshal(event)
		if err != nil {
			return fmt.Errorf("external handler %s: marshal event: %w", h.config.ID, err)
		}
	}

	cmd := exec.CommandContext(ctx, h.config.Shell, "-c", h.config.Command) // #nosec G204 - command comes from configuration
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = strings.TrimSpace(stdout.String())
			}
			return fmt.Errorf("external handler %s: exit %d: %s", h.config.ID, exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("external handler %s: exec: %w", h.config.ID, err)
	}
	result.Delivered++

	// Output that is not a JSON result is treated as log noise.
	if out := strings.TrimSpace(stdout.String()); out != "" {
		var handlerResult Result
		if json.Unmarshal([]byte(out), &handlerResult) == nil {
			result.Warnings = append(result.Warnings, handlerResult.Warnings...)
		}
	}
	return nil
}
