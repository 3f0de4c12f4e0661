package ui

import (
	"os"
	"testing"
)

// clearColorEnv unsets the color variables for the rest of the test.
func clearColorEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"NO_COLOR", "CLICOLOR", "CLICOLOR_FORCE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestShouldUseColor(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want bool
	}{
		{"NO_COLOR set", map[string]string{"NO_COLOR": "1"}, false},
		{"NO_COLOR empty", map[string]string{"NO_COLOR": ""}, false},
		{"CLICOLOR=0", map[string]string{"CLICOLOR": "0"}, false},
		{"forced", map[string]string{"CLICOLOR_FORCE": "1"}, true},
		{"force=0 is not forced", map[string]string{"CLICOLOR_FORCE": "0"}, false},
		{"NO_COLOR wins", map[string]string{"NO_COLOR": "1", "CLICOLOR_FORCE": "1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearColorEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			// go test's stdout is not a TTY, so the fallback is false.
			if got := ShouldUseColor(); got != tt.want {
				t.Errorf("ShouldUseColor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsAgentMode(t *testing.T) {
	t.Setenv("IFLOW_AGENT_MODE", "1")
	if !IsAgentMode() {
		t.Error("IFLOW_AGENT_MODE=1 should enable agent mode")
	}
	t.Setenv("IFLOW_AGENT_MODE", "true")
	if IsAgentMode() {
		t.Error("only 1 enables agent mode")
	}
}

func TestTerminalWidthFallback(t *testing.T) {
	if IsTerminal() {
		t.Skip("stdout is a terminal")
	}
	if got := TerminalWidth(72); got != 72 {
		t.Errorf("TerminalWidth(72) = %d without a terminal", got)
	}
}
