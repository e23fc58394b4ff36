package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEmitCommandError_StructuredForServiceCommands(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "info")
	setCommandExecutionContext(commandExecutionContext{
		CommandPath:       "appguard worker",
		UsesStructuredLog: true,
	})
	t.Cleanup(resetCommandExecutionContext)

	var out bytes.Buffer
	emitCommandError(errors.New("boom"), "command failed", 1, &out)

	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected structured log output")
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if got := payload["app"]; got != "appguard" {
		t.Fatalf("app = %v, want %q", got, "appguard")
	}
	if got := payload["command"]; got != "appguard worker" {
		t.Fatalf("command = %v, want %q", got, "appguard worker")
	}
	if got := payload["exit_code"]; got != float64(1) {
		t.Fatalf("exit_code = %v, want %v", got, 1)
	}
	if got := payload["error"]; got != "boom" {
		t.Fatalf("error = %v, want %q", got, "boom")
	}
}

func TestEmitCommandError_PlainOutputForOperatorCommands(t *testing.T) {
	setCommandExecutionContext(commandExecutionContext{
		CommandPath:       "appguard offboard",
		UsesStructuredLog: false,
	})
	t.Cleanup(resetCommandExecutionContext)

	var out bytes.Buffer
	emitCommandError(errors.New("plain boom"), "command failed", 1, &out)
	if got := out.String(); got != "plain boom\n" {
		t.Fatalf("output = %q, want plain error line", got)
	}
}

func TestEmitCommandError_CanceledOutputForOperatorCommands(t *testing.T) {
	setCommandExecutionContext(commandExecutionContext{
		CommandPath:       "appguard offboard",
		UsesStructuredLog: false,
	})
	t.Cleanup(resetCommandExecutionContext)

	var out bytes.Buffer
	emitCommandError(context.Canceled, "command canceled", 130, &out)
	if got := out.String(); got != "canceled\n" {
		t.Fatalf("output = %q, want %q", got, "canceled\n")
	}
}

func TestExitCodeForError(t *testing.T) {
	setCommandExecutionContext(commandExecutionContext{
		CommandPath:       "appguard offboard",
		UsesStructuredLog: false,
	})
	t.Cleanup(resetCommandExecutionContext)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "plain error", err: errors.New("x"), want: 1},
		{name: "canceled", err: context.Canceled, want: 130},
		{name: "silent exit error", err: &exitError{code: 3, silent: true}, want: 3},
		{name: "wrapped exit error", err: &exitError{code: 2, err: errors.New("inner")}, want: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			if got := exitCodeForError(tc.err, &out); got != tc.want {
				t.Fatalf("exitCodeForError() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRunMainReturnsZeroOnSuccess(t *testing.T) {
	var out bytes.Buffer
	if got := runMain(func() error { return nil }, &out); got != 0 {
		t.Fatalf("runMain() = %d, want 0", got)
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected stderr output: %q", out.String())
	}
}
