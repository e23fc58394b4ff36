package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/appguard/appguard/internal/logging"
)

// exitError carries an explicit process exit code through cobra's error
// return. A silent exitError suppresses the final error line, for commands
// that already reported their own diagnostics.
type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e == nil {
		return ""
	}
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func main() {
	if code := runMain(Execute, os.Stderr); code != 0 {
		os.Exit(code)
	}
}

func runMain(execute func() error, stderr io.Writer) int {
	err := execute()
	if err == nil {
		return 0
	}
	return exitCodeForError(err, stderr)
}

func exitCodeForError(err error, stderr io.Writer) int {
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		if !ee.silent {
			cause := err
			if ee.err != nil {
				cause = ee.err
			}
			emitCommandError(cause, "command failed", ee.code, stderr)
		}
		return ee.code
	case errors.Is(err, context.Canceled):
		emitCommandError(err, "command canceled", 130, stderr)
		return 130
	default:
		emitCommandError(err, "command failed", 1, stderr)
		return 1
	}
}

// emitCommandError writes the fatal error the way the failing command logs:
// structured JSON for service commands, a plain stderr line for operator
// commands.
func emitCommandError(err error, message string, exitCode int, stderr io.Writer) {
	cmdCtx := currentCommandExecutionContext()
	if !cmdCtx.UsesStructuredLog {
		if exitCode == 130 {
			fmt.Fprintln(stderr, "canceled")
		} else {
			fmt.Fprintln(stderr, err)
		}
		return
	}
	fatalLogger(cmdCtx, stderr).Error(message, "exit_code", exitCode, "error", err)
}

func fatalLogger(cmdCtx commandExecutionContext, stderr io.Writer) *slog.Logger {
	cfg, err := logging.LoadConfigFromEnv()
	if err != nil {
		cfg = logging.DefaultConfig()
	}
	return logging.NewLogger(cfg, stderr, cmdCtx.CommandPath)
}
