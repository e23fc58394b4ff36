package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "appguard",
	Short:         "AppGuard discovers third-party app access and revokes it on offboarding.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setCommandExecutionContext(commandExecutionContext{
			CommandPath:       cmd.CommandPath(),
			UsesStructuredLog: commandUsesStructuredLogging(cmd),
		})
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(syncCmd, workerCmd, offboardCmd, validateProvidersCmd)
}

// commandExecutionContext records which command is running so the fatal
// error path can choose between structured logs and plain stderr output.
type commandExecutionContext struct {
	CommandPath       string
	UsesStructuredLog bool
}

var (
	commandCtxMu sync.Mutex
	commandCtx   commandExecutionContext
)

func setCommandExecutionContext(ctx commandExecutionContext) {
	commandCtxMu.Lock()
	defer commandCtxMu.Unlock()
	commandCtx = ctx
}

func resetCommandExecutionContext() {
	setCommandExecutionContext(commandExecutionContext{})
}

func currentCommandExecutionContext() commandExecutionContext {
	commandCtxMu.Lock()
	defer commandCtxMu.Unlock()
	return commandCtx
}

// Long-running service commands log structured JSON; one-shot operator
// commands print plain text.
func commandUsesStructuredLogging(cmd *cobra.Command) bool {
	path := cmd.CommandPath()
	return strings.HasPrefix(path, "appguard sync") || strings.HasPrefix(path, "appguard worker")
}
