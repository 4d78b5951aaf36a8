// agent-sandbox mediates agent-proposed shell actions: every command runs
// against a copy-on-write overlay of the working directory, gets a diff of
// what it would change, and only touches the real tree when the session mode
// and permission decision both say so.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yksanjo/agent-sandbox/internal/config"
	"github.com/yksanjo/agent-sandbox/internal/logger"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agent-sandbox",
		Short: "Preview, permission-check and apply agent actions",
		Long: `agent-sandbox runs commands against a copy-on-write overlay of a
working directory. Every action is capability-checked against a command
catalog and a permission policy; its filesystem effects are captured as a
diff and committed to the real tree only in run mode with an allow decision.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("working-dir", "w", ".", "sandbox root directory")
	rootCmd.PersistentFlags().String("config", config.GetConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringSlice("allow", nil, "commands allowed without confirmation")
	rootCmd.PersistentFlags().Bool("allow-all", false, "allow every command without confirmation")
	rootCmd.PersistentFlags().StringSlice("deny", nil, "commands always refused")
	rootCmd.PersistentFlags().StringSlice("deny-path", nil, "path prefixes no command may touch")
	rootCmd.PersistentFlags().String("catalog", "", "YAML command catalog merged over the builtin one")
	rootCmd.PersistentFlags().Bool("non-interactive", false, "never prompt; unresolved confirmations abort")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		runCmd(),
		simCmd(),
		diffCmd(),
		statusCmd(),
		resetCmd(),
		toolsCmd(),
		approveCmd(),
		historyCmd(),
	)

	defer func() {
		if err := logger.Global().Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close log: %v\n", err)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
