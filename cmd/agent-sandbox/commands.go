package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yksanjo/agent-sandbox/internal/config"
	"github.com/yksanjo/agent-sandbox/internal/controller"
	"github.com/yksanjo/agent-sandbox/internal/policy"
)

// submitLine parses and submits one command line in the given mode.
func submitLine(cmd *cobra.Command, mode controller.Mode, args []string, showUnified bool) error {
	s, err := newSession(cmd, mode)
	if err != nil {
		return err
	}
	defer s.close()

	desc, err := controller.ParseAction(strings.Join(args, " "))
	if err != nil {
		return err
	}

	out, err := s.ctl.Submit(cmd.Context(), desc)
	if out != nil {
		printOutcome(out, showUnified)
	}
	if errors.Is(err, policy.ErrAskUserUnresolved) && out != nil {
		fmt.Printf("queued for approval; run: agent-sandbox approve %s\n", out.ID)
		return nil
	}
	return err
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run -- <command...>",
		Short: "Execute a command, committing its changes if allowed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitLine(cmd, controller.ModeRun, args, false)
		},
	}
}

func simCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "sim -- <command...>",
		Aliases: []string{"simulate"},
		Short:   "Execute a command in the overlay only and report its effects",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitLine(cmd, controller.ModeSimulate, args, false)
		},
	}
}

func diffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff -- <command...>",
		Short: "Show the full diff a command would produce, committing nothing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return submitLine(cmd, controller.ModeDiff, args, true)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sandbox state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, controller.ModeRun)
			if err != nil {
				return err
			}
			defer s.close()

			st := s.ctl.Status()
			store, err := controller.NewStore(config.GetStateDir())
			if err != nil {
				return err
			}
			history, err := store.LoadHistory()
			if err != nil {
				return err
			}
			pendingIDs, err := store.PendingIDs()
			if err != nil {
				return err
			}

			fmt.Printf("sandbox root:      %s\n", s.fs.Root())
			fmt.Printf("mode:              %s\n", s.cfg.Mode)
			fmt.Printf("pending changes:   %d\n", st.PendingChangesCount)
			fmt.Printf("pending approvals: %d\n", len(pendingIDs))
			fmt.Printf("actions recorded:  %d\n", len(history))
			if len(history) > 0 {
				last := history[len(history)-1]
				fmt.Printf("last decision:     %s: %s (%s)\n", last.Command, last.Decision, last.State)
			}
			if len(st.DirtyRealPaths) > 0 {
				fmt.Printf("changed on disk since session start:\n")
				for _, p := range st.DirtyRealPaths {
					fmt.Printf("  %s\n", p)
				}
			}
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard all overlay state, history and pending approvals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, controller.ModeRun)
			if err != nil {
				return err
			}
			defer s.close()

			s.ctl.Reset()
			fmt.Println("sandbox reset: overlay re-based on the current filesystem")
			return nil
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List cataloged commands and their capabilities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, controller.ModeRun)
			if err != nil {
				return err
			}
			defer s.close()

			for _, e := range s.reg.Entries() {
				name := e.Name
				if name == "" {
					name = e.Pattern
				}
				approval := ""
				if e.RequiresApproval {
					approval = "  [requires approval]"
				}
				fmt.Printf("%-12s %s%s\n", name, e.Capabilities, approval)
			}
			return nil
		},
	}
}

func approveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve and execute a queued action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, controller.ModeRun)
			if err != nil {
				return err
			}
			defer s.close()

			out, err := s.ctl.Approve(cmd.Context(), args[0])
			if out != nil {
				printOutcome(out, false)
			}
			return err
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show recorded actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := controller.NewStore(config.GetStateDir())
			if err != nil {
				return err
			}
			records, err := store.LoadHistory()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no recorded actions")
				return nil
			}
			for _, rec := range records {
				line := rec.Command
				if len(rec.Argv) > 0 {
					line += " " + strings.Join(rec.Argv, " ")
				}
				fmt.Printf("%s  [%s]  %-8s %-10s %s\n",
					rec.ExecutedAt.Format("2006-01-02 15:04:05"), rec.ID[:8], rec.Decision, rec.State, line)
				if rec.Error != "" {
					fmt.Printf("    error: %s\n", rec.Error)
				}
			}
			return nil
		},
	}
}
