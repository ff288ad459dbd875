package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ifengine/internal/config"
	"ifengine/internal/engine"
)

// runWithApp bootstraps an app, runs fn against it, saves the session, and
// releases resources, regardless of whether fn succeeded — matching the
// teacher's own single-shot command pattern of open, mutate, persist.
func runWithApp(cmd *cobra.Command, fn func(a *app) error) error {
	ctx, cancel := withInterrupt(cmd.Context())
	defer cancel()

	a, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	runErr := fn(a)
	if saveErr := a.save(); saveErr != nil {
		logger.Warn("failed to save session", zap.Error(saveErr))
		if runErr == nil {
			runErr = saveErr
		}
	}
	return runErr
}

var actCmd = &cobra.Command{
	Use:   "act [text]",
	Short: "Take a player action and advance the story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			action, err := a.engine.Act(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printAction(action)
			return nil
		})
	},
}

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Advance the story without a new player action",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			action, err := a.engine.Continue(cmd.Context())
			if err != nil {
				return err
			}
			printAction(action)
			return nil
		})
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Revert the last undoable action",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			action, err := a.engine.Undo()
			if err != nil {
				return err
			}
			printAction(action)
			return nil
		})
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo",
	Short: "Re-apply the last undone action",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			action, err := a.engine.Redo()
			if err != nil {
				return err
			}
			printAction(action)
			return nil
		})
	},
}

var selectCmd = &cobra.Command{
	Use:   "select [node-id]",
	Short: "Move the current selection to a specific node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			action, err := a.engine.Select(args[0])
			if err != nil {
				return err
			}
			printAction(action)
			return nil
		})
	},
}

var switchCmd = &cobra.Command{
	Use:   "switch [prev|next]",
	Short: "Move the current selection to a sibling branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			action, err := a.engine.Switch(args[0])
			if err != nil {
				return err
			}
			printAction(action)
			return nil
		})
	},
}

var eraseCmd = &cobra.Command{
	Use:   "erase [node-id]",
	Short: "Delete a node and its descendant branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			action, err := a.engine.Erase(args[0])
			if err != nil {
				return err
			}
			printAction(action)
			return nil
		})
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry [node-id]",
	Short: "Regenerate a writer node's text with a fresh model call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			action, err := a.engine.Retry(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printAction(action)
			return nil
		})
	},
}

var editText string

var editCmd = &cobra.Command{
	Use:   "edit [node-id]",
	Short: "Replace a node's text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			action, err := a.engine.Edit(cmd.Context(), args[0], editText)
			if err != nil {
				return err
			}
			printAction(action)
			return nil
		})
	},
}

func init() {
	editCmd.Flags().StringVar(&editText, "text", "", "Replacement text for the node")
	_ = editCmd.MarkFlagRequired("text")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current selection and recent turns",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWithApp(cmd, func(a *app) error {
			current := a.engine.Current()
			fmt.Printf("current node: %s\n", current)

			turns, err := a.engine.Tree().GetRecentTurns(current, 5)
			if err != nil {
				return err
			}
			for _, t := range turns {
				fmt.Printf("[%s] %s\n", t.Actor, t.Text)
			}
			return nil
		})
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file to --config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return config.DefaultConfig().Save(configPath)
	},
}

func printAction(a *engine.EngineAction) {
	fmt.Printf("%s: %s -> %s\n", a.Kind, a.FromNodeID, a.ToNodeID)
}
