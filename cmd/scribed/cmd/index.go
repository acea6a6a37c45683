package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aman-cerp/scribe/internal/task"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Create or delete named indexes",
	}

	cmd.AddCommand(newIndexCreateCmd())
	cmd.AddCommand(newIndexDeleteCmd())

	return cmd
}

func newIndexCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <uid>",
		Short: "Create a new index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid := args[0]
			a, err := openApp(loadedCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.submitAndDrain(func() (*task.Task, error) {
				return a.scheduler.Submit(task.KindIndexCreation, "", uid, "")
			})
			if err != nil {
				return err
			}
			return printTaskResult(cmd, t)
		},
	}
}

func newIndexDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete an index and all its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid := args[0]
			a, err := openApp(loadedCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.submitAndDrain(func() (*task.Task, error) {
				return a.scheduler.Submit(task.KindIndexDeletion, "", uid, "")
			})
			if err != nil {
				return err
			}
			return printTaskResult(cmd, t)
		},
	}
}

// printTaskResult reports a finished task's outcome to the user,
// returning a non-nil error if it failed so the CLI exits non-zero.
func printTaskResult(cmd *cobra.Command, t *task.Task) error {
	out := cmd.OutOrStdout()
	switch t.Status {
	case task.StatusSucceeded:
		fmt.Fprintf(out, "Task %d succeeded (%s)\n", t.UID, t.Kind)
		return nil
	case task.StatusFailed:
		msg := "unknown error"
		if t.Error != nil {
			msg = t.Error.Message
		}
		fmt.Fprintf(out, "Task %d failed (%s): %s\n", t.UID, t.Kind, msg)
		return fmt.Errorf("task %d failed: %s", t.UID, msg)
	default:
		fmt.Fprintf(out, "Task %d is %s\n", t.UID, t.Status)
		return nil
	}
}
