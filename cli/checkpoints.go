package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vortexml/traind/checkpoint"
)

var (
	maxKeep   int
	keepEvery time.Duration
)

func NewCheckpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints [list|latest|prune]",
		Short: "Checkpoints manager",
		Long:  `List, inspect and prune training checkpoints.`,
	}

	listCmd := &cobra.Command{
		Use:   "list <dir>",
		Short: "List checkpoints",
		Long:  `List every checkpoint in a training directory, oldest first.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			refs, err := checkpoint.List(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, refs)
		},
	}

	latestCmd := &cobra.Command{
		Use:   "latest <dir>",
		Short: "Show latest checkpoint",
		Long:  `Show the checkpoint a restarted run would resume from.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			ref, err := checkpoint.Latest(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			if ref == nil {
				logErrorCmd(*cmd, errNoCheckpoints)

				return
			}
			logJSONCmd(*cmd, ref)
		},
	}

	pruneCmd := &cobra.Command{
		Use:   "prune <dir>",
		Short: "Prune checkpoints",
		Long:  `Apply the retention policy to a training directory without writing a new checkpoint.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			svc := checkpoint.NewFSManager(args[0], true, checkpoint.Retention{
				MaxKeep:   maxKeep,
				KeepEvery: keepEvery,
			}, logger)
			if err := svc.Prune(cmd.Context()); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}
	pruneCmd.Flags().IntVar(&maxKeep, "max-keep", 3, "number of most recent checkpoints to always keep")
	pruneCmd.Flags().DurationVar(&keepEvery, "keep-every", 0, "keep one older checkpoint per interval (0 disables)")

	cmd.AddCommand(listCmd)
	cmd.AddCommand(latestCmd)
	cmd.AddCommand(pruneCmd)

	return cmd
}
