package cli

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/vortexml/traind/params"
	"github.com/vortexml/traind/paramserver"
)

var errNoCheckpoints = errors.New("no checkpoints found")

var client *paramserver.Client

// SetParamClient sets the parameter holder client used by all commands.
func SetParamClient(c *paramserver.Client) {
	client = c
}

func NewParamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params [view|set|delete]",
		Short: "Shared parameters manager",
		Long:  `View, set and delete parameter blobs on a parameter holder.`,
	}

	viewCmd := &cobra.Command{
		Use:   "view <key>",
		Short: "View parameter",
		Long:  `View one parameter blob with its step and provenance.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			p, err := client.Pull(cmd.Context(), args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, p)
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <file>",
		Short: "Set parameter",
		Long:  `Upload a blob from a file under the given key.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 2 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			blob, err := os.ReadFile(args[1])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			if err := client.Push(cmd.Context(), params.Parameter{
				Key:       args[0],
				Blob:      blob,
				UpdatedBy: "cli",
			}); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete parameter",
		Long:  `Delete one parameter blob.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if err := client.Delete(cmd.Context(), args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd)
		},
	}

	cmd.AddCommand(viewCmd)
	cmd.AddCommand(setCmd)
	cmd.AddCommand(deleteCmd)

	return cmd
}
