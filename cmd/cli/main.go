package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/vortexml/traind/cli"
	"github.com/vortexml/traind/paramserver"
)

const defHolderURL = "localhost:7577"

func main() {
	rootCmd := &cobra.Command{
		Use:   "traind-cli",
		Short: "Traind CLI",
		Long:  `Traind CLI is a command line interface for inspecting training runs and parameter holders.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			endpoint := os.Getenv("TRAIND_HOLDER_URL")
			if endpoint == "" {
				endpoint = defHolderURL
			}
			cli.SetParamClient(paramserver.NewClient(endpoint))
		},
	}

	rootCmd.AddCommand(cli.NewCheckpointsCmd())
	rootCmd.AddCommand(cli.NewParamsCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
