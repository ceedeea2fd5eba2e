// Verista CLI — инструмент командной строки для управления
// справочником специалистов и верификационными звонками через HTTP API.
//
// Использование:
//
//	verista [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	specialist  Управление справочником специалистов
//	call        Управление верификационными звонками
//	queue       Сводка по очереди
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Verista/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "verista",
		Short:         "Verista CLI — directory verification calls",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewSpecialistCmd(clientFn, outputFn),
		cli.NewCallCmd(clientFn, outputFn),
		cli.NewQueueCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
