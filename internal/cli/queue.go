package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewQueueCmd создаёт группу команд для очереди звонков.
func NewQueueCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the call queue",
	}

	cmd.AddCommand(newQueueStatsCmd(clientFn, outputFn))

	return cmd
}

func newQueueStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and active calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			stats, err := client.QueueStats()
			if err != nil {
				return err
			}

			out.Print(
				[]string{"QUEUE_DEPTH", "ACTIVE_CALLS"},
				[][]string{{
					strconv.FormatInt(stats.QueueDepth, 10),
					strconv.FormatInt(stats.ActiveCalls, 10),
				}},
				stats,
			)
			return nil
		},
	}
}
