package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewCallCmd создаёт группу команд для управления звонками.
func NewCallCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Manage verification calls",
	}

	cmd.AddCommand(
		newCallListCmd(clientFn, outputFn),
		newCallScheduleCmd(clientFn, outputFn),
		newCallShowCmd(clientFn, outputFn),
		newCallCompleteCmd(clientFn, outputFn),
		newCallFailCmd(clientFn, outputFn),
	)

	return cmd
}

func callRow(c CallResponse) []string {
	return []string{
		c.ID,
		c.SpecialistID,
		c.Status,
		strconv.Itoa(c.RetryCount),
		orDash(c.SessionID),
		c.CreatedAt,
	}
}

var callHeaders = []string{"ID", "SPECIALIST_ID", "STATUS", "RETRIES", "SESSION", "CREATED"}

func newCallListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			calls, err := client.ListCalls(ListCallsOpts{Status: status, Limit: limit})
			if err != nil {
				return err
			}

			rows := make([][]string, len(calls))
			for i, c := range calls {
				rows[i] = callRow(c)
			}

			out.Print(callHeaders, rows, calls)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (queued, dispatched, completed, failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newCallScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var priority float64
	var metadata []string

	cmd := &cobra.Command{
		Use:   "schedule SPECIALIST_ID",
		Short: "Schedule a verification call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := ScheduleCallRequest{
				SpecialistID: args[0],
				Priority:     priority,
			}

			if len(metadata) > 0 {
				req.Metadata = make(map[string]string)
				for _, kv := range metadata {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid metadata format %q, expected KEY=VALUE", kv)
					}
					req.Metadata[parts[0]] = parts[1]
				}
			}

			call, err := client.ScheduleCall(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Call scheduled: %s", call.ID))
			out.Print(callHeaders, [][]string{callRow(*call)}, call)
			return nil
		},
	}

	cmd.Flags().Float64Var(&priority, "priority", 0, "Queue priority (higher dequeues first)")
	cmd.Flags().StringSliceVar(&metadata, "meta", nil, "Session metadata as KEY=VALUE (repeatable)")

	return cmd
}

func newCallShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			call, err := client.GetCall(args[0])
			if err != nil {
				return err
			}

			out.Print(callHeaders, [][]string{callRow(*call)}, call)
			return nil
		},
	}
}

func newCallCompleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var transcript string

	cmd := &cobra.Command{
		Use:   "complete CALL_ID",
		Short: "Report a call as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.CompleteCall(args[0], transcript); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Completion reported for call %s", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&transcript, "transcript", "", "Conversation transcript")

	return cmd
}

func newCallFailCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "fail CALL_ID",
		Short: "Report a call attempt as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.FailCall(args[0], reason); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Failure reported for call %s", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason")

	return cmd
}
