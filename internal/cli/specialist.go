package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewSpecialistCmd создаёт группу команд для управления специалистами.
func NewSpecialistCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "specialist",
		Short: "Manage directory specialists",
	}

	cmd.AddCommand(
		newSpecialistListCmd(clientFn, outputFn),
		newSpecialistCreateCmd(clientFn, outputFn),
		newSpecialistShowCmd(clientFn, outputFn),
		newSpecialistUpdateCmd(clientFn, outputFn),
	)

	return cmd
}

func specialistRow(sp SpecialistResponse) []string {
	return []string{
		sp.ID,
		sp.Name,
		orDash(sp.Phone),
		orDash(sp.Specialty),
		strconv.FormatBool(sp.Verified),
		orDash(sp.LastVerifiedAt),
	}
}

var specialistHeaders = []string{"ID", "NAME", "PHONE", "SPECIALTY", "VERIFIED", "LAST_VERIFIED"}

func newSpecialistListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List specialists",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			specialists, err := client.ListSpecialists(limit)
			if err != nil {
				return err
			}

			rows := make([][]string, len(specialists))
			for i, sp := range specialists {
				rows[i] = specialistRow(sp)
			}

			out.Print(specialistHeaders, rows, specialists)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newSpecialistCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var phone, specialty, clinic string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a specialist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			sp, err := client.CreateSpecialist(CreateSpecialistRequest{
				Name:      args[0],
				Phone:     phone,
				Specialty: specialty,
				Clinic:    clinic,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Specialist created: %s", sp.ID))
			out.Print(specialistHeaders, [][]string{specialistRow(*sp)}, sp)
			return nil
		},
	}

	cmd.Flags().StringVar(&phone, "phone", "", "Phone number in E.164 format")
	cmd.Flags().StringVar(&specialty, "specialty", "", "Medical specialty")
	cmd.Flags().StringVar(&clinic, "clinic", "", "Clinic name")

	return cmd
}

func newSpecialistShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a specialist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			sp, err := client.GetSpecialist(args[0])
			if err != nil {
				return err
			}

			out.Print(specialistHeaders, [][]string{specialistRow(*sp)}, sp)
			return nil
		},
	}
}

func newSpecialistUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name, phone, specialty, clinic string

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a specialist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := UpdateSpecialistRequest{}
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("phone") {
				req.Phone = &phone
			}
			if cmd.Flags().Changed("specialty") {
				req.Specialty = &specialty
			}
			if cmd.Flags().Changed("clinic") {
				req.Clinic = &clinic
			}

			sp, err := client.UpdateSpecialist(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Specialist updated: %s", sp.ID))
			out.Print(specialistHeaders, [][]string{specialistRow(*sp)}, sp)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Full name")
	cmd.Flags().StringVar(&phone, "phone", "", "Phone number in E.164 format")
	cmd.Flags().StringVar(&specialty, "specialty", "", "Medical specialty")
	cmd.Flags().StringVar(&clinic, "clinic", "", "Clinic name")

	return cmd
}
