package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jinkaiteo/edms/internal/container"
)

func newStaleCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stale",
		Short: "List reviews and approvals waiting longer than their threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd, ctx.opts.output)
			if err != nil {
				return err
			}
			return ctx.withContainer(cmd, func(c *container.Container) error {
				alerts, err := c.Monitor().Scan(cmd.Context(), c.Clock().Now())
				if err != nil {
					return err
				}
				if p.isJSON() {
					return p.writeJSON(alerts)
				}
				if len(alerts) == 0 {
					p.line("No overdue documents")
					return nil
				}

				rows := make([][]string, 0, len(alerts))
				for _, a := range alerts {
					rows = append(rows, []string{
						a.Label,
						p.state(string(a.State)),
						a.Assignee,
						a.EnteredAt.Format(time.RFC3339),
						a.Age.Truncate(time.Minute).String(),
					})
				}
				p.table([]string{"Document", "State", "Assignee", "Entered", "Waiting"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight})
				return nil
			})
		},
	}
}
