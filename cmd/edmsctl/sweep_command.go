package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jinkaiteo/edms/internal/application/scheduler"
	"github.com/jinkaiteo/edms/internal/container"
	"github.com/jinkaiteo/edms/internal/domain/entity"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var asOfFlag string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Apply due effective and obsolete dates now",
		Long: "Runs the same sweep as the daily job. Documents whose effective or obsolete\n" +
			"date is on or before --as-of (default today in the configured timezone) move\n" +
			"to their next state. Safe to repeat.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd, ctx.opts.output)
			if err != nil {
				return err
			}
			return ctx.withContainer(cmd, func(c *container.Container) error {
				asOf := entity.DateOf(c.Clock().Now().In(c.Config().Scheduler.Location))
				if asOfFlag != "" {
					asOf, err = entity.ParseDate(asOfFlag)
					if err != nil {
						return fmt.Errorf("--as-of: %w", err)
					}
				}

				report, err := c.Scheduler().RunLocked(cmd.Context(), c.SweepLock(), asOf)
				if errors.Is(err, scheduler.ErrSweepInProgress) {
					return fmt.Errorf("another sweep holds the lock; try again later")
				}
				if err != nil {
					return err
				}
				return printSweepReport(p, report)
			})
		},
	}

	cmd.Flags().StringVar(&asOfFlag, "as-of", "", "Sweep date (YYYY-MM-DD)")
	return cmd
}

func printSweepReport(p *printer, report *scheduler.SweepReport) error {
	if p.isJSON() {
		return p.writeJSON(report)
	}

	p.line("Sweep as of %s: %d examined, %d transitioned, %d skipped, %d failed",
		report.AsOf.Format(entity.DateLayout), report.Examined, report.Transitioned, report.Skipped, report.Failed)
	if len(report.Results) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(report.Results))
	for _, r := range report.Results {
		rows = append(rows, []string{
			r.Label,
			string(r.From),
			p.state(string(r.To)),
			string(r.Outcome),
			strconv.Itoa(r.Attempts),
			r.Error,
		})
	}
	p.table([]string{"Document", "From", "To", "Outcome", "Attempts", "Error"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft})

	if report.Failed > 0 {
		return fmt.Errorf("%d document(s) failed to transition", report.Failed)
	}
	return nil
}
