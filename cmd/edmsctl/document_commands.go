package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jinkaiteo/edms/internal/application/service"
	"github.com/jinkaiteo/edms/internal/application/workflow"
	"github.com/jinkaiteo/edms/internal/container"
	"github.com/jinkaiteo/edms/internal/domain/entity"
	domainwf "github.com/jinkaiteo/edms/internal/domain/workflow"
)

// documentView is the JSON shape of show and create
type documentView struct {
	Document  *entity.Document               `json:"document"`
	Workflow  *entity.Workflow               `json:"workflow"`
	Available []workflow.AvailableTransition `json:"available,omitempty"`
}

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var title, reviewer, approver, effective string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new document family in DRAFT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := ctx.requireActor()
			if err != nil {
				return err
			}
			p, err := newPrinter(cmd, ctx.opts.output)
			if err != nil {
				return err
			}
			in := service.CreateDraftInput{
				Title:      title,
				AuthorID:   actor,
				ReviewerID: reviewer,
				ApproverID: approver,
			}
			if in.EffectiveDate, err = optionalDate("--effective-date", effective); err != nil {
				return err
			}

			return ctx.withContainer(cmd, func(c *container.Container) error {
				snap, err := c.Documents().CreateDraft(cmd.Context(), in)
				if err != nil {
					return err
				}
				return printDocument(p, snap, nil)
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Document title")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer actor id")
	cmd.Flags().StringVar(&approver, "approver", "", "Approver actor id")
	cmd.Flags().StringVar(&effective, "effective-date", "", "Planned effective date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document, its workflow and, with --actor, the transitions available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd, ctx.opts.output)
			if err != nil {
				return err
			}
			return ctx.withContainer(cmd, func(c *container.Container) error {
				snap, err := c.Documents().Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				var available []workflow.AvailableTransition
				if actor := strings.TrimSpace(ctx.opts.actor); actor != "" {
					available, err = c.WorkflowEngine().AvailableTransitions(cmd.Context(), args[0], actor)
					if err != nil {
						return err
					}
				}
				return printDocument(p, snap, available)
			})
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "history <document-id>",
		Short: "Print the audit trail of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd, ctx.opts.output)
			if err != nil {
				return err
			}
			return ctx.withContainer(cmd, func(c *container.Container) error {
				records, err := c.Documents().History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if p.isJSON() {
					return p.writeJSON(records)
				}
				if len(records) == 0 {
					p.line("No transitions recorded")
					return nil
				}

				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{
						strconv.FormatInt(r.ID, 10),
						r.Timestamp.Format(time.RFC3339),
						r.ActorID,
						r.Action,
						r.FromState,
						p.state(r.ToState),
						r.Comment,
					})
				}
				p.table([]string{"#", "At", "Actor", "Action", "From", "To", "Comment"}, rows,
					[]columnAlignment{alignRight})
				return nil
			})
		},
	}
}

func newTransitionCommand(ctx *commandContext) *cobra.Command {
	var stamp int64
	var comment, effective, obsolete string

	cmd := &cobra.Command{
		Use:   "transition <document-id> <target-state>",
		Short: "Request a lifecycle transition as --actor",
		Long: "Requests a transition through the workflow engine. --stamp is the version\n" +
			"stamp the caller last read; when omitted the current stamp is used, which\n" +
			"gives up the stale-read check.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := ctx.requireActor()
			if err != nil {
				return err
			}
			p, err := newPrinter(cmd, ctx.opts.output)
			if err != nil {
				return err
			}
			target, err := domainwf.ParseState(strings.ToUpper(args[1]))
			if err != nil {
				return err
			}
			req := workflow.Request{
				DocumentID:    args[0],
				ExpectedStamp: stamp,
				Target:        target,
				ActorID:       actor,
				Comment:       comment,
			}
			if req.EffectiveDate, err = optionalDate("--effective-date", effective); err != nil {
				return err
			}
			if req.ObsoleteDate, err = optionalDate("--obsolete-date", obsolete); err != nil {
				return err
			}

			return ctx.withContainer(cmd, func(c *container.Container) error {
				if !cmd.Flags().Changed("stamp") {
					snap, err := c.Documents().Get(cmd.Context(), req.DocumentID)
					if err != nil {
						return err
					}
					req.ExpectedStamp = snap.Workflow.VersionStamp
				}

				result, err := c.WorkflowEngine().RequestTransition(cmd.Context(), req)
				if err != nil {
					return describeError(err)
				}
				if p.isJSON() {
					return p.writeJSON(result)
				}
				p.line("%s -> %s (%s), stamp %d", result.FromState, p.state(string(result.State)), result.Action, result.VersionStamp)
				for _, id := range result.Superseded {
					p.line("superseded %s", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&stamp, "stamp", 0, "Expected version stamp")
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "Comment stored with the transition")
	cmd.Flags().StringVar(&effective, "effective-date", "", "Effective date for approval (YYYY-MM-DD)")
	cmd.Flags().StringVar(&obsolete, "obsolete-date", "", "Obsolete date for scheduling obsolescence (YYYY-MM-DD)")
	return cmd
}

func printDocument(p *printer, snap *entity.Snapshot, available []workflow.AvailableTransition) error {
	if p.isJSON() {
		return p.writeJSON(documentView{Document: snap.Document, Workflow: snap.Workflow, Available: available})
	}

	doc, wf := snap.Document, snap.Workflow
	rows := [][]string{
		{"ID", doc.ID},
		{"Document", doc.Label()},
		{"Title", doc.Title},
		{"State", p.state(wf.CurrentState)},
		{"Stamp", strconv.FormatInt(wf.VersionStamp, 10)},
		{"Assignee", wf.CurrentAssignee},
		{"Author", doc.AuthorID},
		{"Reviewer", doc.ReviewerID},
		{"Approver", doc.ApproverID},
		{"Effective", formatDate(doc.EffectiveDate)},
		{"Obsolete", formatDate(doc.ObsoleteDate)},
		{"In state since", wf.StateEnteredAt.Format(time.RFC3339)},
	}
	if len(available) > 0 {
		targets := make([]string, 0, len(available))
		for _, a := range available {
			targets = append(targets, fmt.Sprintf("%s (%s)", a.Target, a.Action))
		}
		rows = append(rows, []string{"Available", strings.Join(targets, ", ")})
	}
	p.table([]string{"Field", "Value"}, rows, nil)
	return nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(entity.DateLayout)
}

func optionalDate(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := entity.ParseDate(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", flag, err)
	}
	return &t, nil
}

// describeError adds the guard reason or error code to engine failures
func describeError(err error) error {
	code := domainwf.ErrorCode(err)
	if code == "" {
		return err
	}
	if reason := domainwf.GuardReason(err); reason != "" {
		return fmt.Errorf("%s (%s): %w", code, reason, err)
	}
	return fmt.Errorf("%s: %w", code, err)
}
