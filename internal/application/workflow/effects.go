package workflow

import (
	"context"
	"fmt"

	"github.com/jinkaiteo/edms/internal/domain/entity"
	domainwf "github.com/jinkaiteo/edms/internal/domain/workflow"
)

// SupersedeEffectiveSiblings moves every older effective version of the
// family to SUPERSEDED in the same atomic unit as the transition. A newer
// version that is already effective blocks the transition.
func SupersedeEffectiveSiblings(conflicts ConflictChecker) domainwf.EffectFunc {
	return func(ctx context.Context, t *domainwf.Transition, plan *domainwf.Plan) error {
		siblings, err := conflicts.EffectiveSiblings(ctx, t.Document)
		if err != nil {
			return fmt.Errorf("find effective siblings: %w", err)
		}

		var superseded []string
		for _, s := range siblings {
			if s.Document.NewerThan(t.Document) {
				return domainwf.GuardFailed(domainwf.ReasonNewerVersionEffective,
					fmt.Sprintf("%s is %s", s.Document.Label(), s.Workflow.CurrentState))
			}
			plan.Cascades = append(plan.Cascades, domainwf.Cascade{
				Snapshot: s,
				Action:   domainwf.ActionSupersede,
				Change: entity.StateChange{
					ToState:   string(domainwf.StateSuperseded),
					Assignee:  "",
					ChangedAt: plan.Change.ChangedAt,
				},
				Payload: map[string]interface{}{
					entity.PayloadSupersededBy: t.Document.ID,
					entity.PayloadVersion:      t.Document.Version(),
				},
			})
			superseded = append(superseded, s.Document.ID)
		}
		if len(superseded) > 0 {
			plan.Payload[entity.PayloadSuperseded] = superseded
		}
		return nil
	}
}
