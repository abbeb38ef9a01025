package conflict

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
)

// Bump selects which part of the version pair is incremented
type Bump string

const (
	BumpMinor Bump = "minor"
	BumpMajor Bump = "major"
)

// ParseBump converts a raw string into a Bump
func ParseBump(value string) (Bump, error) {
	switch b := Bump(strings.ToLower(value)); b {
	case BumpMinor, BumpMajor:
		return b, nil
	default:
		return "", fmt.Errorf("invalid version bump %q", value)
	}
}

// Detector evaluates cross-document invariants with explicit queries
type Detector struct {
	store  port.DocumentStore
	deps   port.DependencyLookup
	logger *zap.Logger
}

// NewDetector creates a conflict detector
func NewDetector(store port.DocumentStore, deps port.DependencyLookup, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{store: store, deps: deps, logger: logger}
}

// CheckDependents fails with has_dependents while any document depending on
// doc is not itself in a terminal state.
func (d *Detector) CheckDependents(ctx context.Context, doc *entity.Document) error {
	dependents, err := d.deps.DependentsOf(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("list dependents of %s: %w", doc.ID, err)
	}

	var blocking []string
	for _, id := range dependents {
		dep, wf, err := d.store.Load(ctx, id)
		if errors.Is(err, port.ErrNotFound) {
			return workflow.NotFound("dependent document", id, err)
		}
		if err != nil {
			return fmt.Errorf("load dependent %s: %w", id, err)
		}
		if !workflow.State(wf.CurrentState).IsTerminal() {
			blocking = append(blocking, dep.Label())
		}
	}

	if len(blocking) > 0 {
		d.logger.Debug("Obsolescence blocked by dependents",
			zap.String("document_id", doc.ID),
			zap.Strings("dependents", blocking))
		return workflow.GuardFailed(workflow.ReasonHasDependents, strings.Join(blocking, ", "))
	}
	return nil
}

// CheckVersionRace fails with version_race while another version of the
// family is still being authored, reviewed or approved.
func (d *Detector) CheckVersionRace(ctx context.Context, doc *entity.Document) error {
	family, err := d.store.ListFamily(ctx, doc.Number)
	if err != nil {
		return fmt.Errorf("list family %s: %w", doc.Number, err)
	}
	for _, sibling := range family {
		if sibling.Document.ID == doc.ID {
			continue
		}
		if workflow.State(sibling.Workflow.CurrentState).IsInFlight() {
			return workflow.GuardFailed(workflow.ReasonVersionRace,
				fmt.Sprintf("%s is %s", sibling.Document.Label(), sibling.Workflow.CurrentState))
		}
	}
	return nil
}

// NextVersion scans the family and returns the version pair a new version gets
func (d *Detector) NextVersion(ctx context.Context, number string, bump Bump) (int, int, error) {
	family, err := d.store.ListFamily(ctx, number)
	if err != nil {
		return 0, 0, fmt.Errorf("list family %s: %w", number, err)
	}
	if len(family) == 0 {
		return 0, 0, workflow.NotFound("document family", number, port.ErrNotFound)
	}

	latest := family[0].Document
	for _, s := range family[1:] {
		if s.Document.NewerThan(latest) {
			latest = s.Document
		}
	}

	if bump == BumpMajor {
		return latest.MajorVersion + 1, 0, nil
	}
	return latest.MajorVersion, latest.MinorVersion + 1, nil
}

// GuardDependents adapts CheckDependents to a transition guard
func (d *Detector) GuardDependents(ctx context.Context, t *workflow.Transition) error {
	return d.CheckDependents(ctx, t.Document)
}

// GuardVersionRace adapts CheckVersionRace to a transition guard
func (d *Detector) GuardVersionRace(ctx context.Context, t *workflow.Transition) error {
	return d.CheckVersionRace(ctx, t.Document)
}

// EffectiveSiblings returns the versions of the family, other than doc, that
// currently hold an effective state.
func (d *Detector) EffectiveSiblings(ctx context.Context, doc *entity.Document) ([]*entity.Snapshot, error) {
	family, err := d.store.ListFamily(ctx, doc.Number)
	if err != nil {
		return nil, fmt.Errorf("list family %s: %w", doc.Number, err)
	}
	var out []*entity.Snapshot
	for _, s := range family {
		if s.Document.ID != doc.ID && workflow.State(s.Workflow.CurrentState).IsEffective() {
			out = append(out, s)
		}
	}
	return out, nil
}
