package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jinkaiteo/edms/internal/application/conflict"
	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Actions the document service authorizes outside the transition table
const (
	ActionCreateDraft      workflow.Action = "CREATE_DRAFT"
	ActionCreateVersion    workflow.Action = "CREATE_VERSION"
	ActionAssign           workflow.Action = "ASSIGN"
	ActionEditDependencies workflow.Action = "EDIT_DEPENDENCIES"
)

// Assigner checks who may be put on a document in a given role
type Assigner interface {
	CanBeAssigned(ctx context.Context, actorID, role string) bool
}

// CreateDraftInput carries the fields of a new document family
type CreateDraftInput struct {
	Title         string
	AuthorID      string
	ReviewerID    string
	ApproverID    string
	EffectiveDate *time.Time
}

// AssignInput sets the reviewer and approver of a document. Empty ids keep
// the current assignment.
type AssignInput struct {
	DocumentID    string
	ExpectedStamp int64
	ActorID       string
	ReviewerID    string
	ApproverID    string
}

// DocumentService manages documents outside of state transitions
type DocumentService interface {
	CreateDraft(ctx context.Context, in CreateDraftInput) (*entity.Snapshot, error)
	CreateVersion(ctx context.Context, sourceID, actorID string, bump conflict.Bump) (*entity.Snapshot, error)
	AssignReviewers(ctx context.Context, in AssignInput) (int64, error)
	AddDependency(ctx context.Context, actorID, documentID, dependsOnID string) error
	RemoveDependency(ctx context.Context, actorID, documentID, dependsOnID string) error
	Get(ctx context.Context, id string) (*entity.Snapshot, error)
	History(ctx context.Context, id string) ([]*entity.TransitionRecord, error)
}

// VersionPolicy sets the version pair of a new family
type VersionPolicy struct {
	InitialMajor int
	InitialMinor int
}

type documentServiceImpl struct {
	store     port.DocumentStore
	deps      port.DependencyRepository
	audit     port.AuditReader
	detector  *conflict.Detector
	assigner  Assigner
	txManager port.TransactionManager
	clock     port.Clock
	policy    VersionPolicy
	logger    Logger
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(
	store port.DocumentStore,
	deps port.DependencyRepository,
	audit port.AuditReader,
	detector *conflict.Detector,
	assigner Assigner,
	txManager port.TransactionManager,
	clock port.Clock,
	policy VersionPolicy,
	logger Logger,
) DocumentService {
	if clock == nil {
		clock = port.SystemClock
	}
	if policy.InitialMajor == 0 && policy.InitialMinor == 0 {
		policy.InitialMinor = 1
	}
	return &documentServiceImpl{
		store:     store,
		deps:      deps,
		audit:     audit,
		detector:  detector,
		assigner:  assigner,
		txManager: txManager,
		clock:     clock,
		policy:    policy,
		logger:    logger,
	}
}

// CreateDraft allocates a new family number and stores version InitialMajor.InitialMinor in DRAFT
func (s *documentServiceImpl) CreateDraft(ctx context.Context, in CreateDraftInput) (*entity.Snapshot, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	if !s.assigner.CanBeAssigned(ctx, in.AuthorID, entity.RoleAuthor) {
		return nil, workflow.AuthorizationDenied(in.AuthorID, ActionCreateDraft, "")
	}
	if err := s.checkAssignees(ctx, in.ReviewerID, in.ApproverID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var snap *entity.Snapshot
	err := s.allocate(ctx, "new family", func(txCtx context.Context) error {
		seq, err := s.store.MaxFamilySequence(txCtx, now.Year())
		if err != nil {
			return fmt.Errorf("read family sequence: %w", err)
		}
		doc := &entity.Document{
			ID:            uuid.NewString(),
			Number:        fmt.Sprintf("%s-%d-%04d", entity.DocumentNumberPrefix, now.Year(), seq+1),
			Title:         strings.TrimSpace(in.Title),
			MajorVersion:  s.policy.InitialMajor,
			MinorVersion:  s.policy.InitialMinor,
			AuthorID:      in.AuthorID,
			ReviewerID:    in.ReviewerID,
			ApproverID:    in.ApproverID,
			EffectiveDate: dateOrNil(in.EffectiveDate),
		}
		snap, err = s.insert(txCtx, doc, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Draft created", "document_id", snap.Document.ID, "document", snap.Document.Label(), "author_id", in.AuthorID)
	return snap, nil
}

// CreateVersion starts the next version of an effective document's family
func (s *documentServiceImpl) CreateVersion(ctx context.Context, sourceID, actorID string, bump conflict.Bump) (*entity.Snapshot, error) {
	source, wf, err := s.load(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if !workflow.State(wf.CurrentState).IsEffective() {
		return nil, workflow.GuardFailed(workflow.ReasonSourceNotEffective,
			fmt.Sprintf("%s is %s", source.Label(), wf.CurrentState))
	}
	if source.AuthorID != actorID && !s.assigner.CanBeAssigned(ctx, actorID, entity.RoleAuthor) {
		return nil, workflow.AuthorizationDenied(actorID, ActionCreateVersion, sourceID)
	}

	now := s.clock.Now()
	var snap *entity.Snapshot
	err = s.allocate(ctx, source.Number, func(txCtx context.Context) error {
		// Checked inside the transaction so two concurrent up-versions of the
		// same family cannot both pass.
		if err := s.detector.CheckVersionRace(txCtx, source); err != nil {
			return err
		}
		major, minor, err := s.detector.NextVersion(txCtx, source.Number, bump)
		if err != nil {
			return err
		}
		doc := &entity.Document{
			ID:           uuid.NewString(),
			Number:       source.Number,
			Title:        source.Title,
			MajorVersion: major,
			MinorVersion: minor,
			AuthorID:     actorID,
			ReviewerID:   source.ReviewerID,
			ApproverID:   source.ApproverID,
		}
		snap, err = s.insert(txCtx, doc, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Version created", "document_id", snap.Document.ID, "document", snap.Document.Label(), "source_id", sourceID, "bump", string(bump))
	return snap, nil
}

// allocate runs fn in a transaction and retries once on a uniqueness
// violation with a freshly read maximum.
func (s *documentServiceImpl) allocate(ctx context.Context, number string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.txManager.WithTransaction(ctx, fn)
		if !errors.Is(err, port.ErrDuplicateVersion) {
			return err
		}
		s.logger.Info("Version allocation collided, retrying", "number", number, "attempt", attempt+1)
	}
	return workflow.VersionConflict(number, err)
}

func (s *documentServiceImpl) insert(ctx context.Context, doc *entity.Document, now time.Time) (*entity.Snapshot, error) {
	doc.Status = string(workflow.InitialState)
	doc.CreatedAt = now
	doc.UpdatedAt = now
	wf := &entity.Workflow{
		ID:              uuid.NewString(),
		DocumentID:      doc.ID,
		CurrentState:    string(workflow.InitialState),
		VersionStamp:    1,
		CurrentAssignee: doc.AuthorID,
		StateEnteredAt:  now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, doc, wf); err != nil {
		return nil, err
	}
	return &entity.Snapshot{Document: doc, Workflow: wf}, nil
}

// AssignReviewers sets reviewer and approver under the stamp check. The
// reviewer is locked once the document left DRAFT and the approver once it
// was submitted for approval.
func (s *documentServiceImpl) AssignReviewers(ctx context.Context, in AssignInput) (int64, error) {
	doc, wf, err := s.load(ctx, in.DocumentID)
	if err != nil {
		return 0, err
	}
	if wf.VersionStamp != in.ExpectedStamp {
		return 0, workflow.ConcurrentModification(doc.ID, in.ExpectedStamp)
	}
	if doc.AuthorID != in.ActorID && !s.assigner.CanBeAssigned(ctx, in.ActorID, entity.RoleAdmin) {
		return 0, workflow.AuthorizationDenied(in.ActorID, ActionAssign, doc.ID)
	}

	reviewer, approver := doc.ReviewerID, doc.ApproverID
	st := workflow.State(wf.CurrentState)
	if in.ReviewerID != "" && in.ReviewerID != reviewer {
		if st != workflow.StateDraft {
			return 0, workflow.GuardFailed(workflow.ReasonAssignmentLocked, "reviewer is fixed after "+string(workflow.ActionSubmitForReview))
		}
		reviewer = in.ReviewerID
	}
	if in.ApproverID != "" && in.ApproverID != approver {
		if !approverOpen(st) {
			return 0, workflow.GuardFailed(workflow.ReasonAssignmentLocked, "approver is fixed after "+string(workflow.ActionSubmitForApproval))
		}
		approver = in.ApproverID
	}
	if err := s.checkAssignees(ctx, in.ReviewerID, in.ApproverID); err != nil {
		return 0, err
	}

	ok, err := s.store.UpdateAssignments(ctx, doc.ID, in.ExpectedStamp, reviewer, approver, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("update assignments of %s: %w", doc.ID, err)
	}
	if !ok {
		return 0, workflow.ConcurrentModification(doc.ID, in.ExpectedStamp)
	}

	s.logger.Info("Assignments updated", "document_id", doc.ID, "reviewer_id", reviewer, "approver_id", approver, "actor_id", in.ActorID)
	return in.ExpectedStamp + 1, nil
}

func approverOpen(st workflow.State) bool {
	switch st {
	case workflow.StateDraft, workflow.StatePendingReview, workflow.StateUnderReview, workflow.StateReviewed:
		return true
	default:
		return false
	}
}

func (s *documentServiceImpl) checkAssignees(ctx context.Context, reviewerID, approverID string) error {
	if reviewerID != "" && !s.assigner.CanBeAssigned(ctx, reviewerID, entity.RoleReviewer) {
		return workflow.GuardFailed(workflow.ReasonAssigneeLacksRole, reviewerID+" is not a reviewer")
	}
	if approverID != "" && !s.assigner.CanBeAssigned(ctx, approverID, entity.RoleApprover) {
		return workflow.GuardFailed(workflow.ReasonAssigneeLacksRole, approverID+" is not an approver")
	}
	return nil
}

// AddDependency records that documentID depends on dependsOnID
func (s *documentServiceImpl) AddDependency(ctx context.Context, actorID, documentID, dependsOnID string) error {
	if documentID == dependsOnID {
		return workflow.GuardFailed(workflow.ReasonInvalidDependency, "a document cannot depend on itself")
	}
	doc, _, err := s.load(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.authorizeDependencies(ctx, actorID, doc); err != nil {
		return err
	}
	target, targetWf, err := s.load(ctx, dependsOnID)
	if err != nil {
		return err
	}
	if workflow.State(targetWf.CurrentState).IsTerminal() {
		return workflow.GuardFailed(workflow.ReasonInvalidDependency,
			fmt.Sprintf("%s is %s", target.Label(), targetWf.CurrentState))
	}
	cyclic, err := s.reaches(ctx, dependsOnID, documentID)
	if err != nil {
		return err
	}
	if cyclic {
		return workflow.GuardFailed(workflow.ReasonInvalidDependency,
			fmt.Sprintf("%s already depends on %s", target.Label(), doc.Label()))
	}

	err = s.deps.Add(ctx, &entity.Dependency{DocumentID: documentID, DependsOnID: dependsOnID, CreatedAt: s.clock.Now()})
	if errors.Is(err, port.ErrDuplicateDependency) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("add dependency %s -> %s: %w", documentID, dependsOnID, err)
	}

	s.logger.Info("Dependency added", "document_id", documentID, "depends_on_id", dependsOnID, "actor_id", actorID)
	return nil
}

// reaches walks DependenciesOf from start and reports whether goal is reachable
func (s *documentServiceImpl) reaches(ctx context.Context, start, goal string) (bool, error) {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == goal {
			return true, nil
		}
		next, err := s.deps.DependenciesOf(ctx, id)
		if err != nil {
			return false, fmt.Errorf("list dependencies of %s: %w", id, err)
		}
		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return false, nil
}

// RemoveDependency deletes a dependency edge
func (s *documentServiceImpl) RemoveDependency(ctx context.Context, actorID, documentID, dependsOnID string) error {
	doc, _, err := s.load(ctx, documentID)
	if err != nil {
		return err
	}
	if err := s.authorizeDependencies(ctx, actorID, doc); err != nil {
		return err
	}
	err = s.deps.Remove(ctx, documentID, dependsOnID)
	if errors.Is(err, port.ErrNotFound) {
		return workflow.NotFound("dependency", documentID+" -> "+dependsOnID, err)
	}
	if err != nil {
		return fmt.Errorf("remove dependency %s -> %s: %w", documentID, dependsOnID, err)
	}

	s.logger.Info("Dependency removed", "document_id", documentID, "depends_on_id", dependsOnID, "actor_id", actorID)
	return nil
}

func (s *documentServiceImpl) authorizeDependencies(ctx context.Context, actorID string, doc *entity.Document) error {
	if doc.AuthorID == actorID || s.assigner.CanBeAssigned(ctx, actorID, entity.RoleAdmin) {
		return nil
	}
	return workflow.AuthorizationDenied(actorID, ActionEditDependencies, doc.ID)
}

// Get returns a document with its workflow
func (s *documentServiceImpl) Get(ctx context.Context, id string) (*entity.Snapshot, error) {
	doc, wf, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &entity.Snapshot{Document: doc, Workflow: wf}, nil
}

// History returns the transition trail of a document, oldest first
func (s *documentServiceImpl) History(ctx context.Context, id string) ([]*entity.TransitionRecord, error) {
	if _, _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	records, err := s.audit.History(ctx, id)
	if err != nil {
		s.logger.Error("Failed to read history", "document_id", id, "error", err)
		return nil, fmt.Errorf("read history of %s: %w", id, err)
	}
	return records, nil
}

func (s *documentServiceImpl) load(ctx context.Context, id string) (*entity.Document, *entity.Workflow, error) {
	doc, wf, err := s.store.Load(ctx, id)
	if errors.Is(err, port.ErrNotFound) {
		return nil, nil, workflow.NotFound("document", id, err)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load document %s: %w", id, err)
	}
	return doc, wf, nil
}

func dateOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return entity.DatePtr(*t)
}
