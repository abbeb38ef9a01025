package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jinkaiteo/edms/internal/application/dispatcher"
	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/event"
	domainwf "github.com/jinkaiteo/edms/internal/domain/workflow"
)

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	store      port.DocumentStore
	audit      port.AuditRecorder
	txManager  port.TransactionManager
	gate       Authorizer
	table      domainwf.Table
	publisher  dispatcher.Publisher
	rejections port.RejectionRecorder
	clock      port.Clock
	location   *time.Location
	logger     *zap.Logger
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithPublisher sets the event publisher notified after commit
func WithPublisher(p dispatcher.Publisher) EngineOption {
	return func(e *engineImpl) {
		e.publisher = p
	}
}

// WithRejectionRecorder enables storing refused attempts
func WithRejectionRecorder(r port.RejectionRecorder) EngineOption {
	return func(e *engineImpl) {
		e.rejections = r
	}
}

// WithClock overrides the wall clock
func WithClock(c port.Clock) EngineOption {
	return func(e *engineImpl) {
		e.clock = c
	}
}

// WithLocation sets the timezone "today" is computed in
func WithLocation(loc *time.Location) EngineOption {
	return func(e *engineImpl) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	store port.DocumentStore,
	audit port.AuditRecorder,
	txManager port.TransactionManager,
	gate Authorizer,
	table domainwf.Table,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		store:     store,
		audit:     audit,
		txManager: txManager,
		gate:      gate,
		table:     table,
		clock:     port.SystemClock,
		location:  time.UTC,
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// RequestTransition validates, authorizes, guards and applies a transition atomically
func (e *engineImpl) RequestTransition(ctx context.Context, req Request) (*Result, error) {
	doc, wf, err := e.store.Load(ctx, req.DocumentID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, domainwf.NotFound("document", req.DocumentID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", req.DocumentID, err)
	}

	result, err := e.apply(ctx, req, doc, wf)
	if err != nil {
		e.recordRejection(ctx, req, wf, err)
		return nil, err
	}
	return result, nil
}

func (e *engineImpl) apply(ctx context.Context, req Request, doc *entity.Document, wf *entity.Workflow) (*Result, error) {
	from := domainwf.State(wf.CurrentState)

	if wf.VersionStamp != req.ExpectedStamp {
		return nil, domainwf.ConcurrentModification(doc.ID, req.ExpectedStamp)
	}

	now := e.clock.Now()
	t := &domainwf.Transition{
		Document:      doc,
		Workflow:      wf,
		ActorID:       req.ActorID,
		Comment:       req.Comment,
		EffectiveDate: req.EffectiveDate,
		ObsoleteDate:  req.ObsoleteDate,
		Today:         e.today(req, now),
	}

	edge := e.table.Resolve(t, req.Target)
	if edge == nil {
		return nil, domainwf.InvalidTransition(doc.ID, from, req.Target)
	}
	t.Edge = edge

	if !e.gate.Can(ctx, req.ActorID, edge.Action, doc) {
		return nil, domainwf.AuthorizationDenied(req.ActorID, edge.Action, doc.ID)
	}

	// Guards run inside the transaction: the family and dependents they read
	// cannot change before the stamp check commits.
	var plan *domainwf.Plan
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, guard := range edge.Guards {
			if err := guard(txCtx, t); err != nil {
				return err
			}
		}

		plan = domainwf.NewPlan(t, now)
		for _, effect := range edge.Effects {
			if err := effect(txCtx, t, plan); err != nil {
				return err
			}
		}
		return e.persist(txCtx, t, plan, req)
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		DocumentID:   doc.ID,
		FromState:    from,
		State:        edge.To,
		Action:       edge.Action,
		VersionStamp: wf.VersionStamp + 1,
	}
	for _, c := range plan.Cascades {
		result.Superseded = append(result.Superseded, c.Snapshot.Document.ID)
	}

	e.logger.Info("Document transitioned",
		zap.String("document_id", doc.ID),
		zap.String("document", doc.Label()),
		zap.String("from", string(from)),
		zap.String("to", string(edge.To)),
		zap.String("action", string(edge.Action)),
		zap.String("actor_id", req.ActorID),
		zap.Int64("version_stamp", result.VersionStamp),
		zap.Strings("superseded", result.Superseded),
	)

	e.publish(ctx, t, plan, result)
	return result, nil
}

// persist writes the main state change, cascades and audit records. Runs
// inside the caller's transaction; any error rolls everything back.
func (e *engineImpl) persist(ctx context.Context, t *domainwf.Transition, plan *domainwf.Plan, req Request) error {
	doc, wf := t.Document, t.Workflow

	ok, err := e.store.CompareAndSwap(ctx, doc.ID, req.ExpectedStamp, plan.Change)
	if err != nil {
		return fmt.Errorf("persist transition of %s: %w", doc.ID, err)
	}
	if !ok {
		return domainwf.ConcurrentModification(doc.ID, req.ExpectedStamp)
	}

	for _, c := range plan.Cascades {
		sibling := c.Snapshot
		ok, err := e.store.CompareAndSwap(ctx, sibling.Document.ID, sibling.Workflow.VersionStamp, c.Change)
		if err != nil {
			return fmt.Errorf("persist cascade on %s: %w", sibling.Document.ID, err)
		}
		if !ok {
			return domainwf.ConcurrentModification(sibling.Document.ID, sibling.Workflow.VersionStamp)
		}
	}

	payload := plan.Payload
	payload[entity.PayloadVersion] = doc.Version()
	record := &entity.TransitionRecord{
		WorkflowID: wf.ID,
		DocumentID: doc.ID,
		FromState:  wf.CurrentState,
		ToState:    plan.Change.ToState,
		Action:     string(t.Edge.Action),
		ActorID:    req.ActorID,
		Timestamp:  plan.Change.ChangedAt,
		Comment:    req.Comment,
		Payload:    payload,
	}
	if err := e.audit.Record(ctx, record); err != nil {
		return fmt.Errorf("record audit for %s: %w", doc.ID, err)
	}

	for _, c := range plan.Cascades {
		sibling := c.Snapshot
		cascadeRecord := &entity.TransitionRecord{
			WorkflowID: sibling.Workflow.ID,
			DocumentID: sibling.Document.ID,
			FromState:  sibling.Workflow.CurrentState,
			ToState:    c.Change.ToState,
			Action:     string(c.Action),
			ActorID:    req.ActorID,
			Timestamp:  c.Change.ChangedAt,
			Comment:    fmt.Sprintf("superseded by %s", doc.Label()),
			Payload:    c.Payload,
		}
		if err := e.audit.Record(ctx, cascadeRecord); err != nil {
			return fmt.Errorf("record audit for %s: %w", sibling.Document.ID, err)
		}
	}
	return nil
}

// AvailableTransitions lists the edges actorID is authorized to request on a document
func (e *engineImpl) AvailableTransitions(ctx context.Context, documentID, actorID string) ([]AvailableTransition, error) {
	doc, wf, err := e.store.Load(ctx, documentID)
	if errors.Is(err, port.ErrNotFound) {
		return nil, domainwf.NotFound("document", documentID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}

	var out []AvailableTransition
	for _, edge := range e.table.Outgoing(domainwf.State(wf.CurrentState)) {
		if e.gate.Can(ctx, actorID, edge.Action, doc) {
			out = append(out, AvailableTransition{Target: edge.To, Action: edge.Action})
		}
	}
	return out, nil
}

func (e *engineImpl) today(req Request, now time.Time) time.Time {
	if req.AsOf != nil && req.ActorID == entity.SystemActorID {
		return entity.DateOf(*req.AsOf)
	}
	return entity.DateOf(now.In(e.location))
}

func (e *engineImpl) publish(ctx context.Context, t *domainwf.Transition, plan *domainwf.Plan, result *Result) {
	if e.publisher == nil {
		return
	}

	transitioned := event.NewEvent(event.TypeDocumentTransitioned, result.DocumentID, map[string]interface{}{
		event.KeyNumber:    t.Document.Number,
		event.KeyVersion:   t.Document.Version(),
		event.KeyFromState: string(result.FromState),
		event.KeyToState:   string(result.State),
		event.KeyAction:    string(result.Action),
		event.KeyActorID:   t.ActorID,
		event.KeyAssignee:  plan.Change.Assignee,
		event.KeyStamp:     result.VersionStamp,
	})
	e.publisher.DispatchAsync(ctx, transitioned)

	for _, c := range plan.Cascades {
		superseded := event.NewEventWithCorrelation(event.TypeDocumentSuperseded, c.Snapshot.Document.ID, map[string]interface{}{
			event.KeyNumber:            c.Snapshot.Document.Number,
			event.KeyVersion:           c.Snapshot.Document.Version(),
			event.KeyFromState:         c.Snapshot.Workflow.CurrentState,
			event.KeyToState:           c.Change.ToState,
			event.KeyActorID:           t.ActorID,
			entity.PayloadSupersededBy: result.DocumentID,
		}, transitioned.CorrelationID)
		e.publisher.DispatchAsync(ctx, superseded)
	}
}

// recordRejection stores a refused attempt when the policy is enabled. Best
// effort: a failure here never changes the caller's error.
func (e *engineImpl) recordRejection(ctx context.Context, req Request, wf *entity.Workflow, cause error) {
	if e.rejections == nil || domainwf.ErrorCode(cause) == "" || domainwf.IsNotFound(cause) {
		return
	}

	attempt := &entity.RejectedAttempt{
		DocumentID:  req.DocumentID,
		FromState:   wf.CurrentState,
		TargetState: string(req.Target),
		ActorID:     req.ActorID,
		ErrorCode:   domainwf.ErrorCode(cause),
		Reason:      domainwf.GuardReason(cause),
		Comment:     req.Comment,
		Timestamp:   e.clock.Now(),
	}
	if err := e.rejections.RecordRejection(ctx, attempt); err != nil {
		e.logger.Warn("Failed to record rejected transition",
			zap.String("document_id", req.DocumentID),
			zap.String("error_code", attempt.ErrorCode),
			zap.Error(err))
	}
}
