// Package memory provides a thread-safe in-memory implementation of the
// persistence ports. A transaction works on a copy of the whole store and
// publishes it on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jinkaiteo/edms/internal/application/port"
	"github.com/jinkaiteo/edms/internal/domain/entity"
	"github.com/jinkaiteo/edms/internal/domain/workflow"
)

type txKey struct{}

type dependencyKey struct {
	documentID  string
	dependsOnID string
}

type state struct {
	documents    map[string]*entity.Document
	workflows    map[string]*entity.Workflow
	records      []*entity.TransitionRecord
	rejections   []*entity.RejectedAttempt
	dependencies map[dependencyKey]*entity.Dependency
	roles        map[string]map[string]time.Time
	nextRecordID int64
}

// Store is an in-memory document, audit, dependency and role store
type Store struct {
	// writeMu serialises writers; a transaction holds it for its whole duration
	writeMu sync.Mutex
	mu      sync.RWMutex
	data    *state
}

// NewStore constructs an empty store
func NewStore() *Store {
	return &Store{data: newState()}
}

func newState() *state {
	return &state{
		documents:    make(map[string]*entity.Document),
		workflows:    make(map[string]*entity.Workflow),
		dependencies: make(map[dependencyKey]*entity.Dependency),
		roles:        make(map[string]map[string]time.Time),
		nextRecordID: 1,
	}
}

// WithTransaction runs fn atomically. fn reads and writes a private copy of
// the store that replaces the committed data only when fn succeeds, so
// readers outside the transaction never observe its writes.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txState(ctx) != nil {
		return fn(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	working := s.data.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, working)); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = working
	s.mu.Unlock()
	return nil
}

func txState(ctx context.Context) *state {
	d, _ := ctx.Value(txKey{}).(*state)
	return d
}

// write runs fn against the transaction's copy, or against the committed
// data under the write lock outside a transaction
func (s *Store) write(ctx context.Context, fn func(d *state) error) error {
	if d := txState(ctx); d != nil {
		return fn(d)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (s *Store) read(ctx context.Context, fn func(d *state)) {
	if d := txState(ctx); d != nil {
		fn(d)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

// Create inserts a document and its workflow
func (s *Store) Create(ctx context.Context, doc *entity.Document, wf *entity.Workflow) error {
	return s.write(ctx, func(d *state) error {
		if _, exists := d.documents[doc.ID]; exists {
			return fmt.Errorf("document %s already exists", doc.ID)
		}
		for _, existing := range d.documents {
			if existing.Number == doc.Number &&
				existing.MajorVersion == doc.MajorVersion &&
				existing.MinorVersion == doc.MinorVersion {
				return fmt.Errorf("create %s: %w", doc.Label(), port.ErrDuplicateVersion)
			}
		}
		d.documents[doc.ID] = cloneDocument(doc)
		d.workflows[doc.ID] = cloneWorkflow(wf)
		return nil
	})
}

// Load returns copies of the document and its workflow
func (s *Store) Load(ctx context.Context, id string) (*entity.Document, *entity.Workflow, error) {
	var (
		doc *entity.Document
		wf  *entity.Workflow
	)
	s.read(ctx, func(d *state) {
		if stored, ok := d.documents[id]; ok {
			doc = cloneDocument(stored)
			wf = cloneWorkflow(d.workflows[id])
		}
	})
	if doc == nil {
		return nil, nil, fmt.Errorf("document %s: %w", id, port.ErrNotFound)
	}
	return doc, wf, nil
}

// CompareAndSwap applies change when the stored stamp matches
func (s *Store) CompareAndSwap(ctx context.Context, id string, expectedStamp int64, change entity.StateChange) (bool, error) {
	swapped := false
	err := s.write(ctx, func(d *state) error {
		doc, ok := d.documents[id]
		if !ok {
			return fmt.Errorf("document %s: %w", id, port.ErrNotFound)
		}
		wf := d.workflows[id]
		if wf.VersionStamp != expectedStamp {
			return nil
		}

		if wf.CurrentState != change.ToState {
			wf.StateEnteredAt = change.ChangedAt
		}
		wf.CurrentState = change.ToState
		wf.CurrentAssignee = change.Assignee
		wf.VersionStamp++
		wf.UpdatedAt = change.ChangedAt

		doc.Status = change.ToState
		if change.EffectiveDate != nil {
			doc.EffectiveDate = copyTime(change.EffectiveDate)
		}
		if change.ObsoleteDate != nil {
			doc.ObsoleteDate = copyTime(change.ObsoleteDate)
		}
		if change.ApprovalDate != nil {
			doc.ApprovalDate = copyTime(change.ApprovalDate)
		}
		doc.UpdatedAt = change.ChangedAt
		swapped = true
		return nil
	})
	return swapped, err
}

// UpdateAssignments sets reviewer and approver under the stamp check
func (s *Store) UpdateAssignments(ctx context.Context, id string, expectedStamp int64, reviewerID, approverID string, now time.Time) (bool, error) {
	swapped := false
	err := s.write(ctx, func(d *state) error {
		doc, ok := d.documents[id]
		if !ok {
			return fmt.Errorf("document %s: %w", id, port.ErrNotFound)
		}
		wf := d.workflows[id]
		if wf.VersionStamp != expectedStamp {
			return nil
		}
		doc.ReviewerID = reviewerID
		doc.ApproverID = approverID
		doc.UpdatedAt = now
		wf.VersionStamp++
		wf.UpdatedAt = now
		swapped = true
		return nil
	})
	return swapped, err
}

// ListFamily returns every version of a document number, oldest first
func (s *Store) ListFamily(ctx context.Context, number string) ([]*entity.Snapshot, error) {
	return s.collect(ctx, func(doc *entity.Document, _ *entity.Workflow) bool {
		return doc.Number == number
	}), nil
}

// ListDue returns documents in state whose governing date is on or before asOf
func (s *Store) ListDue(ctx context.Context, st string, asOf time.Time) ([]*entity.Snapshot, error) {
	cutoff := entity.DateOf(asOf)
	return s.collect(ctx, func(doc *entity.Document, wf *entity.Workflow) bool {
		if wf.CurrentState != st {
			return false
		}
		due := governingDate(doc, st)
		return due != nil && !entity.DateOf(*due).After(cutoff)
	}), nil
}

// ListEnteredBefore returns documents in state that entered it before cutoff
func (s *Store) ListEnteredBefore(ctx context.Context, st string, cutoff time.Time) ([]*entity.Snapshot, error) {
	return s.collect(ctx, func(_ *entity.Document, wf *entity.Workflow) bool {
		return wf.CurrentState == st && wf.StateEnteredAt.Before(cutoff)
	}), nil
}

// MaxFamilySequence returns the highest DOC-<year>-<seq> sequence used
func (s *Store) MaxFamilySequence(ctx context.Context, year int) (int, error) {
	prefix := fmt.Sprintf("%s-%d-", entity.DocumentNumberPrefix, year)
	max := 0
	s.read(ctx, func(d *state) {
		for _, doc := range d.documents {
			var seq int
			if _, err := fmt.Sscanf(doc.Number, prefix+"%d", &seq); err == nil && seq > max {
				max = seq
			}
		}
	})
	return max, nil
}

func governingDate(doc *entity.Document, st string) *time.Time {
	switch st {
	case string(workflow.StateApprovedPendingEffective):
		return doc.EffectiveDate
	case string(workflow.StateScheduledForObsolescence):
		return doc.ObsoleteDate
	default:
		return nil
	}
}

func (s *Store) collect(ctx context.Context, match func(*entity.Document, *entity.Workflow) bool) []*entity.Snapshot {
	var out []*entity.Snapshot
	s.read(ctx, func(d *state) {
		for id, doc := range d.documents {
			wf := d.workflows[id]
			if match(doc, wf) {
				out = append(out, &entity.Snapshot{Document: cloneDocument(doc), Workflow: cloneWorkflow(wf)})
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Document, out[j].Document
		if a.Number != b.Number {
			return a.Number < b.Number
		}
		return b.NewerThan(a)
	})
	return out
}

// Record appends a transition record
func (s *Store) Record(ctx context.Context, record *entity.TransitionRecord) error {
	return s.write(ctx, func(d *state) error {
		if _, ok := d.documents[record.DocumentID]; !ok {
			return fmt.Errorf("audit record for document %s: %w", record.DocumentID, port.ErrNotFound)
		}
		record.ID = d.nextRecordID
		d.nextRecordID++
		stored := *record
		stored.Payload = copyPayload(record.Payload)
		d.records = append(d.records, &stored)
		return nil
	})
}

// History returns the transition trail of a document in insertion order
func (s *Store) History(ctx context.Context, documentID string) ([]*entity.TransitionRecord, error) {
	var out []*entity.TransitionRecord
	s.read(ctx, func(d *state) {
		for _, r := range d.records {
			if r.DocumentID == documentID {
				c := *r
				c.Payload = copyPayload(r.Payload)
				out = append(out, &c)
			}
		}
	})
	return out, nil
}

// RecordRejection stores a refused attempt
func (s *Store) RecordRejection(ctx context.Context, attempt *entity.RejectedAttempt) error {
	return s.write(ctx, func(d *state) error {
		attempt.ID = int64(len(d.rejections) + 1)
		c := *attempt
		d.rejections = append(d.rejections, &c)
		return nil
	})
}

// Rejections returns the refused attempts recorded for a document
func (s *Store) Rejections(ctx context.Context, documentID string) ([]*entity.RejectedAttempt, error) {
	var out []*entity.RejectedAttempt
	s.read(ctx, func(d *state) {
		for _, r := range d.rejections {
			if r.DocumentID == documentID {
				c := *r
				out = append(out, &c)
			}
		}
	})
	return out, nil
}

// Add stores a dependency edge
func (s *Store) Add(ctx context.Context, dep *entity.Dependency) error {
	return s.write(ctx, func(d *state) error {
		key := dependencyKey{dep.DocumentID, dep.DependsOnID}
		if _, exists := d.dependencies[key]; exists {
			return port.ErrDuplicateDependency
		}
		c := *dep
		d.dependencies[key] = &c
		return nil
	})
}

// Remove deletes a dependency edge
func (s *Store) Remove(ctx context.Context, documentID, dependsOnID string) error {
	return s.write(ctx, func(d *state) error {
		key := dependencyKey{documentID, dependsOnID}
		if _, exists := d.dependencies[key]; !exists {
			return fmt.Errorf("dependency %s -> %s: %w", documentID, dependsOnID, port.ErrNotFound)
		}
		delete(d.dependencies, key)
		return nil
	})
}

// DependentsOf returns ids of documents that depend on documentID
func (s *Store) DependentsOf(ctx context.Context, documentID string) ([]string, error) {
	var out []string
	s.read(ctx, func(d *state) {
		for key := range d.dependencies {
			if key.dependsOnID == documentID {
				out = append(out, key.documentID)
			}
		}
	})
	sort.Strings(out)
	return out, nil
}

// DependenciesOf returns ids of documents that documentID depends on
func (s *Store) DependenciesOf(ctx context.Context, documentID string) ([]string, error) {
	var out []string
	s.read(ctx, func(d *state) {
		for key := range d.dependencies {
			if key.documentID == documentID {
				out = append(out, key.dependsOnID)
			}
		}
	})
	sort.Strings(out)
	return out, nil
}

// RolesOf returns the global roles granted to an actor
func (s *Store) RolesOf(ctx context.Context, actorID string) ([]string, error) {
	var out []string
	s.read(ctx, func(d *state) {
		for role := range d.roles[actorID] {
			out = append(out, role)
		}
	})
	sort.Strings(out)
	return out, nil
}

// Grant assigns a role to an actor; granting twice is a no-op
func (s *Store) Grant(ctx context.Context, a *entity.RoleAssignment) error {
	return s.write(ctx, func(d *state) error {
		roles, ok := d.roles[a.ActorID]
		if !ok {
			roles = make(map[string]time.Time)
			d.roles[a.ActorID] = roles
		}
		if _, exists := roles[a.Role]; !exists {
			roles[a.Role] = a.GrantedAt
		}
		return nil
	})
}

// Revoke removes a role from an actor
func (s *Store) Revoke(ctx context.Context, actorID, role string) error {
	return s.write(ctx, func(d *state) error {
		delete(d.roles[actorID], role)
		return nil
	})
}

// List returns every role assignment ordered by actor then role
func (s *Store) List(ctx context.Context) ([]*entity.RoleAssignment, error) {
	var out []*entity.RoleAssignment
	s.read(ctx, func(d *state) {
		for actor, roles := range d.roles {
			for role, at := range roles {
				out = append(out, &entity.RoleAssignment{ActorID: actor, Role: role, GrantedAt: at})
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActorID != out[j].ActorID {
			return out[i].ActorID < out[j].ActorID
		}
		return out[i].Role < out[j].Role
	})
	return out, nil
}

func (d *state) clone() *state {
	c := newState()
	for id, doc := range d.documents {
		c.documents[id] = cloneDocument(doc)
	}
	for id, wf := range d.workflows {
		c.workflows[id] = cloneWorkflow(wf)
	}
	c.records = append(c.records, d.records...)
	c.rejections = append(c.rejections, d.rejections...)
	for k, v := range d.dependencies {
		c.dependencies[k] = v
	}
	for actor, roles := range d.roles {
		copied := make(map[string]time.Time, len(roles))
		for r, at := range roles {
			copied[r] = at
		}
		c.roles[actor] = copied
	}
	c.nextRecordID = d.nextRecordID
	return c
}

func cloneDocument(doc *entity.Document) *entity.Document {
	c := *doc
	c.EffectiveDate = copyTime(doc.EffectiveDate)
	c.ObsoleteDate = copyTime(doc.ObsoleteDate)
	c.ApprovalDate = copyTime(doc.ApprovalDate)
	return &c
}

func cloneWorkflow(wf *entity.Workflow) *entity.Workflow {
	c := *wf
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyPayload(p map[string]interface{}) map[string]interface{} {
	if p == nil {
		return nil
	}
	c := make(map[string]interface{}, len(p))
	for k, v := range p {
		c[k] = v
	}
	return c
}

var (
	_ port.DocumentStore        = (*Store)(nil)
	_ port.AuditRepository      = (*Store)(nil)
	_ port.DependencyRepository = (*Store)(nil)
	_ port.RoleRepository       = (*Store)(nil)
	_ port.TransactionManager   = (*Store)(nil)
)
