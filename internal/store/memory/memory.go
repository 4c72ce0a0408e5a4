// Package memory provides an in-memory Store with the same versioned-write
// and atomic-unit semantics as the Postgres backend. It backs the test suite
// and local development without a database.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskhub/escrow/internal/model"
	"github.com/taskhub/escrow/internal/store"
)

type state struct {
	projects     map[uuid.UUID]model.Project
	proposals    map[uuid.UUID]model.Proposal
	contracts    map[uuid.UUID]model.Contract
	milestones   map[uuid.UUID]model.Milestone
	transactions map[uuid.UUID]model.Transaction
	txnByKey     map[string]uuid.UUID
}

func newState() *state {
	return &state{
		projects:     make(map[uuid.UUID]model.Project),
		proposals:    make(map[uuid.UUID]model.Proposal),
		contracts:    make(map[uuid.UUID]model.Contract),
		milestones:   make(map[uuid.UUID]model.Milestone),
		transactions: make(map[uuid.UUID]model.Transaction),
		txnByKey:     make(map[string]uuid.UUID),
	}
}

func (s *state) clone() *state {
	next := newState()
	for k, v := range s.projects {
		next.projects[k] = v
	}
	for k, v := range s.proposals {
		next.proposals[k] = v
	}
	for k, v := range s.contracts {
		next.contracts[k] = v
	}
	for k, v := range s.milestones {
		next.milestones[k] = v
	}
	for k, v := range s.transactions {
		next.transactions[k] = v
	}
	for k, v := range s.txnByKey {
		next.txnByKey[k] = v
	}
	return next
}

type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithClock overrides the timestamp source, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Atomically clones the current state, applies fn against the clone and
// swaps it in only if fn succeeds. A failed fn leaves the store untouched.
func (s *Store) Atomically(ctx context.Context, fn func(q store.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(&queries{state: staged, now: s.now}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// queries operates directly on a state. The root Store delegates single
// operations through a short-lived lock.
type queries struct {
	state *state
	now   func() time.Time
}

func (s *Store) run(fn func(q *queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.state.clone()
	if err := fn(&queries{state: staged, now: s.now}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// --- projects ---

func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	return s.run(func(q *queries) error { return q.CreateProject(ctx, p) })
}

func (s *Store) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{state: s.state, now: s.now}).GetProject(ctx, id)
}

func (s *Store) UpdateProject(ctx context.Context, p *model.Project) error {
	return s.run(func(q *queries) error { return q.UpdateProject(ctx, p) })
}

func (q *queries) CreateProject(_ context.Context, p *model.Project) error {
	if err := store.ValidateProject(p); err != nil {
		return err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, exists := q.state.projects[p.ID]; exists {
		return fmt.Errorf("project %s: %w", p.ID, store.ErrDuplicate)
	}
	q.stampCreate(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	q.state.projects[p.ID] = *p
	return nil
}

func (q *queries) GetProject(_ context.Context, id uuid.UUID) (*model.Project, error) {
	p, ok := q.state.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (q *queries) UpdateProject(_ context.Context, p *model.Project) error {
	if err := store.ValidateProject(p); err != nil {
		return err
	}
	current, ok := q.state.projects[p.ID]
	if !ok {
		return fmt.Errorf("project %s: %w", p.ID, store.ErrNotFound)
	}
	if current.Version != p.Version {
		return fmt.Errorf("project %s: %w", p.ID, store.ErrStaleWrite)
	}
	p.Version++
	p.UpdatedAt = q.now()
	q.state.projects[p.ID] = *p
	return nil
}

// --- proposals ---

func (s *Store) CreateProposal(ctx context.Context, p *model.Proposal) error {
	return s.run(func(q *queries) error { return q.CreateProposal(ctx, p) })
}

func (s *Store) GetProposal(ctx context.Context, id uuid.UUID) (*model.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{state: s.state, now: s.now}).GetProposal(ctx, id)
}

func (s *Store) UpdateProposal(ctx context.Context, p *model.Proposal) error {
	return s.run(func(q *queries) error { return q.UpdateProposal(ctx, p) })
}

func (s *Store) ListProposalsByProject(ctx context.Context, projectID uuid.UUID) ([]model.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{state: s.state, now: s.now}).ListProposalsByProject(ctx, projectID)
}

func (s *Store) GetActiveProposalForBidder(ctx context.Context, projectID, bidderID uuid.UUID) (*model.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{state: s.state, now: s.now}).GetActiveProposalForBidder(ctx, projectID, bidderID)
}

func (q *queries) CreateProposal(_ context.Context, p *model.Proposal) error {
	if err := store.ValidateProposal(p); err != nil {
		return err
	}
	if _, ok := q.state.projects[p.ProjectID]; !ok {
		return fmt.Errorf("proposal project %s: %w", p.ProjectID, store.ErrNotFound)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, exists := q.state.proposals[p.ID]; exists {
		return fmt.Errorf("proposal %s: %w", p.ID, store.ErrDuplicate)
	}
	for _, other := range q.state.proposals {
		if other.ProjectID == p.ProjectID && other.BidderID == p.BidderID && !other.Status.Withdrawn() {
			return fmt.Errorf("proposal for bidder %s on project %s: %w",
				p.BidderID, p.ProjectID, store.ErrDuplicate)
		}
	}
	q.stampCreate(&p.Version, &p.CreatedAt, &p.UpdatedAt)
	q.state.proposals[p.ID] = *p
	return nil
}

func (q *queries) GetProposal(_ context.Context, id uuid.UUID) (*model.Proposal, error) {
	p, ok := q.state.proposals[id]
	if !ok {
		return nil, fmt.Errorf("proposal %s: %w", id, store.ErrNotFound)
	}
	return &p, nil
}

func (q *queries) UpdateProposal(_ context.Context, p *model.Proposal) error {
	if err := store.ValidateProposal(p); err != nil {
		return err
	}
	current, ok := q.state.proposals[p.ID]
	if !ok {
		return fmt.Errorf("proposal %s: %w", p.ID, store.ErrNotFound)
	}
	if current.Version != p.Version {
		return fmt.Errorf("proposal %s: %w", p.ID, store.ErrStaleWrite)
	}
	if p.Status == model.ProposalStatusAccepted && current.Status != model.ProposalStatusAccepted {
		for _, other := range q.state.proposals {
			if other.ProjectID == p.ProjectID && other.ID != p.ID && other.Status == model.ProposalStatusAccepted {
				return fmt.Errorf("project %s already has an accepted proposal: %w",
					p.ProjectID, store.ErrDuplicate)
			}
		}
	}
	p.Version++
	p.UpdatedAt = q.now()
	q.state.proposals[p.ID] = *p
	return nil
}

func (q *queries) ListProposalsByProject(_ context.Context, projectID uuid.UUID) ([]model.Proposal, error) {
	var result []model.Proposal
	for _, p := range q.state.proposals {
		if p.ProjectID == projectID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (q *queries) GetActiveProposalForBidder(_ context.Context, projectID, bidderID uuid.UUID) (*model.Proposal, error) {
	for _, p := range q.state.proposals {
		if p.ProjectID == projectID && p.BidderID == bidderID && !p.Status.Withdrawn() {
			found := p
			return &found, nil
		}
	}
	return nil, fmt.Errorf("proposal for bidder %s on project %s: %w", bidderID, projectID, store.ErrNotFound)
}

// --- contracts ---

func (s *Store) CreateContract(ctx context.Context, c *model.Contract) error {
	return s.run(func(q *queries) error { return q.CreateContract(ctx, c) })
}

func (s *Store) GetContract(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{state: s.state, now: s.now}).GetContract(ctx, id)
}

func (s *Store) UpdateContract(ctx context.Context, c *model.Contract) error {
	return s.run(func(q *queries) error { return q.UpdateContract(ctx, c) })
}

func (s *Store) ListContractsByProject(ctx context.Context, projectID uuid.UUID) ([]model.Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{state: s.state, now: s.now}).ListContractsByProject(ctx, projectID)
}

func (q *queries) CreateContract(_ context.Context, c *model.Contract) error {
	if err := store.ValidateContract(c); err != nil {
		return err
	}
	if _, ok := q.state.projects[c.ProjectID]; !ok {
		return fmt.Errorf("contract project %s: %w", c.ProjectID, store.ErrNotFound)
	}
	if c.OriginatingProposalID != nil {
		if _, ok := q.state.proposals[*c.OriginatingProposalID]; !ok {
			return fmt.Errorf("contract proposal %s: %w", *c.OriginatingProposalID, store.ErrNotFound)
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, exists := q.state.contracts[c.ID]; exists {
		return fmt.Errorf("contract %s: %w", c.ID, store.ErrDuplicate)
	}
	q.stampCreate(&c.Version, &c.CreatedAt, &c.UpdatedAt)
	q.state.contracts[c.ID] = *c
	return nil
}

func (q *queries) GetContract(_ context.Context, id uuid.UUID) (*model.Contract, error) {
	c, ok := q.state.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", id, store.ErrNotFound)
	}
	return &c, nil
}

func (q *queries) UpdateContract(_ context.Context, c *model.Contract) error {
	if err := store.ValidateContract(c); err != nil {
		return err
	}
	current, ok := q.state.contracts[c.ID]
	if !ok {
		return fmt.Errorf("contract %s: %w", c.ID, store.ErrNotFound)
	}
	if current.Version != c.Version {
		return fmt.Errorf("contract %s: %w", c.ID, store.ErrStaleWrite)
	}
	c.Version++
	c.UpdatedAt = q.now()
	q.state.contracts[c.ID] = *c
	return nil
}

func (q *queries) ListContractsByProject(_ context.Context, projectID uuid.UUID) ([]model.Contract, error) {
	var result []model.Contract
	for _, c := range q.state.contracts {
		if c.ProjectID == projectID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// --- milestones ---

func (s *Store) CreateMilestone(ctx context.Context, m *model.Milestone) error {
	return s.run(func(q *queries) error { return q.CreateMilestone(ctx, m) })
}

func (s *Store) GetMilestone(ctx context.Context, id uuid.UUID) (*model.Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{state: s.state, now: s.now}).GetMilestone(ctx, id)
}

func (s *Store) UpdateMilestone(ctx context.Context, m *model.Milestone) error {
	return s.run(func(q *queries) error { return q.UpdateMilestone(ctx, m) })
}

func (s *Store) ListMilestonesByContract(ctx context.Context, contractID uuid.UUID) ([]model.Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{state: s.state, now: s.now}).ListMilestonesByContract(ctx, contractID)
}

func (q *queries) CreateMilestone(_ context.Context, m *model.Milestone) error {
	if err := store.ValidateMilestone(m); err != nil {
		return err
	}
	if _, ok := q.state.contracts[m.ContractID]; !ok {
		return fmt.Errorf("milestone contract %s: %w", m.ContractID, store.ErrNotFound)
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if _, exists := q.state.milestones[m.ID]; exists {
		return fmt.Errorf("milestone %s: %w", m.ID, store.ErrDuplicate)
	}
	q.stampCreate(&m.Version, &m.CreatedAt, &m.UpdatedAt)
	q.state.milestones[m.ID] = *m
	return nil
}

func (q *queries) GetMilestone(_ context.Context, id uuid.UUID) (*model.Milestone, error) {
	m, ok := q.state.milestones[id]
	if !ok {
		return nil, fmt.Errorf("milestone %s: %w", id, store.ErrNotFound)
	}
	return &m, nil
}

func (q *queries) UpdateMilestone(_ context.Context, m *model.Milestone) error {
	if err := store.ValidateMilestone(m); err != nil {
		return err
	}
	current, ok := q.state.milestones[m.ID]
	if !ok {
		return fmt.Errorf("milestone %s: %w", m.ID, store.ErrNotFound)
	}
	if current.Version != m.Version {
		return fmt.Errorf("milestone %s: %w", m.ID, store.ErrStaleWrite)
	}
	m.Version++
	m.UpdatedAt = q.now()
	q.state.milestones[m.ID] = *m
	return nil
}

func (q *queries) ListMilestonesByContract(_ context.Context, contractID uuid.UUID) ([]model.Milestone, error) {
	var result []model.Milestone
	for _, m := range q.state.milestones {
		if m.ContractID == contractID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OrderIndex < result[j].OrderIndex
	})
	return result, nil
}

// --- transactions ---

func (s *Store) CreateTransaction(ctx context.Context, t *model.Transaction) error {
	return s.run(func(q *queries) error { return q.CreateTransaction(ctx, t) })
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{state: s.state, now: s.now}).GetTransaction(ctx, id)
}

func (s *Store) UpdateTransaction(ctx context.Context, t *model.Transaction) error {
	return s.run(func(q *queries) error { return q.UpdateTransaction(ctx, t) })
}

func (s *Store) GetTransactionByKey(ctx context.Context, key string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{state: s.state, now: s.now}).GetTransactionByKey(ctx, key)
}

func (s *Store) ListTransactionsByContract(ctx context.Context, contractID uuid.UUID) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&queries{state: s.state, now: s.now}).ListTransactionsByContract(ctx, contractID)
}

func (q *queries) CreateTransaction(_ context.Context, t *model.Transaction) error {
	if err := store.ValidateTransaction(t); err != nil {
		return err
	}
	if t.ContractID != nil {
		if _, ok := q.state.contracts[*t.ContractID]; !ok {
			return fmt.Errorf("transaction contract %s: %w", *t.ContractID, store.ErrNotFound)
		}
	}
	if t.MilestoneID != nil {
		if _, ok := q.state.milestones[*t.MilestoneID]; !ok {
			return fmt.Errorf("transaction milestone %s: %w", *t.MilestoneID, store.ErrNotFound)
		}
	}
	if t.IdempotencyKey != "" {
		if _, exists := q.state.txnByKey[t.IdempotencyKey]; exists {
			return fmt.Errorf("idempotency key %s: %w", t.IdempotencyKey, store.ErrDuplicate)
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if _, exists := q.state.transactions[t.ID]; exists {
		return fmt.Errorf("transaction %s: %w", t.ID, store.ErrDuplicate)
	}
	if t.InitiatedAt.IsZero() {
		t.InitiatedAt = q.now()
	}
	q.stampCreate(&t.Version, &t.CreatedAt, &t.UpdatedAt)
	q.state.transactions[t.ID] = *t
	if t.IdempotencyKey != "" {
		q.state.txnByKey[t.IdempotencyKey] = t.ID
	}
	return nil
}

func (q *queries) GetTransaction(_ context.Context, id uuid.UUID) (*model.Transaction, error) {
	t, ok := q.state.transactions[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	return &t, nil
}

func (q *queries) UpdateTransaction(_ context.Context, t *model.Transaction) error {
	if err := store.ValidateTransaction(t); err != nil {
		return err
	}
	current, ok := q.state.transactions[t.ID]
	if !ok {
		return fmt.Errorf("transaction %s: %w", t.ID, store.ErrNotFound)
	}
	if current.Version != t.Version {
		return fmt.Errorf("transaction %s: %w", t.ID, store.ErrStaleWrite)
	}
	t.Version++
	t.UpdatedAt = q.now()
	q.state.transactions[t.ID] = *t
	return nil
}

func (q *queries) GetTransactionByKey(_ context.Context, key string) (*model.Transaction, error) {
	id, ok := q.state.txnByKey[key]
	if !ok {
		return nil, fmt.Errorf("idempotency key %s: %w", key, store.ErrNotFound)
	}
	t := q.state.transactions[id]
	return &t, nil
}

func (q *queries) ListTransactionsByContract(_ context.Context, contractID uuid.UUID) ([]model.Transaction, error) {
	var result []model.Transaction
	for _, t := range q.state.transactions {
		if t.ContractID != nil && *t.ContractID == contractID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].InitiatedAt.Before(result[j].InitiatedAt)
	})
	return result, nil
}

func (q *queries) stampCreate(version *int64, createdAt, updatedAt *time.Time) {
	if *version == 0 {
		*version = 1
	}
	now := q.now()
	if createdAt.IsZero() {
		*createdAt = now
	}
	*updatedAt = now
}
