package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-dunning"
)

// InMemoryStore is a thread-safe store for tests and embedded use.
// Transactions are serialized: one holds the store lock until it returns,
// buffers the rows it writes and applies them only on success, so a
// failing transaction leaves no partial writes. Writes copy only the rows
// they touch; list reads inside a transaction scan the whole table.
type InMemoryStore struct {
	mu    sync.RWMutex
	state *memoryState
}

// rowKey scopes ids to a tenant.
type rowKey struct {
	tenantID string
	id       string
}

func keyOf(tenantID, id string) rowKey {
	return rowKey{tenantID: tenantID, id: strings.TrimSpace(id)}
}

type memoryState struct {
	campaigns  map[rowKey]*dunning.Campaign
	executions map[rowKey]*dunning.Execution
	actionLog  []dunning.ActionLogEntry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{state: newMemoryState()}
}

func newMemoryState() *memoryState {
	return &memoryState{
		campaigns:  make(map[rowKey]*dunning.Campaign),
		executions: make(map[rowKey]*dunning.Execution),
	}
}

var errMemoryNotConfigured = errors.New("in-memory store not configured")

func (s *InMemoryStore) GetCampaign(_ context.Context, tenantID, campaignID string) (*dunning.Campaign, error) {
	if s == nil {
		return nil, errMemoryNotConfigured
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findCampaign(s.state.campaigns, tenantID, campaignID)
}

func (s *InMemoryStore) ListCampaigns(_ context.Context, filter CampaignFilter) ([]*dunning.Campaign, error) {
	if s == nil {
		return nil, errMemoryNotConfigured
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterCampaigns(s.state.campaigns, nil, filter), nil
}

func (s *InMemoryStore) GetExecution(_ context.Context, tenantID, executionID string) (*dunning.Execution, error) {
	if s == nil {
		return nil, errMemoryNotConfigured
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findExecution(s.state.executions, tenantID, executionID)
}

func (s *InMemoryStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*dunning.Execution, error) {
	if s == nil {
		return nil, errMemoryNotConfigured
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterExecutions(s.state.executions, nil, filter), nil
}

func (s *InMemoryStore) ListActionLog(_ context.Context, filter ActionLogFilter) ([]dunning.ActionLogEntry, error) {
	if s == nil {
		return nil, errMemoryNotConfigured
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterActionLog(filter, s.state.actionLog), nil
}

func (s *InMemoryStore) DueExecutions(_ context.Context, now time.Time, limit int) ([]*dunning.Execution, error) {
	if s == nil {
		return nil, errMemoryNotConfigured
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*dunning.Execution
	for _, e := range s.state.executions {
		if e.Due(now) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].NextActionAt, out[j].NextActionAt
		if !a.Equal(*b) {
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RunInTransaction applies fn atomically with rollback on error.
func (s *InMemoryStore) RunInTransaction(ctx context.Context, fn func(Tx) error) error {
	if s == nil {
		return errMemoryNotConfigured
	}
	if fn == nil {
		return nil
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &inMemoryTx{
		base:       s.state,
		campaigns:  make(map[rowKey]*dunning.Campaign),
		executions: make(map[rowKey]*dunning.Execution),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// inMemoryTx reads through to base and keeps its own copies of written
// rows. base is never modified before commit.
type inMemoryTx struct {
	base       *memoryState
	campaigns  map[rowKey]*dunning.Campaign
	executions map[rowKey]*dunning.Execution
	actionLog  []dunning.ActionLogEntry
}

func (tx *inMemoryTx) commit() {
	for k, c := range tx.campaigns {
		tx.base.campaigns[k] = c
	}
	for k, e := range tx.executions {
		tx.base.executions[k] = e
	}
	tx.base.actionLog = append(tx.base.actionLog, tx.actionLog...)
}

func (tx *inMemoryTx) campaign(key rowKey) (*dunning.Campaign, bool) {
	if c, ok := tx.campaigns[key]; ok {
		return c, true
	}
	c, ok := tx.base.campaigns[key]
	return c, ok
}

// writableCampaign returns the transaction's own copy of a row.
func (tx *inMemoryTx) writableCampaign(key rowKey) (*dunning.Campaign, bool) {
	if c, ok := tx.campaigns[key]; ok {
		return c, true
	}
	c, ok := tx.base.campaigns[key]
	if !ok {
		return nil, false
	}
	cp := c.Clone()
	tx.campaigns[key] = cp
	return cp, true
}

func (tx *inMemoryTx) execution(key rowKey) (*dunning.Execution, bool) {
	if e, ok := tx.executions[key]; ok {
		return e, true
	}
	e, ok := tx.base.executions[key]
	return e, ok
}

func (tx *inMemoryTx) GetCampaign(_ context.Context, tenantID, campaignID string) (*dunning.Campaign, error) {
	if c, ok := tx.campaign(keyOf(tenantID, campaignID)); ok {
		return c.Clone(), nil
	}
	return nil, notFound("campaign", tenantID, campaignID)
}

func (tx *inMemoryTx) ListCampaigns(_ context.Context, filter CampaignFilter) ([]*dunning.Campaign, error) {
	return filterCampaigns(tx.base.campaigns, tx.campaigns, filter), nil
}

func (tx *inMemoryTx) GetExecution(_ context.Context, tenantID, executionID string) (*dunning.Execution, error) {
	if e, ok := tx.execution(keyOf(tenantID, executionID)); ok {
		return e.Clone(), nil
	}
	return nil, notFound("execution", tenantID, executionID)
}

func (tx *inMemoryTx) ListExecutions(_ context.Context, filter ExecutionFilter) ([]*dunning.Execution, error) {
	return filterExecutions(tx.base.executions, tx.executions, filter), nil
}

func (tx *inMemoryTx) ListActionLog(_ context.Context, filter ActionLogFilter) ([]dunning.ActionLogEntry, error) {
	return filterActionLog(filter, tx.base.actionLog, tx.actionLog), nil
}

// The store mutex is held for the whole transaction, so locking reads are
// plain reads here.
func (tx *inMemoryTx) LockCampaign(ctx context.Context, tenantID, campaignID string) (*dunning.Campaign, error) {
	return tx.GetCampaign(ctx, tenantID, campaignID)
}

func (tx *inMemoryTx) LockExecution(ctx context.Context, tenantID, executionID string) (*dunning.Execution, error) {
	return tx.GetExecution(ctx, tenantID, executionID)
}

func (tx *inMemoryTx) InsertCampaign(_ context.Context, c *dunning.Campaign) error {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return errors.New("campaign id required")
	}
	key := keyOf(c.TenantID, c.ID)
	if _, exists := tx.campaign(key); exists {
		return dunning.NewError(dunning.ErrConcurrencyConflict, "campaign already exists", nil,
			map[string]any{"tenant_id": c.TenantID, "id": c.ID})
	}
	cp := c.Clone()
	if cp.Version == 0 {
		cp.Version = 1
	}
	tx.campaigns[key] = cp
	return nil
}

func (tx *inMemoryTx) UpdateCampaign(_ context.Context, c *dunning.Campaign, expectedVersion int) (int, error) {
	if c == nil {
		return 0, errors.New("campaign required")
	}
	key := keyOf(c.TenantID, c.ID)
	current, ok := tx.campaign(key)
	if !ok {
		return 0, notFound("campaign", c.TenantID, c.ID)
	}
	if current.Version != expectedVersion {
		return 0, versionConflict("campaign", c.ID, expectedVersion, current.Version)
	}
	next := c.Clone()
	next.TotalExecutions = current.TotalExecutions
	next.SuccessfulExecutions = current.SuccessfulExecutions
	next.TotalRecoveredAmount = current.TotalRecoveredAmount
	next.CreatedAt = current.CreatedAt
	next.Version = expectedVersion + 1
	tx.campaigns[key] = next
	return next.Version, nil
}

func (tx *inMemoryTx) IncrementCampaignCounters(_ context.Context, tenantID, campaignID string, delta CounterDelta) error {
	c, ok := tx.writableCampaign(keyOf(tenantID, campaignID))
	if !ok {
		return notFound("campaign", tenantID, campaignID)
	}
	c.TotalExecutions += delta.TotalExecutions
	c.SuccessfulExecutions += delta.SuccessfulExecutions
	c.TotalRecoveredAmount += delta.TotalRecoveredAmount
	return nil
}

func (tx *inMemoryTx) SetCampaignCounters(_ context.Context, tenantID, campaignID string, counters CounterDelta) error {
	c, ok := tx.writableCampaign(keyOf(tenantID, campaignID))
	if !ok {
		return notFound("campaign", tenantID, campaignID)
	}
	c.TotalExecutions = counters.TotalExecutions
	c.SuccessfulExecutions = counters.SuccessfulExecutions
	c.TotalRecoveredAmount = counters.TotalRecoveredAmount
	return nil
}

func (tx *inMemoryTx) InsertExecution(_ context.Context, e *dunning.Execution) error {
	if e == nil || strings.TrimSpace(e.ID) == "" {
		return errors.New("execution id required")
	}
	key := keyOf(e.TenantID, e.ID)
	if _, exists := tx.execution(key); exists {
		return dunning.NewError(dunning.ErrConcurrencyConflict, "execution already exists", nil,
			map[string]any{"tenant_id": e.TenantID, "id": e.ID})
	}
	open := filterExecutions(tx.base.executions, tx.executions, ExecutionFilter{
		TenantID:   e.TenantID,
		CampaignID: e.CampaignID,
		InvoiceID:  e.InvoiceID,
		Statuses:   []dunning.ExecutionStatus{dunning.StatusPending, dunning.StatusInProgress},
	})
	if len(open) > 0 {
		return duplicateExecution(e)
	}
	cp := e.Clone()
	if cp.Version == 0 {
		cp.Version = 1
	}
	tx.executions[key] = cp
	return nil
}

func (tx *inMemoryTx) UpdateExecution(_ context.Context, e *dunning.Execution, expectedVersion int) (int, error) {
	if e == nil {
		return 0, errors.New("execution required")
	}
	key := keyOf(e.TenantID, e.ID)
	current, ok := tx.execution(key)
	if !ok {
		return 0, notFound("execution", e.TenantID, e.ID)
	}
	if current.Version != expectedVersion {
		return 0, versionConflict("execution", e.ID, expectedVersion, current.Version)
	}
	next := e.Clone()
	next.Version = expectedVersion + 1
	tx.executions[key] = next
	return next.Version, nil
}

func (tx *inMemoryTx) AppendActionLog(_ context.Context, entry dunning.ActionLogEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("action log id required")
	}
	tx.actionLog = append(tx.actionLog, entry)
	return nil
}

func findCampaign(rows map[rowKey]*dunning.Campaign, tenantID, campaignID string) (*dunning.Campaign, error) {
	c, ok := rows[keyOf(tenantID, campaignID)]
	if !ok {
		return nil, notFound("campaign", tenantID, campaignID)
	}
	return c.Clone(), nil
}

func findExecution(rows map[rowKey]*dunning.Execution, tenantID, executionID string) (*dunning.Execution, error) {
	e, ok := rows[keyOf(tenantID, executionID)]
	if !ok {
		return nil, notFound("execution", tenantID, executionID)
	}
	return e.Clone(), nil
}

// filterCampaigns filters base with the rows in overlay taking precedence.
func filterCampaigns(base, overlay map[rowKey]*dunning.Campaign, filter CampaignFilter) []*dunning.Campaign {
	out := make([]*dunning.Campaign, 0)
	keep := func(c *dunning.Campaign) {
		if filter.TenantID != "" && c.TenantID != filter.TenantID {
			return
		}
		if c.Deleted() && !filter.IncludeDeleted {
			return
		}
		if filter.ActiveOnly && !c.IsActive {
			return
		}
		out = append(out, c.Clone())
	}
	for k, c := range base {
		if _, shadowed := overlay[k]; !shadowed {
			keep(c)
		}
	}
	for _, c := range overlay {
		keep(c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func filterExecutions(base, overlay map[rowKey]*dunning.Execution, filter ExecutionFilter) []*dunning.Execution {
	out := make([]*dunning.Execution, 0)
	keep := func(e *dunning.Execution) {
		if filter.TenantID != "" && e.TenantID != filter.TenantID {
			return
		}
		if filter.CampaignID != "" && e.CampaignID != filter.CampaignID {
			return
		}
		if filter.InvoiceID != "" && e.InvoiceID != filter.InvoiceID {
			return
		}
		if !statusIn(e.Status, filter.Statuses) {
			return
		}
		out = append(out, e.Clone())
	}
	for k, e := range base {
		if _, shadowed := overlay[k]; !shadowed {
			keep(e)
		}
	}
	for _, e := range overlay {
		keep(e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func filterActionLog(filter ActionLogFilter, logs ...[]dunning.ActionLogEntry) []dunning.ActionLogEntry {
	out := make([]dunning.ActionLogEntry, 0)
	for _, entries := range logs {
		for _, entry := range entries {
			if filter.TenantID != "" && entry.TenantID != filter.TenantID {
				continue
			}
			if filter.CampaignID != "" && entry.CampaignID != filter.CampaignID {
				continue
			}
			if filter.ExecutionID != "" && entry.ExecutionID != filter.ExecutionID {
				continue
			}
			out = append(out, entry)
		}
	}
	return out
}
