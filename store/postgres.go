package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/goliatone/go-dunning"
)

//go:embed schema.sql
var schemaSQL string

const pgUniqueViolation = "23505"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists state in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPool constructs a pgx connection pool from a connection string.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(connString) == "" {
		return nil, fmt.Errorf("store: empty connection string")
	}
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("store: parse config: %w", err)
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var errPostgresNotConfigured = errors.New("postgres store not configured")

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errPostgresNotConfigured
	}
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetCampaign(ctx context.Context, tenantID, campaignID string) (*dunning.Campaign, error) {
	if s == nil || s.pool == nil {
		return nil, errPostgresNotConfigured
	}
	return getCampaign(ctx, s.pool, tenantID, campaignID, false)
}

func (s *PostgresStore) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]*dunning.Campaign, error) {
	if s == nil || s.pool == nil {
		return nil, errPostgresNotConfigured
	}
	return listCampaigns(ctx, s.pool, filter)
}

func (s *PostgresStore) GetExecution(ctx context.Context, tenantID, executionID string) (*dunning.Execution, error) {
	if s == nil || s.pool == nil {
		return nil, errPostgresNotConfigured
	}
	return getExecution(ctx, s.pool, tenantID, executionID, false)
}

func (s *PostgresStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*dunning.Execution, error) {
	if s == nil || s.pool == nil {
		return nil, errPostgresNotConfigured
	}
	return listExecutions(ctx, s.pool, filter)
}

func (s *PostgresStore) ListActionLog(ctx context.Context, filter ActionLogFilter) ([]dunning.ActionLogEntry, error) {
	if s == nil || s.pool == nil {
		return nil, errPostgresNotConfigured
	}
	return listActionLog(ctx, s.pool, filter)
}

func (s *PostgresStore) DueExecutions(ctx context.Context, now time.Time, limit int) ([]*dunning.Execution, error) {
	if s == nil || s.pool == nil {
		return nil, errPostgresNotConfigured
	}
	q := selectExecutionSQL + `
WHERE status IN ('pending', 'in_progress')
  AND next_action_at IS NOT NULL
  AND next_action_at <= $1
ORDER BY next_action_at, id`
	args := []any{now.UTC()}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: due executions: %w", err)
	}
	return collectExecutions(rows)
}

// RunInTransaction executes fn in a database transaction.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(Tx) error) error {
	if s == nil || s.pool == nil {
		return errPostgresNotConfigured
	}
	if fn == nil {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) GetCampaign(ctx context.Context, tenantID, campaignID string) (*dunning.Campaign, error) {
	return getCampaign(ctx, t.tx, tenantID, campaignID, false)
}

func (t *postgresTx) ListCampaigns(ctx context.Context, filter CampaignFilter) ([]*dunning.Campaign, error) {
	return listCampaigns(ctx, t.tx, filter)
}

func (t *postgresTx) GetExecution(ctx context.Context, tenantID, executionID string) (*dunning.Execution, error) {
	return getExecution(ctx, t.tx, tenantID, executionID, false)
}

func (t *postgresTx) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*dunning.Execution, error) {
	return listExecutions(ctx, t.tx, filter)
}

func (t *postgresTx) ListActionLog(ctx context.Context, filter ActionLogFilter) ([]dunning.ActionLogEntry, error) {
	return listActionLog(ctx, t.tx, filter)
}

func (t *postgresTx) LockCampaign(ctx context.Context, tenantID, campaignID string) (*dunning.Campaign, error) {
	return getCampaign(ctx, t.tx, tenantID, campaignID, true)
}

func (t *postgresTx) LockExecution(ctx context.Context, tenantID, executionID string) (*dunning.Execution, error) {
	return getExecution(ctx, t.tx, tenantID, executionID, true)
}

func (t *postgresTx) InsertCampaign(ctx context.Context, c *dunning.Campaign) error {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return errors.New("campaign id required")
	}
	actions, rules, err := marshalCampaignJSON(c)
	if err != nil {
		return err
	}
	version := c.Version
	if version == 0 {
		version = 1
	}
	const insertSQL = `
INSERT INTO dunning_campaigns (
    id, tenant_id, name, description, trigger_after_days, max_retries, retry_interval_days,
    priority, is_active, actions, exclusion_rules, total_executions, successful_executions,
    total_recovered_amount, created_at, updated_at, deleted_at, version
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	_, err = t.tx.Exec(ctx, insertSQL,
		c.ID, c.TenantID, c.Name, c.Description, c.TriggerAfterDays, c.MaxRetries, c.RetryIntervalDays,
		c.Priority, c.IsActive, actions, rules, c.TotalExecutions, c.SuccessfulExecutions,
		c.TotalRecoveredAmount, c.CreatedAt.UTC(), c.UpdatedAt.UTC(), utcPtr(c.DeletedAt), version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return dunning.NewError(dunning.ErrConcurrencyConflict, "campaign already exists", err,
				map[string]any{"tenant_id": c.TenantID, "id": c.ID})
		}
		return fmt.Errorf("store: insert campaign: %w", err)
	}
	return nil
}

func (t *postgresTx) UpdateCampaign(ctx context.Context, c *dunning.Campaign, expectedVersion int) (int, error) {
	if c == nil {
		return 0, errors.New("campaign required")
	}
	actions, rules, err := marshalCampaignJSON(c)
	if err != nil {
		return 0, err
	}
	const updateSQL = `
UPDATE dunning_campaigns
SET name = $3, description = $4, trigger_after_days = $5, max_retries = $6,
    retry_interval_days = $7, priority = $8, is_active = $9, actions = $10,
    exclusion_rules = $11, updated_at = $12, deleted_at = $13, version = version + 1
WHERE tenant_id = $1 AND id = $2 AND version = $14
RETURNING version`
	var newVersion int
	err = t.tx.QueryRow(ctx, updateSQL,
		c.TenantID, c.ID, c.Name, c.Description, c.TriggerAfterDays, c.MaxRetries,
		c.RetryIntervalDays, c.Priority, c.IsActive, actions,
		rules, c.UpdatedAt.UTC(), utcPtr(c.DeletedAt), expectedVersion,
	).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, t.campaignMissOrConflict(ctx, c.TenantID, c.ID, expectedVersion)
	}
	if err != nil {
		return 0, fmt.Errorf("store: update campaign: %w", err)
	}
	return newVersion, nil
}

func (t *postgresTx) campaignMissOrConflict(ctx context.Context, tenantID, id string, expected int) error {
	var actual int
	err := t.tx.QueryRow(ctx, `SELECT version FROM dunning_campaigns WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(&actual)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("campaign", tenantID, id)
	}
	if err != nil {
		return fmt.Errorf("store: read campaign version: %w", err)
	}
	return versionConflict("campaign", id, expected, actual)
}

func (t *postgresTx) IncrementCampaignCounters(ctx context.Context, tenantID, campaignID string, delta CounterDelta) error {
	const incrementSQL = `
UPDATE dunning_campaigns
SET total_executions = total_executions + $3,
    successful_executions = successful_executions + $4,
    total_recovered_amount = total_recovered_amount + $5
WHERE tenant_id = $1 AND id = $2`
	tag, err := t.tx.Exec(ctx, incrementSQL, tenantID, campaignID,
		delta.TotalExecutions, delta.SuccessfulExecutions, delta.TotalRecoveredAmount)
	if err != nil {
		return fmt.Errorf("store: increment campaign counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("campaign", tenantID, campaignID)
	}
	return nil
}

func (t *postgresTx) SetCampaignCounters(ctx context.Context, tenantID, campaignID string, counters CounterDelta) error {
	const setSQL = `
UPDATE dunning_campaigns
SET total_executions = $3, successful_executions = $4, total_recovered_amount = $5
WHERE tenant_id = $1 AND id = $2`
	tag, err := t.tx.Exec(ctx, setSQL, tenantID, campaignID,
		counters.TotalExecutions, counters.SuccessfulExecutions, counters.TotalRecoveredAmount)
	if err != nil {
		return fmt.Errorf("store: set campaign counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("campaign", tenantID, campaignID)
	}
	return nil
}

func (t *postgresTx) InsertExecution(ctx context.Context, e *dunning.Execution) error {
	if e == nil || strings.TrimSpace(e.ID) == "" {
		return errors.New("execution id required")
	}
	plan, policy, log, err := marshalExecutionJSON(e)
	if err != nil {
		return err
	}
	version := e.Version
	if version == 0 {
		version = 1
	}
	const insertSQL = `
INSERT INTO dunning_executions (
    id, tenant_id, campaign_id, subscription_id, customer_id, invoice_id,
    outstanding_amount, recovered_amount, current_step, total_steps, retry_count,
    plan, policy, next_action_at, started_at, completed_at, status, completion_reason,
    execution_log, canceled_reason, canceled_by, updated_at, version
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`
	_, err = t.tx.Exec(ctx, insertSQL,
		e.ID, e.TenantID, e.CampaignID, e.SubscriptionID, e.CustomerID, e.InvoiceID,
		e.OutstandingAmount, e.RecoveredAmount, e.CurrentStep, e.TotalSteps, e.RetryCount,
		plan, policy, utcPtr(e.NextActionAt), e.StartedAt.UTC(), utcPtr(e.CompletedAt),
		string(e.Status), string(e.CompletionReason),
		log, e.CanceledReason, e.CanceledBy, e.UpdatedAt.UTC(), version,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			if pgErr.ConstraintName == "dunning_executions_open_invoice_idx" {
				return duplicateExecution(e)
			}
			return dunning.NewError(dunning.ErrConcurrencyConflict, "execution already exists", err, map[string]any{"id": e.ID})
		}
		return fmt.Errorf("store: insert execution: %w", err)
	}
	return nil
}

func (t *postgresTx) UpdateExecution(ctx context.Context, e *dunning.Execution, expectedVersion int) (int, error) {
	if e == nil {
		return 0, errors.New("execution required")
	}
	plan, policy, log, err := marshalExecutionJSON(e)
	if err != nil {
		return 0, err
	}
	const updateSQL = `
UPDATE dunning_executions
SET recovered_amount = $3, current_step = $4, retry_count = $5, plan = $6, policy = $7,
    next_action_at = $8, completed_at = $9, status = $10, completion_reason = $11,
    execution_log = $12, canceled_reason = $13, canceled_by = $14, updated_at = $15,
    version = version + 1
WHERE tenant_id = $1 AND id = $2 AND version = $16
RETURNING version`
	var newVersion int
	err = t.tx.QueryRow(ctx, updateSQL,
		e.TenantID, e.ID, e.RecoveredAmount, e.CurrentStep, e.RetryCount, plan, policy,
		utcPtr(e.NextActionAt), utcPtr(e.CompletedAt), string(e.Status), string(e.CompletionReason),
		log, e.CanceledReason, e.CanceledBy, e.UpdatedAt.UTC(), expectedVersion,
	).Scan(&newVersion)
	if errors.Is(err, pgx.ErrNoRows) {
		var actual int
		verr := t.tx.QueryRow(ctx, `SELECT version FROM dunning_executions WHERE tenant_id = $1 AND id = $2`, e.TenantID, e.ID).Scan(&actual)
		if errors.Is(verr, pgx.ErrNoRows) {
			return 0, notFound("execution", e.TenantID, e.ID)
		}
		if verr != nil {
			return 0, fmt.Errorf("store: read execution version: %w", verr)
		}
		return 0, versionConflict("execution", e.ID, expectedVersion, actual)
	}
	if err != nil {
		return 0, fmt.Errorf("store: update execution: %w", err)
	}
	return newVersion, nil
}

func (t *postgresTx) AppendActionLog(ctx context.Context, entry dunning.ActionLogEntry) error {
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("action log id required")
	}
	const insertSQL = `
INSERT INTO dunning_action_log (
    id, tenant_id, campaign_id, execution_id, step_number, action_type, status, attempt, detail, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := t.tx.Exec(ctx, insertSQL,
		entry.ID, entry.TenantID, entry.CampaignID, entry.ExecutionID, entry.StepNumber,
		string(entry.ActionType), string(entry.Status), entry.Attempt, entry.Detail, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: append action log: %w", err)
	}
	return nil
}

const selectCampaignSQL = `
SELECT id, tenant_id, name, description, trigger_after_days, max_retries, retry_interval_days,
       priority, is_active, actions, exclusion_rules, total_executions, successful_executions,
       total_recovered_amount, created_at, updated_at, deleted_at, version
FROM dunning_campaigns`

func getCampaign(ctx context.Context, q querier, tenantID, campaignID string, forUpdate bool) (*dunning.Campaign, error) {
	sql := selectCampaignSQL + ` WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, tenantID, strings.TrimSpace(campaignID))
	if err != nil {
		return nil, fmt.Errorf("store: get campaign: %w", err)
	}
	out, err := collectCampaigns(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound("campaign", tenantID, campaignID)
	}
	return out[0], nil
}

func listCampaigns(ctx context.Context, q querier, filter CampaignFilter) ([]*dunning.Campaign, error) {
	var (
		where []string
		args  []any
	)
	if filter.TenantID != "" {
		args = append(args, filter.TenantID)
		where = append(where, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if !filter.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	if filter.ActiveOnly {
		where = append(where, "is_active")
	}
	sql := selectCampaignSQL
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at, id"
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list campaigns: %w", err)
	}
	return collectCampaigns(rows)
}

func collectCampaigns(rows pgx.Rows) ([]*dunning.Campaign, error) {
	defer rows.Close()
	out := make([]*dunning.Campaign, 0)
	for rows.Next() {
		var (
			c       dunning.Campaign
			actions []byte
			rules   []byte
		)
		if err := rows.Scan(
			&c.ID, &c.TenantID, &c.Name, &c.Description, &c.TriggerAfterDays, &c.MaxRetries,
			&c.RetryIntervalDays, &c.Priority, &c.IsActive, &actions, &rules, &c.TotalExecutions,
			&c.SuccessfulExecutions, &c.TotalRecoveredAmount, &c.CreatedAt, &c.UpdatedAt,
			&c.DeletedAt, &c.Version,
		); err != nil {
			return nil, fmt.Errorf("store: scan campaign: %w", err)
		}
		if err := json.Unmarshal(actions, &c.Actions); err != nil {
			return nil, fmt.Errorf("store: decode campaign actions: %w", err)
		}
		if len(rules) > 0 {
			if err := json.Unmarshal(rules, &c.ExclusionRules); err != nil {
				return nil, fmt.Errorf("store: decode exclusion rules: %w", err)
			}
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate campaigns: %w", err)
	}
	return out, nil
}

const selectExecutionSQL = `
SELECT id, tenant_id, campaign_id, subscription_id, customer_id, invoice_id,
       outstanding_amount, recovered_amount, current_step, total_steps, retry_count,
       plan, policy, next_action_at, started_at, completed_at, status, completion_reason,
       execution_log, canceled_reason, canceled_by, updated_at, version
FROM dunning_executions`

func getExecution(ctx context.Context, q querier, tenantID, executionID string, forUpdate bool) (*dunning.Execution, error) {
	sql := selectExecutionSQL + ` WHERE tenant_id = $1 AND id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, tenantID, strings.TrimSpace(executionID))
	if err != nil {
		return nil, fmt.Errorf("store: get execution: %w", err)
	}
	out, err := collectExecutions(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound("execution", tenantID, executionID)
	}
	return out[0], nil
}

func listExecutions(ctx context.Context, q querier, filter ExecutionFilter) ([]*dunning.Execution, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("tenant_id", filter.TenantID)
	add("campaign_id", filter.CampaignID)
	add("invoice_id", filter.InvoiceID)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	sql := selectExecutionSQL
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY started_at, id"
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list executions: %w", err)
	}
	return collectExecutions(rows)
}

func collectExecutions(rows pgx.Rows) ([]*dunning.Execution, error) {
	defer rows.Close()
	out := make([]*dunning.Execution, 0)
	for rows.Next() {
		var (
			e                 dunning.Execution
			plan, policy, log []byte
			status, reason    string
		)
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.CampaignID, &e.SubscriptionID, &e.CustomerID, &e.InvoiceID,
			&e.OutstandingAmount, &e.RecoveredAmount, &e.CurrentStep, &e.TotalSteps, &e.RetryCount,
			&plan, &policy, &e.NextActionAt, &e.StartedAt, &e.CompletedAt, &status, &reason,
			&log, &e.CanceledReason, &e.CanceledBy, &e.UpdatedAt, &e.Version,
		); err != nil {
			return nil, fmt.Errorf("store: scan execution: %w", err)
		}
		e.Status = dunning.ExecutionStatus(status)
		e.CompletionReason = dunning.CompletionReason(reason)
		if err := json.Unmarshal(plan, &e.Plan); err != nil {
			return nil, fmt.Errorf("store: decode execution plan: %w", err)
		}
		if err := json.Unmarshal(policy, &e.Policy); err != nil {
			return nil, fmt.Errorf("store: decode execution policy: %w", err)
		}
		if err := json.Unmarshal(log, &e.Log); err != nil {
			return nil, fmt.Errorf("store: decode execution log: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate executions: %w", err)
	}
	return out, nil
}

func listActionLog(ctx context.Context, q querier, filter ActionLogFilter) ([]dunning.ActionLogEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("tenant_id", filter.TenantID)
	add("campaign_id", filter.CampaignID)
	add("execution_id", filter.ExecutionID)

	sql := `
SELECT id, tenant_id, campaign_id, execution_id, step_number, action_type, status, attempt, detail, created_at
FROM dunning_action_log`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY created_at, id"

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list action log: %w", err)
	}
	defer rows.Close()

	out := make([]dunning.ActionLogEntry, 0)
	for rows.Next() {
		var (
			entry              dunning.ActionLogEntry
			actionType, status string
		)
		if err := rows.Scan(
			&entry.ID, &entry.TenantID, &entry.CampaignID, &entry.ExecutionID, &entry.StepNumber,
			&actionType, &status, &entry.Attempt, &entry.Detail, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan action log: %w", err)
		}
		entry.ActionType = dunning.ActionKind(actionType)
		entry.Status = dunning.LogStatus(status)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate action log: %w", err)
	}
	return out, nil
}

func marshalCampaignJSON(c *dunning.Campaign) (actions, rules []byte, err error) {
	actions, err = json.Marshal(c.Actions)
	if err != nil {
		return nil, nil, fmt.Errorf("store: encode campaign actions: %w", err)
	}
	if c.ExclusionRules != nil {
		rules, err = json.Marshal(c.ExclusionRules)
		if err != nil {
			return nil, nil, fmt.Errorf("store: encode exclusion rules: %w", err)
		}
	}
	return actions, rules, nil
}

func marshalExecutionJSON(e *dunning.Execution) (plan, policy, log []byte, err error) {
	if plan, err = json.Marshal(e.Plan); err != nil {
		return nil, nil, nil, fmt.Errorf("store: encode execution plan: %w", err)
	}
	if policy, err = json.Marshal(e.Policy); err != nil {
		return nil, nil, nil, fmt.Errorf("store: encode execution policy: %w", err)
	}
	entries := e.Log
	if entries == nil {
		entries = []dunning.LogEntry{}
	}
	if log, err = json.Marshal(entries); err != nil {
		return nil, nil, nil, fmt.Errorf("store: encode execution log: %w", err)
	}
	return plan, policy, log, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
