package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-dunning"
)

var baseTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func fixtureCampaign(id, tenant string) *dunning.Campaign {
	return &dunning.Campaign{
		ID:                id,
		TenantID:          tenant,
		Name:              "standard " + id,
		MaxRetries:        2,
		RetryIntervalDays: 1,
		IsActive:          true,
		Actions: []dunning.Action{
			dunning.EmailAction(0, "reminder-1"),
			dunning.SMSAction(3, "sms-1"),
		},
		ExclusionRules: dunning.ExclusionRules{"min_lifetime_value": float64(5000)},
		CreatedAt:      baseTime,
		UpdatedAt:      baseTime,
	}
}

func fixtureExecution(id string, c *dunning.Campaign, invoice string, next time.Time) *dunning.Execution {
	return &dunning.Execution{
		ID:                id,
		TenantID:          c.TenantID,
		CampaignID:        c.ID,
		CustomerID:        "cust-" + invoice,
		InvoiceID:         invoice,
		OutstandingAmount: 10000,
		TotalSteps:        len(c.Actions),
		Plan:              dunning.CloneActions(c.Actions),
		Policy:            c.RetryPolicy(),
		NextActionAt:      dunning.TimePtr(next),
		StartedAt:         baseTime,
		Status:            dunning.StatusPending,
		UpdatedAt:         baseTime,
	}
}

// runStoreContract exercises the behaviour every Store implementation
// must share. Ids are prefixed so the suite can run against a shared
// database.
func runStoreContract(t *testing.T, s Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	tenant := prefix + "tenant"
	camp := fixtureCampaign(prefix+"camp-1", tenant)

	t.Run("insert and read campaign", func(t *testing.T) {
		require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
			return tx.InsertCampaign(ctx, camp)
		}))

		got, err := s.GetCampaign(ctx, tenant, camp.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
		assert.Equal(t, camp.Actions, got.Actions)
		assert.Equal(t, float64(5000), got.ExclusionRules["min_lifetime_value"])

		_, err = s.GetCampaign(ctx, "other-tenant", camp.ID)
		assert.True(t, dunning.IsNotFound(err), "expected not found across tenants, got %v", err)
	})

	t.Run("update campaign checks version and keeps counters", func(t *testing.T) {
		require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
			return tx.IncrementCampaignCounters(ctx, tenant, camp.ID, CounterDelta{TotalExecutions: 2, TotalRecoveredAmount: 300})
		}))

		patch, err := s.GetCampaign(ctx, tenant, camp.ID)
		require.NoError(t, err)
		patch.Name = "renamed"
		patch.TotalExecutions = 0

		var newVersion int
		require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
			v, err := tx.UpdateCampaign(ctx, patch, 1)
			newVersion = v
			return err
		}))
		assert.Equal(t, 2, newVersion)

		got, err := s.GetCampaign(ctx, tenant, camp.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.Equal(t, int64(2), got.TotalExecutions)
		assert.Equal(t, int64(300), got.TotalRecoveredAmount)

		err = s.RunInTransaction(ctx, func(tx Tx) error {
			_, err := tx.UpdateCampaign(ctx, patch, 1)
			return err
		})
		assert.True(t, dunning.IsConcurrencyConflict(err), "expected version conflict, got %v", err)
	})

	t.Run("failed transaction leaves no partial writes", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.RunInTransaction(ctx, func(tx Tx) error {
			if err := tx.IncrementCampaignCounters(ctx, tenant, camp.ID, CounterDelta{SuccessfulExecutions: 1}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := s.GetCampaign(ctx, tenant, camp.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.SuccessfulExecutions)
	})

	t.Run("duplicate open execution is rejected", func(t *testing.T) {
		exec := fixtureExecution(prefix+"exec-1", camp, prefix+"inv-1", baseTime)
		require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
			return tx.InsertExecution(ctx, exec)
		}))

		dup := fixtureExecution(prefix+"exec-2", camp, prefix+"inv-1", baseTime)
		err := s.RunInTransaction(ctx, func(tx Tx) error {
			return tx.InsertExecution(ctx, dup)
		})
		assert.True(t, dunning.IsDuplicateExecution(err), "expected duplicate execution, got %v", err)
	})

	t.Run("update execution and due listing", func(t *testing.T) {
		var exec *dunning.Execution
		require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
			var err error
			exec, err = tx.LockExecution(ctx, tenant, prefix+"exec-1")
			if err != nil {
				return err
			}
			exec.Status = dunning.StatusInProgress
			exec.CurrentStep = 1
			exec.NextActionAt = dunning.TimePtr(baseTime.Add(dunning.Days(3)))
			exec.Log = append(exec.Log, dunning.LogEntry{
				StepNumber: 0, ActionType: dunning.ActionEmail, Status: dunning.LogSuccess, Timestamp: baseTime,
			})
			if _, err := tx.UpdateExecution(ctx, exec, exec.Version); err != nil {
				return err
			}
			return tx.AppendActionLog(ctx, dunning.ActionLogEntry{
				ID: prefix + "log-1", TenantID: tenant, CampaignID: camp.ID, ExecutionID: exec.ID,
				StepNumber: 0, ActionType: dunning.ActionEmail, Status: dunning.LogSuccess, Attempt: 1,
				CreatedAt: baseTime,
			})
		}))

		got, err := s.GetExecution(ctx, tenant, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.Equal(t, dunning.StatusInProgress, got.Status)
		require.Len(t, got.Log, 1)
		assert.Equal(t, dunning.LogSuccess, got.Log[0].Status)

		due, err := s.DueExecutions(ctx, baseTime.Add(dunning.Days(1)), 10)
		require.NoError(t, err)
		for _, d := range due {
			assert.NotEqual(t, exec.ID, d.ID, "execution is not due yet")
		}

		due, err = s.DueExecutions(ctx, baseTime.Add(dunning.Days(3)), 0)
		require.NoError(t, err)
		found := false
		for _, d := range due {
			found = found || d.ID == exec.ID
		}
		assert.True(t, found, "expected execution to be due")

		logs, err := s.ListActionLog(ctx, ActionLogFilter{TenantID: tenant, ExecutionID: exec.ID})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, 1, logs[0].Attempt)

		err = s.RunInTransaction(ctx, func(tx Tx) error {
			_, err := tx.UpdateExecution(ctx, got, 1)
			return err
		})
		assert.True(t, dunning.IsConcurrencyConflict(err), "expected version conflict, got %v", err)
	})

	t.Run("terminal execution frees the invoice", func(t *testing.T) {
		require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
			exec, err := tx.LockExecution(ctx, tenant, prefix+"exec-1")
			if err != nil {
				return err
			}
			exec.Status = dunning.StatusCanceled
			exec.NextActionAt = nil
			exec.CompletedAt = dunning.TimePtr(baseTime)
			_, err = tx.UpdateExecution(ctx, exec, exec.Version)
			return err
		}))

		next := fixtureExecution(prefix+"exec-3", camp, prefix+"inv-1", baseTime)
		require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
			return tx.InsertExecution(ctx, next)
		}))

		open, err := s.ListExecutions(ctx, ExecutionFilter{
			TenantID:   tenant,
			CampaignID: camp.ID,
			Statuses:   []dunning.ExecutionStatus{dunning.StatusPending, dunning.StatusInProgress},
		})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, prefix+"exec-3", open[0].ID)
	})

	t.Run("soft deleted campaigns are hidden from lists", func(t *testing.T) {
		other := fixtureCampaign(prefix+"camp-2", tenant)
		require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
			if err := tx.InsertCampaign(ctx, other); err != nil {
				return err
			}
			c, err := tx.LockCampaign(ctx, tenant, other.ID)
			if err != nil {
				return err
			}
			c.DeletedAt = dunning.TimePtr(baseTime)
			_, err = tx.UpdateCampaign(ctx, c, c.Version)
			return err
		}))

		list, err := s.ListCampaigns(ctx, CampaignFilter{TenantID: tenant})
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, camp.ID, list[0].ID)

		all, err := s.ListCampaigns(ctx, CampaignFilter{TenantID: tenant, IncludeDeleted: true})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		got, err := s.GetCampaign(ctx, tenant, other.ID)
		require.NoError(t, err)
		assert.True(t, got.Deleted())
	})

	t.Run("set counters overwrites values", func(t *testing.T) {
		require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
			return tx.SetCampaignCounters(ctx, tenant, camp.ID, CounterDelta{TotalExecutions: 7, SuccessfulExecutions: 3, TotalRecoveredAmount: 900})
		}))
		got, err := s.GetCampaign(ctx, tenant, camp.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.TotalExecutions)
		assert.Equal(t, int64(3), got.SuccessfulExecutions)
		assert.Equal(t, int64(900), got.TotalRecoveredAmount)
	})

	t.Run("campaign ids are scoped to a tenant", func(t *testing.T) {
		otherTenant := prefix + "tenant-b"
		twin := fixtureCampaign(camp.ID, otherTenant)
		twinExec := fixtureExecution(prefix+"exec-b1", twin, prefix+"inv-1", baseTime)
		require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
			if err := tx.InsertCampaign(ctx, twin); err != nil {
				return err
			}
			return tx.InsertExecution(ctx, twinExec)
		}))

		got, err := s.GetCampaign(ctx, otherTenant, camp.ID)
		require.NoError(t, err)
		assert.Equal(t, otherTenant, got.TenantID)
		assert.Equal(t, int64(0), got.TotalExecutions)

		mine, err := s.GetCampaign(ctx, tenant, camp.ID)
		require.NoError(t, err)
		assert.Equal(t, tenant, mine.TenantID)
		assert.Equal(t, int64(7), mine.TotalExecutions)

		err = s.RunInTransaction(ctx, func(tx Tx) error {
			return tx.InsertCampaign(ctx, fixtureCampaign(camp.ID, otherTenant))
		})
		require.Error(t, err)
		assert.True(t, dunning.IsConcurrencyConflict(err), "unexpected error: %v", err)
	})
}
