package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-dunning"
)

func TestInMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewInMemoryStore(), "")
}

func TestInMemoryStoreReturnsClones(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	camp := fixtureCampaign("camp", "t1")
	require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
		return tx.InsertCampaign(ctx, camp)
	}))

	got, err := s.GetCampaign(ctx, "t1", "camp")
	require.NoError(t, err)
	got.Actions[0].Email.TemplateRef = "mutated"
	got.ExclusionRules["customer_ids"] = []string{"x"}

	again, err := s.GetCampaign(ctx, "t1", "camp")
	require.NoError(t, err)
	assert.Equal(t, "reminder-1", again.Actions[0].Email.TemplateRef)
	assert.NotContains(t, again.ExclusionRules, "customer_ids")
}

func TestInMemoryStoreDueExecutionsOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	camp := fixtureCampaign("camp", "t1")

	require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
		if err := tx.InsertCampaign(ctx, camp); err != nil {
			return err
		}
		for i, inv := range []string{"c", "a", "b"} {
			e := fixtureExecution("exec-"+inv, camp, "inv-"+inv, baseTime.Add(dunning.Days(i)))
			if err := tx.InsertExecution(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	due, err := s.DueExecutions(ctx, baseTime.Add(dunning.Days(5)), 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "exec-c", due[0].ID)
	assert.Equal(t, "exec-a", due[1].ID)
}

func TestInMemoryStoreCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewInMemoryStore().RunInTransaction(ctx, func(Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInMemoryStoreRollbackDiscardsBufferedWrites(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	camp := fixtureCampaign("camp", "t1")
	require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
		return tx.InsertCampaign(ctx, camp)
	}))

	boom := errors.New("boom")
	err := s.RunInTransaction(ctx, func(tx Tx) error {
		if err := tx.IncrementCampaignCounters(ctx, "t1", "camp", CounterDelta{TotalExecutions: 1}); err != nil {
			return err
		}
		exec := fixtureExecution("exec", camp, "inv", baseTime)
		if err := tx.InsertExecution(ctx, exec); err != nil {
			return err
		}
		if err := tx.AppendActionLog(ctx, dunning.ActionLogEntry{ID: "log-1", TenantID: "t1", ExecutionID: "exec"}); err != nil {
			return err
		}

		// writes are visible inside the transaction
		c, err := tx.GetCampaign(ctx, "t1", "camp")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(1), c.TotalExecutions)
		open, err := tx.ListExecutions(ctx, ExecutionFilter{TenantID: "t1"})
		if err != nil {
			return err
		}
		assert.Len(t, open, 1)
		entries, err := tx.ListActionLog(ctx, ActionLogFilter{ExecutionID: "exec"})
		if err != nil {
			return err
		}
		assert.Len(t, entries, 1)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetCampaign(ctx, "t1", "camp")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TotalExecutions)
	_, err = s.GetExecution(ctx, "t1", "exec")
	assert.True(t, dunning.IsNotFound(err))
	entries, err := s.ListActionLog(ctx, ActionLogFilter{ExecutionID: "exec"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInMemoryStoreCommitLeavesUntouchedRowsShared(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
		if err := tx.InsertCampaign(ctx, fixtureCampaign("a", "t1")); err != nil {
			return err
		}
		return tx.InsertCampaign(ctx, fixtureCampaign("b", "t1"))
	}))
	before := s.state.campaigns[keyOf("t1", "b")]

	require.NoError(t, s.RunInTransaction(ctx, func(tx Tx) error {
		return tx.IncrementCampaignCounters(ctx, "t1", "a", CounterDelta{TotalExecutions: 2})
	}))

	assert.Same(t, before, s.state.campaigns[keyOf("t1", "b")], "untouched rows are not copied")
	got, err := s.GetCampaign(ctx, "t1", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TotalExecutions)
}
