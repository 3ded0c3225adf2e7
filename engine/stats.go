package engine

import (
	"context"
	"sort"

	"github.com/goliatone/go-dunning"
	"github.com/goliatone/go-dunning/store"
)

// CampaignStats is the reporting view of one campaign's counters.
type CampaignStats struct {
	CampaignID            string  `json:"campaign_id"`
	Name                  string  `json:"name"`
	TotalExecutions       int64   `json:"total_executions"`
	SuccessfulExecutions  int64   `json:"successful_executions"`
	TotalRecoveredAmount  int64   `json:"total_recovered_amount"`
	SuccessRate           float64 `json:"success_rate"`
	AverageRecoveryAmount float64 `json:"average_recovery_amount"`
}

// PlatformStats sums the counters of a tenant's live campaigns.
type PlatformStats struct {
	TenantID             string `json:"tenant_id"`
	TotalCampaigns       int    `json:"total_campaigns"`
	TotalExecutions      int64  `json:"total_executions"`
	SuccessfulRecoveries int64  `json:"successful_recoveries"`
	TotalRecoveredAmount int64  `json:"total_recovered_amount"`
}

// ActionStats summarises attempts per action kind.
type ActionStats struct {
	ActionType dunning.ActionKind `json:"action_type"`
	Attempts   int                `json:"attempts"`
	Successes  int                `json:"successes"`
	Failures   int                `json:"failures"`
}

func campaignStatsFrom(c *dunning.Campaign) CampaignStats {
	stats := CampaignStats{
		CampaignID:           c.ID,
		Name:                 c.Name,
		TotalExecutions:      c.TotalExecutions,
		SuccessfulExecutions: c.SuccessfulExecutions,
		TotalRecoveredAmount: c.TotalRecoveredAmount,
	}
	if c.TotalExecutions > 0 {
		stats.SuccessRate = float64(c.SuccessfulExecutions) / float64(c.TotalExecutions) * 100
	}
	if c.SuccessfulExecutions > 0 {
		stats.AverageRecoveryAmount = float64(c.TotalRecoveredAmount) / float64(c.SuccessfulExecutions)
	}
	return stats
}

func (e *Engine) CampaignStats(ctx context.Context, tenantID, campaignID string) (CampaignStats, error) {
	c, err := e.GetCampaign(ctx, tenantID, campaignID)
	if err != nil {
		return CampaignStats{}, err
	}
	return campaignStatsFrom(c), nil
}

// AllCampaignStats returns stats for every live campaign of a tenant.
func (e *Engine) AllCampaignStats(ctx context.Context, tenantID string) ([]CampaignStats, error) {
	campaigns, err := e.ListCampaigns(ctx, tenantID, false)
	if err != nil {
		return nil, err
	}
	out := make([]CampaignStats, 0, len(campaigns))
	for _, c := range campaigns {
		out = append(out, campaignStatsFrom(c))
	}
	return out, nil
}

// PlatformStats is recomputed from campaign rows on every call.
func (e *Engine) PlatformStats(ctx context.Context, tenantID string) (PlatformStats, error) {
	campaigns, err := e.ListCampaigns(ctx, tenantID, false)
	if err != nil {
		return PlatformStats{}, err
	}
	stats := PlatformStats{TenantID: tenantID, TotalCampaigns: len(campaigns)}
	for _, c := range campaigns {
		stats.TotalExecutions += c.TotalExecutions
		stats.SuccessfulRecoveries += c.SuccessfulExecutions
		stats.TotalRecoveredAmount += c.TotalRecoveredAmount
	}
	return stats, nil
}

// RecomputeCampaignStats rebuilds a campaign's counters from its execution
// rows and stores them. Successful executions are those completed by
// payment.
func (e *Engine) RecomputeCampaignStats(ctx context.Context, tenantID, campaignID string) (CampaignStats, error) {
	var stats CampaignStats
	err := e.store.RunInTransaction(ctx, func(tx store.Tx) error {
		c, err := tx.LockCampaign(ctx, tenantID, campaignID)
		if err != nil {
			return err
		}
		executions, err := tx.ListExecutions(ctx, store.ExecutionFilter{TenantID: tenantID, CampaignID: campaignID})
		if err != nil {
			return err
		}
		var counters store.CounterDelta
		for _, exec := range executions {
			counters.TotalExecutions++
			counters.TotalRecoveredAmount += exec.RecoveredAmount
			if exec.Status == dunning.StatusCompleted && exec.CompletionReason == dunning.CompletionPaymentRecovered {
				counters.SuccessfulExecutions++
			}
		}
		if err := tx.SetCampaignCounters(ctx, tenantID, campaignID, counters); err != nil {
			return err
		}
		c.TotalExecutions = counters.TotalExecutions
		c.SuccessfulExecutions = counters.SuccessfulExecutions
		c.TotalRecoveredAmount = counters.TotalRecoveredAmount
		stats = campaignStatsFrom(c)
		return nil
	})
	if err != nil {
		return CampaignStats{}, err
	}
	e.log(ctx, map[string]any{"tenant_id": tenantID, "campaign_id": campaignID}).
		Info("campaign counters recomputed: %d executions, %d successful", stats.TotalExecutions, stats.SuccessfulExecutions)
	return stats, nil
}

// ActionStats groups the action log of a campaign (or the whole tenant
// when campaignID is empty) by action kind.
func (e *Engine) ActionStats(ctx context.Context, tenantID, campaignID string) ([]ActionStats, error) {
	if err := requireField("tenant_id", tenantID); err != nil {
		return nil, err
	}
	entries, err := e.store.ListActionLog(ctx, store.ActionLogFilter{TenantID: tenantID, CampaignID: campaignID})
	if err != nil {
		return nil, err
	}
	byKind := make(map[dunning.ActionKind]*ActionStats)
	for _, entry := range entries {
		s, ok := byKind[entry.ActionType]
		if !ok {
			s = &ActionStats{ActionType: entry.ActionType}
			byKind[entry.ActionType] = s
		}
		s.Attempts++
		switch entry.Status {
		case dunning.LogSuccess:
			s.Successes++
		case dunning.LogFailure:
			s.Failures++
		}
	}
	out := make([]ActionStats, 0, len(byKind))
	for _, s := range byKind {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionType < out[j].ActionType })
	return out, nil
}
