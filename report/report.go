package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/goliatone/go-dunning/engine"
)

const (
	SummarySheet   = "Summary"
	CampaignsSheet = "Campaigns"
	ActionsSheet   = "Actions"
)

// StatsSource is the engine surface a report reads.
type StatsSource interface {
	PlatformStats(ctx context.Context, tenantID string) (engine.PlatformStats, error)
	AllCampaignStats(ctx context.Context, tenantID string) ([]engine.CampaignStats, error)
	ActionStats(ctx context.Context, tenantID, campaignID string) ([]engine.ActionStats, error)
}

// StatsReport is a point-in-time snapshot of a tenant's dunning results.
type StatsReport struct {
	TenantID    string                 `json:"tenant_id"`
	GeneratedAt time.Time              `json:"generated_at"`
	Platform    engine.PlatformStats   `json:"platform"`
	Campaigns   []engine.CampaignStats `json:"campaigns"`
	Actions     []engine.ActionStats   `json:"actions"`
}

// Collect reads every stats view for tenantID.
func Collect(ctx context.Context, src StatsSource, tenantID string, now time.Time) (StatsReport, error) {
	report := StatsReport{TenantID: tenantID, GeneratedAt: now.UTC()}

	var err error
	if report.Platform, err = src.PlatformStats(ctx, tenantID); err != nil {
		return report, fmt.Errorf("platform stats: %w", err)
	}
	if report.Campaigns, err = src.AllCampaignStats(ctx, tenantID); err != nil {
		return report, fmt.Errorf("campaign stats: %w", err)
	}
	if report.Actions, err = src.ActionStats(ctx, tenantID, ""); err != nil {
		return report, fmt.Errorf("action stats: %w", err)
	}
	return report, nil
}

// WriteStatsWorkbook renders r as an xlsx workbook with one sheet per view.
func WriteStatsWorkbook(w io.Writer, r StatsReport) error {
	f, err := buildWorkbook(r)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// SaveStatsWorkbook writes the workbook to path.
func SaveStatsWorkbook(path string, r StatsReport) error {
	f, err := buildWorkbook(r)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}

func buildWorkbook(r StatsReport) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName(f.GetSheetName(0), SummarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{CampaignsSheet, ActionsSheet} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}
	f.SetActiveSheet(0)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"D9D9D9"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	summary := [][]any{
		{"tenant_id", r.TenantID},
		{"generated_at", r.GeneratedAt.Format(time.RFC3339)},
		{"total_campaigns", r.Platform.TotalCampaigns},
		{"total_executions", r.Platform.TotalExecutions},
		{"successful_recoveries", r.Platform.SuccessfulRecoveries},
		{"total_recovered_amount", r.Platform.TotalRecoveredAmount},
	}
	if err := writeRows(f, SummarySheet, 1, summary); err != nil {
		f.Close()
		return nil, err
	}
	_ = f.SetColWidth(SummarySheet, "A", "A", 25)
	_ = f.SetColWidth(SummarySheet, "B", "B", 30)

	campaignRows := [][]any{{
		"campaign_id", "name", "total_executions", "successful_executions",
		"total_recovered_amount", "success_rate", "average_recovery_amount",
	}}
	for _, c := range r.Campaigns {
		campaignRows = append(campaignRows, []any{
			c.CampaignID, c.Name, c.TotalExecutions, c.SuccessfulExecutions,
			c.TotalRecoveredAmount, c.SuccessRate, c.AverageRecoveryAmount,
		})
	}
	if err := writeTable(f, CampaignsSheet, campaignRows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	actionRows := [][]any{{"action_type", "attempts", "successes", "failures"}}
	for _, a := range r.Actions {
		actionRows = append(actionRows, []any{string(a.ActionType), a.Attempts, a.Successes, a.Failures})
	}
	if err := writeTable(f, ActionsSheet, actionRows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

func writeTable(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	if err := writeRows(f, sheet, 1, rows); err != nil {
		return err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style header of %s: %w", sheet, err)
	}
	lastCol, _, _ := excelize.SplitCellName(last)
	return f.SetColWidth(sheet, "A", lastCol, 22)
}

func writeRows(f *excelize.File, sheet string, startRow int, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, startRow+i)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d of %s: %w", startRow+i, sheet, err)
		}
	}
	return nil
}
