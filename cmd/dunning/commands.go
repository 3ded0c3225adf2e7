package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-dunning"
	"github.com/goliatone/go-dunning/config"
	"github.com/goliatone/go-dunning/cron"
	"github.com/goliatone/go-dunning/engine"
	"github.com/goliatone/go-dunning/report"
	"github.com/goliatone/go-dunning/store"
)

var stdout io.Writer = os.Stdout

const shutdownTimeout = 30 * time.Second

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func withApp(g *Globals, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		a.reportError(err)
		return err
	}
	return nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(g.Config)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return dunning.NewError(dunning.ErrValidation, "database.dsn is required", nil, nil)
	}
	pool, err := store.NewPool(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := store.NewPostgresStore(pool).Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	newLogger(cfg.Log, os.Stderr).Info("schema is up to date")
	return nil
}

type SweepCmd struct {
	BatchSize int `help:"Maximum executions per sweep. Overrides scheduler.batch_size."`
}

func (c *SweepCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		result, err := a.sweeper(c.BatchSize).Sweep(ctx)
		if err != nil {
			return err
		}
		return printJSON(sweepSummary(result))
	})
}

type ServeCmd struct{}

func (c *ServeCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		sweeper := a.sweeper(0)
		scheduler := cron.NewScheduler(
			cron.WithLogger(a.logger),
			cron.WithLogLevel(cron.ParseLogLevel(a.cfg.Scheduler.LogLevel)),
			cron.WithErrorHandler(a.reportError),
			cron.WithNoOverlap(),
		)

		handle, err := scheduler.ScheduleCron(cron.JobConfig{Expression: a.cfg.Scheduler.Expression}, sweeper.Run)
		if err != nil {
			return err
		}
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		a.logger.Info("sweeping on %q, press ctrl+c to stop", a.cfg.Scheduler.Expression)

		<-ctx.Done()
		a.logger.Info("shutting down after %d sweeps", handle.Runs())

		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return scheduler.Stop(stopCtx)
	})
}

func (a *app) sweeper(batchSize int) *cron.Sweeper {
	if batchSize <= 0 {
		batchSize = a.cfg.Scheduler.BatchSize
	}
	return cron.NewSweeper(a.engine,
		cron.WithBatchSize(batchSize),
		cron.WithConcurrency(a.cfg.Scheduler.Concurrency),
		cron.WithSweepLogger(a.logger),
		cron.WithSweepErrorHandler(a.reportError),
	)
}

type sweepResult struct {
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
	Due       int       `json:"due"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Completed int       `json:"completed"`
	Skipped   int       `json:"skipped"`
	Errors    []string  `json:"errors,omitempty"`
}

func sweepSummary(r cron.SweepReport) sweepResult {
	out := sweepResult{
		StartedAt: r.StartedAt,
		Duration:  r.Duration.String(),
		Due:       r.Due,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Completed: r.Completed,
		Skipped:   r.Skipped,
	}
	for _, err := range r.Errors {
		out.Errors = append(out.Errors, err.Error())
	}
	return out
}

type CampaignsCmd struct {
	Import CampaignsImportCmd `cmd:"" help:"Create campaigns from a YAML or JSON definition file."`
	List   CampaignsListCmd   `cmd:"" help:"List a tenant's campaigns."`
}

type CampaignsImportCmd struct {
	File   string `arg:"" help:"Campaign definition file." type:"existingfile"`
	Tenant string `required:"" help:"Tenant that owns the campaigns."`
}

func (c *CampaignsImportCmd) Run(g *Globals) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return err
	}
	set, err := config.ParseCampaignSet(data)
	if err != nil {
		return err
	}
	return withApp(g, func(ctx context.Context, a *app) error {
		created := make([]*dunning.Campaign, 0, len(set.Campaigns))
		for _, def := range set.Campaigns {
			campaign, err := def.Campaign(c.Tenant)
			if err != nil {
				return err
			}
			saved, err := a.engine.CreateCampaign(ctx, campaign)
			if err != nil {
				return fmt.Errorf("campaign %q: %w", def.Name, err)
			}
			created = append(created, saved)
		}
		return printJSON(created)
	})
}

type CampaignsListCmd struct {
	Tenant     string `required:"" help:"Tenant to list."`
	ActiveOnly bool   `help:"Only list active campaigns."`
}

func (c *CampaignsListCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		campaigns, err := a.engine.ListCampaigns(ctx, c.Tenant, c.ActiveOnly)
		if err != nil {
			return err
		}
		return printJSON(campaigns)
	})
}

type ExecutionsCmd struct {
	Start  ExecutionsStartCmd  `cmd:"" help:"Start a campaign against an overdue invoice."`
	Show   ExecutionsShowCmd   `cmd:"" help:"Show an execution and its action log."`
	Cancel ExecutionsCancelCmd `cmd:"" help:"Cancel an open execution."`
	Pay    ExecutionsPayCmd    `cmd:"" help:"Record a payment against an execution."`
}

type ExecutionsStartCmd struct {
	Tenant       string `required:"" help:"Tenant id."`
	Campaign     string `required:"" help:"Campaign id."`
	Customer     string `required:"" help:"Customer id."`
	Invoice      string `required:"" help:"Invoice id."`
	Subscription string `help:"Subscription id."`
	Amount       int64  `required:"" help:"Outstanding amount in minor units."`
}

func (c *ExecutionsStartCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		exec, err := a.engine.StartExecution(ctx, engine.StartExecutionInput{
			TenantID:          c.Tenant,
			CampaignID:        c.Campaign,
			CustomerID:        c.Customer,
			InvoiceID:         c.Invoice,
			SubscriptionID:    c.Subscription,
			OutstandingAmount: c.Amount,
		})
		if err != nil {
			return err
		}
		return printJSON(exec)
	})
}

type ExecutionsShowCmd struct {
	ID     string `arg:"" help:"Execution id."`
	Tenant string `required:"" help:"Tenant id."`
}

func (c *ExecutionsShowCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		exec, err := a.engine.GetExecution(ctx, c.Tenant, c.ID)
		if err != nil {
			return err
		}
		entries, err := a.engine.ActionLog(ctx, c.Tenant, c.ID)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"execution": exec, "action_log": entries})
	})
}

type ExecutionsCancelCmd struct {
	ID     string `arg:"" help:"Execution id."`
	Tenant string `required:"" help:"Tenant id."`
	Reason string `help:"Why the execution was canceled."`
	Actor  string `help:"Who canceled it." default:"cli"`
}

func (c *ExecutionsCancelCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		exec, err := a.engine.CancelExecution(ctx, c.Tenant, c.ID, c.Reason, c.Actor)
		if err != nil {
			return err
		}
		return printJSON(exec)
	})
}

type ExecutionsPayCmd struct {
	ID     string `arg:"" help:"Execution id."`
	Tenant string `required:"" help:"Tenant id."`
	Amount int64  `required:"" help:"Amount recovered in minor units."`
}

func (c *ExecutionsPayCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		exec, err := a.engine.RecordPaymentRecovery(ctx, c.Tenant, c.ID, c.Amount)
		if err != nil {
			return err
		}
		return printJSON(exec)
	})
}

type StatsCmd struct {
	Tenant    string `required:"" help:"Tenant id."`
	Recompute string `help:"Rebuild the counters of this campaign from its executions first."`
	XLSX      string `name:"xlsx" help:"Also write the report to this xlsx file." type:"path"`
}

func (c *StatsCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		if c.Recompute != "" {
			if _, err := a.engine.RecomputeCampaignStats(ctx, c.Tenant, c.Recompute); err != nil {
				return err
			}
		}
		r, err := report.Collect(ctx, a.engine, c.Tenant, time.Now())
		if err != nil {
			return err
		}
		if c.XLSX != "" {
			if err := report.SaveStatsWorkbook(c.XLSX, r); err != nil {
				return err
			}
			a.logger.Info("wrote %s", c.XLSX)
		}
		return printJSON(r)
	})
}
