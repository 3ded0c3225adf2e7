package notify

import (
	"context"
	"fmt"

	"github.com/goliatone/go-dunning"
)

// LogExecutor records actions in the log instead of delivering them. It
// backs dry runs and deployments without a broker.
type LogExecutor struct {
	logger dunning.Logger
}

func NewLogExecutor(logger dunning.Logger) *LogExecutor {
	return &LogExecutor{logger: dunning.NormalizeLogger(logger)}
}

func (e *LogExecutor) Execute(ctx context.Context, req dunning.ActionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dunning.WithLoggerFields(e.logger.WithContext(ctx), map[string]any{
		"tenant_id":    req.TenantID,
		"execution_id": req.ExecutionID,
		"invoice_id":   req.InvoiceID,
		"step":         req.StepNumber,
	}).Info("dry run: %s action (template %q, attempt %d)", req.Action.Kind, req.Action.TemplateRef(), req.Attempt)
	return fmt.Sprintf("%s logged", req.Action.Kind), nil
}
