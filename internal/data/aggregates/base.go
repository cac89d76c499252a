package aggregates

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	domainagg "github.com/yungbote/coursebuilder/internal/domain/aggregates"
	"github.com/yungbote/coursebuilder/internal/platform/dbctx"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

var tracer = otel.Tracer("github.com/yungbote/coursebuilder/internal/data/aggregates")

type BaseDeps struct {
	DB     *gorm.DB
	Log    *logger.Logger
	Runner TxRunner
	Hooks  Hooks
}

func (d BaseDeps) withDefaults() BaseDeps {
	if d.Runner == nil {
		d.Runner = NewGormTxRunner(d.DB)
	}
	if d.Hooks == nil {
		d.Hooks = noopHooks{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return d
}

func executeWrite(ctx context.Context, deps BaseDeps, op string, fn func(dbc dbctx.Context) error) error {
	start := time.Now()
	deps = deps.withDefaults()
	op = strings.TrimSpace(op)
	if op == "" {
		op = "aggregate.write"
	}
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	err := deps.Runner.InTx(ctx, fn)
	mapped := MapError(op, err)
	status := record(deps, op, mapped, time.Since(start))

	span.SetAttributes(attribute.String("aggregate.status", status))
	if mapped != nil {
		span.RecordError(mapped)
		span.SetStatus(codes.Error, status)
	}
	return mapped
}

// rejectEarly reports a failure found before the transaction started
// (validation, existence, permission) through the same hooks as a write.
func rejectEarly(deps BaseDeps, op string, err error) error {
	deps = deps.withDefaults()
	mapped := MapError(op, err)
	record(deps, op, mapped, 0)
	return mapped
}

func record(deps BaseDeps, op string, mapped error, dur time.Duration) string {
	status := "success"
	if mapped != nil {
		status = aggregateErrorStatus(mapped)
		if domainagg.IsCode(mapped, domainagg.CodeConflict) {
			deps.Hooks.IncConflict(op)
		}
		if domainagg.IsCode(mapped, domainagg.CodeRetryable) {
			deps.Hooks.IncRetry(op)
		}
	}
	deps.Hooks.ObserveOperation(op, status, dur)
	return status
}

func aggregateErrorStatus(err error) string {
	if err == nil {
		return "success"
	}
	code := strings.TrimSpace(string(domainagg.CodeOf(err)))
	if code == "" {
		code = strings.TrimSpace(string(domainagg.CodeOf(MapError("aggregate.status", err))))
	}
	if code == "" {
		return "failure"
	}
	return code
}
