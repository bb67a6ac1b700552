// Package saga 提供 offer saga 的通用执行器：步骤顺序执行，失败时按错误来源查表补偿。
package saga

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/metrics"
	"github.com/SircoGeji/samoc-server-sub003/internal/pkg/remote"
)

// Step 是 saga 中的一个正向步骤。成功后 Arms 中的补偿才会生效。
type Step struct {
	Name string
	// Origin 用于标记步骤返回的未分类错误。
	Origin remote.Origin
	Run    func(ctx context.Context, oc *OfferContext) error
	Arms   []Compensation
}

type Runner struct {
	Compensator *Compensator
	Metrics     *metrics.Saga
}

// Execute 顺序执行 steps，在第一个错误处停止。
// 繁忙/离线错误直接返回不做补偿，其余错误交给 Compensator。
func (r *Runner) Execute(ctx context.Context, oc *OfferContext, steps []Step) error {
	for _, step := range steps {
		stepCtx, span := oc.Tracer.Start(ctx, "saga."+step.Name)
		started := time.Now()
		err := step.Run(stepCtx, oc)
		r.Metrics.ObserveStep(step.Name, started)

		if err != nil {
			err = remote.Wrap(step.Origin, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()

			oc.Log.Warn().Err(err).Str("step", step.Name).Msg("saga step failed")
			if remote.IsRetryable(err) {
				return r.Compensator.Release(ctx, oc, err)
			}
			return r.Compensator.Rollback(ctx, oc, err)
		}

		oc.Arm(step.Arms...)
		span.End()
		oc.Log.Debug().Str("step", step.Name).Msg("saga step done")
	}
	return nil
}
