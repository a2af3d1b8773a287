package storage

import (
	"context"

	"github.com/phrazzld/offload/internal/executor"
	"github.com/phrazzld/offload/internal/redact"
	"github.com/phrazzld/offload/internal/task"
)

// Target returns an async executor target that uploads every task through b
// and runs the expiry sweep on each idle tick. The balancer is connected on
// first use.
func Target(b *Balancer) executor.Target {
	ensure := func(ctx context.Context) {
		if b.IsConnected() {
			return
		}
		if err := b.Connect(ctx); err != nil {
			b.logger.Error("storage balancer connected with errors", "error", redact.Error(err))
		}
	}

	upload := func(ctx context.Context, t *task.Task) *task.Task {
		ensure(ctx)
		return b.Upload(ctx, t)
	}

	sweep := func(ctx context.Context) {
		if !b.IsConnected() {
			return
		}
		b.CheckTimer(ctx)
	}

	return executor.AsyncTarget(upload).WithIdle(executor.DefaultIdleEvery, sweep)
}
