package tracking

import (
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// Track executes fn as one run of sink: Start, then fn (which logs its steps), then Finish with
// the summary returned by fn.
//
// The error of fn is returned, and takes precedence over errors of the sink.
func Track(sink Sink, run RunInfo, fn func() (summary map[string]float64, err error)) error {
	if err := sink.Start(run); err != nil {
		return errors.WithMessagef(err, "failed to start run %q", run.Name)
	}
	summary, runErr := fn()
	finishErr := sink.Finish(summary, runErr)
	if runErr != nil {
		return runErr
	}
	return errors.WithMessagef(finishErr, "failed to finish run %q", run.Name)
}

// ContextConfig returns the hyperparameters set in ctx, keyed by name. Parameters set in
// sub-scopes are prefixed with their scope.
func ContextConfig(ctx *context.Context) map[string]any {
	config := make(map[string]any)
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope != context.RootScope {
			key = scope + context.ScopeSeparator + key
		}
		config[key] = value
	})
	return config
}
