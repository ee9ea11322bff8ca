package observability

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Trace holds the identifier and the Logger attached to a long running operation.
type Trace struct {
	Id  string
	Obs *Observability
}

// StartTrace returns a Trace whose Logger extends ctx Logger with a new trace id stored under key,
// followed by args.
//
// It also returns a child Context that carries the Trace Observability.
func StartTrace(ctx context.Context, key string, args ...any) (context.Context, Trace) {
	tId := uuid.New().String()
	log := GetObservability(ctx).Log().With(key, tId)
	if len(args) > 0 {
		log = log.With(args...)
	}
	tr := Trace{Id: tId, Obs: &Observability{Logger: log}}
	return SetObservability(ctx, tr.Obs), tr
}

// Log returns the Trace Logger.
func (self Trace) Log() *slog.Logger {
	return self.Obs.Log()
}
