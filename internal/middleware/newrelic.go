package middleware

import (
	"context"

	"github.com/newrelic/go-agent/v3/newrelic"

	"recovery/internal/realtime"
)

// Instrument records one New Relic transaction per dispatched event. A nil
// app leaves handlers untouched.
func Instrument(app *newrelic.Application) realtime.Middleware {
	return func(event realtime.Event, next realtime.HandlerFunc) realtime.HandlerFunc {
		if app == nil {
			return next
		}
		name := "WS " + string(event)
		return func(ctx context.Context, s *realtime.Session, env realtime.Envelope) (any, error) {
			txn := app.StartTransaction(name)
			defer txn.End()

			txn.AddAttribute("session", s.ID())
			txn.AddAttribute("identity", s.IdentityID())
			txn.AddAttribute("role", string(s.Role()))
			if env.RequestID != "" {
				txn.AddAttribute("requestId", env.RequestID)
			}

			result, err := next(newrelic.NewContext(ctx, txn), s, env)
			if err != nil {
				txn.NoticeError(err)
			}
			return result, err
		}
	}
}
