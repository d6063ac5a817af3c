package observability

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/platinummonkey/trellis/pkg/contextkeys"
)

// RecoverPanic logs a recovered panic with its stack. Call it deferred in
// background goroutines; the panic is not re-raised.
//
//	go func() {
//	    defer observability.RecoverPanic(logger, "team sync")
//	    ...
//	}()
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// MustRecover converts a recovered value into an error
func MustRecover(r any) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}

func logPanic(logger *Logger, where string, r any) {
	logger.WithField("panic", fmt.Sprint(r)).
		WithField("stack", string(debug.Stack())).
		WithField("context", where).
		Error("panic recovered")
}

// RecoveryMiddleware turns a handler panic into a JSON 500
func RecoveryMiddleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				ctx := r.Context()
				if _, ok := ctx.Value(contextkeys.LoggerKey).(*Logger); !ok {
					ctx = WithLogger(ctx, logger)
				}
				logPanic(FromContext(ctx), r.Method+" "+r.URL.Path, rec)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal server error"}` + "\n"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
