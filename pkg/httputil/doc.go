// Package httputil holds the request and response plumbing shared by the
// trellis handlers.
//
// Errors are written by kind, so handlers never pick status codes:
//
//	member, err := h.members.Get(ctx, id)
//	if err != nil {
//		httputil.WriteError(w, r, err) // NotFound -> 404, Transport -> 502
//		return
//	}
//
// Route variables and query parameters parse into validation errors:
//
//	projectID, err := httputil.ParsePathUUID(r, "project")
//	ownerTeam, err := httputil.ParseQueryUUID(r, "owner_team")
//
// Middleware composes with Chain; the first argument runs outermost:
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
