// Package middleware provides the HTTP middleware that authenticates callers.
//
// IdentityMiddleware reads a Bearer token, verifies it with an
// identity.Verifier and stores the resulting *identity.Identity in the
// request context:
//
//	router.Use(middleware.NewIdentityMiddleware(verifier, logger).Handler)
//
// Handlers read the caller with identity.FromContext. RequireSuperuser guards
// platform administration routes.
package middleware
