// Package api serves the membership and permission core over HTTP.
//
// Every route except /healthz, /readyz and /metrics requires a bearer ID
// token. Project administration (members, role whitelists, visibility
// writes) is limited to the project owner and platform superusers; roles
// and accessors are scoped to the account that owns them. Permission checks
// always answer for the caller.
//
//	server := api.NewServer(api.Deps{
//		Checker:  checker,
//		Projects: rbacStore,
//		Members:  memberService,
//		Verifier: verifier,
//		...
//	})
//	http.ListenAndServe(":8080", server)
package api
