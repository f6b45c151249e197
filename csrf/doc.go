// Package csrf provides CSRF protection for Go net/http servers using a
// server-side token store and a script-readable cookie echoed back in a header.
//
// How it works
//   - Tokens are kept by a Service in a caller-provided Storage, JSON-encoded
//     under one key ("csrftokens") and partitioned by namespace ("session").
//     A namespace holds either a single token or a bounded list of tokens.
//   - The Protector middleware makes sure every client has a token. The first
//     request of a client gets a new token in the XSRF-TOKEN cookie.
//   - Excluded methods (GET, HEAD, OPTIONS) pass untouched. Every other
//     request must send the token back in the X-XSRF-TOKEN header. A missing,
//     unknown or expired token is rejected with 403 and a fresh token is issued.
//     Comparison is done in constant time.
//
// # Configuration
//
// Behavior is driven by Config; zero fields take the Default* constants. Key
// fields include:
//   - CookieName, CookieLifetime, CookieInsecure
//   - HeaderName, StatusCode, FailureHandler, ExcludedMethods
//   - Storage, a StorageResolver returning the client's Storage
//   - Service: TokenLifetime, MaxTokens, StorageKey, Namespace
//
// Typical usage
//
//	p := csrf.New(csrf.Config{
//	    Storage: session.Resolver(redisstore.New(client, 24*time.Hour), session.Config{}),
//	})
//	protected := p.Protect(appMux)
//	http.ListenAndServe(":8080", protected)
//
// The Service can also be used directly, e.g. for per-form tokens:
//
//	svc := csrf.NewService(storage, csrf.ServiceConfig{Namespace: "forms"})
//	tok, err := svc.NewToken(ctx, csrf.WithLifetime(10*time.Minute))
//	...
//	ok := svc.ValidateToken(ctx, r.FormValue("csrf_token"))
package csrf
