package csrf

import (
	"context"
	"net/http"
	"time"
)

// Protect wraps the given next http.Handler and enforces CSRF protection.
//
// Behavior:
//   - No token stored for the client yet: a new single token that never
//     expires is issued in the cookie and the request passes.
//   - Excluded methods (GET/HEAD/OPTIONS by default) pass without looking at
//     the header.
//   - Otherwise the header must carry a stored, unexpired token. On failure the
//     token is rotated and the request is answered with the configured status.
//
// Params:
// - next: downstream handler to be executed after CSRF checks pass.
//
// Returns:
// - An http.Handler that performs the CSRF logic before delegating to next.
func (p *Protector) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := p.cfg
		ctx := r.Context()

		storage, err := cfg.Storage(w, r)
		if err != nil {
			cfg.Logger.Error("csrf storage unavailable", "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		svc := NewService(storage, cfg.Service)

		// 1) first contact: hand out a token and let the request through
		if !svc.HasToken(ctx) {
			tok, err := p.sendNewToken(ctx, w, svc)
			if err != nil {
				cfg.Logger.Error("csrf token issue failed", "error", err)
				http.Error(w, "failed to set CSRF cookie", http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(contextWithToken(ctx, tok)))
			return
		}

		// inject the client's current token for downstream handlers
		if c, err := r.Cookie(cfg.CookieName); err == nil && c.Value != "" {
			r = r.WithContext(contextWithToken(ctx, c.Value))
		}

		// 2) excluded methods never read the header
		if p.excluded[r.Method] {
			next.ServeHTTP(w, r)
			return
		}

		// 3) validate the echoed header, rotate on failure
		if !svc.ValidateToken(ctx, r.Header.Get(cfg.HeaderName)) {
			tok, err := p.sendNewToken(ctx, w, svc)
			if err != nil {
				cfg.Logger.Error("csrf token rotation failed", "error", err)
				http.Error(w, "failed to set CSRF cookie", http.StatusInternalServerError)
				return
			}
			cfg.Logger.Debug("csrf validation failed", "method", r.Method, "path", r.URL.Path)
			p.reject(w, r.WithContext(contextWithToken(ctx, tok)))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// sendNewToken stores a single token that never expires and sets it as the
// cookie. The cookie stays readable by scripts so they can echo it back.
func (p *Protector) sendNewToken(ctx context.Context, w http.ResponseWriter, svc *Service) (string, error) {
	cfg := p.cfg

	tok, err := svc.NewToken(ctx, WithLifetime(0), Single())
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    tok,
		Path:     "/",
		Domain:   "",
		MaxAge:   int(cfg.CookieLifetime / time.Second),
		Expires:  time.Now().Add(cfg.CookieLifetime),
		Secure:   !cfg.CookieInsecure,
		HttpOnly: false,
	})

	return tok, nil
}

func (p *Protector) reject(w http.ResponseWriter, r *http.Request) {
	if p.cfg.FailureHandler != nil {
		p.cfg.FailureHandler.ServeHTTP(w, r)
		return
	}
	http.Error(w, http.StatusText(p.cfg.StatusCode), p.cfg.StatusCode)
}

// TokenFromContext returns the CSRF token stored in ctx, if present.
//
// Params:
// - ctx: context potentially containing a token set by the middleware.
//
// Returns:
// - token (string) and a boolean indicating whether a token was found.
func TokenFromContext(ctx context.Context) (string, bool) {
	return tokenFromContext(ctx)
}

// TokenHandler returns an HTTP handler that writes the current CSRF token.
// This is useful for SPAs to fetch the token and attach it to subsequent requests.
//
// Returns:
// - http.Handler that responds with the token in the response body (text/plain).
func (p *Protector) TokenHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok, ok := TokenFromContext(r.Context()); ok {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Write([]byte(tok))
			return
		}
		http.Error(w, "no token", http.StatusInternalServerError)
	})
}
