package csrf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func tokenEndpointHandler(p *Protector) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/csrf-token", func(w http.ResponseWriter, r *http.Request) {
		p.TokenHandler().ServeHTTP(w, r)
	})
	return p.Protect(mux)
}

func appHandler(p *Protector) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	return p.Protect(mux)
}

func getCookieByName(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// bootstrap performs the first request of a client and returns the issued token.
func bootstrap(t *testing.T, p *Protector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/csrf-token", nil)
	tokenEndpointHandler(p).ServeHTTP(rec, req)
	res := rec.Result()
	defer res.Body.Close()

	cookie := getCookieByName(res, p.cfg.CookieName)
	if cookie == nil {
		t.Fatalf("missing csrf cookie")
	}
	return cookie.Value
}

// Ensures the first request gets a cookie and TokenHandler returns the same value.
func TestFirstRequestSetsCookieAndContext(t *testing.T) {
	p := New(Config{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/csrf-token", nil)
	tokenEndpointHandler(p).ServeHTTP(rec, req)
	res := rec.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.StatusCode)
	}

	body, _ := io.ReadAll(res.Body)
	tokenFromHandler := strings.TrimSpace(string(body))
	if tokenFromHandler == "" {
		t.Fatalf("expected non-empty token body")
	}

	cookie := getCookieByName(res, DefaultCookieName)
	if cookie == nil {
		t.Fatalf("expected Set-Cookie %q", DefaultCookieName)
	}
	if cookie.Value != tokenFromHandler {
		t.Fatalf("token mismatch: cookie=%q handler=%q", cookie.Value, tokenFromHandler)
	}
}

// The very first request passes even when it is a POST without header.
func TestFirstRequestPassesUnchecked(t *testing.T) {
	p := New(Config{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	appHandler(p).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on first contact, got %d", rec.Code)
	}
	if getCookieByName(rec.Result(), DefaultCookieName) == nil {
		t.Fatalf("expected a token cookie on first contact")
	}
}

func TestPostRequiresMatchingHeader(t *testing.T) {
	p := New(Config{})
	token := bootstrap(t, p)
	app := appHandler(p)

	recOK := httptest.NewRecorder()
	reqOK := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("{}"))
	reqOK.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})
	reqOK.Header.Set(DefaultHeaderName, token)
	app.ServeHTTP(recOK, reqOK)
	if recOK.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct token, got %d", recOK.Code)
	}
	if getCookieByName(recOK.Result(), DefaultCookieName) != nil {
		t.Fatalf("valid requests must not rotate the token")
	}

	recBad := httptest.NewRecorder()
	reqBad := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("{}"))
	reqBad.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})
	reqBad.Header.Set(DefaultHeaderName, "wrong-token")
	app.ServeHTTP(recBad, reqBad)
	if recBad.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong token, got %d", recBad.Code)
	}
}

func TestInvalidHeaderRotatesToken(t *testing.T) {
	for _, header := range []string{"", "wrong-token"} {
		t.Run(fmt.Sprintf("header=%q", header), func(t *testing.T) {
			p := New(Config{})
			old := bootstrap(t, p)
			app := appHandler(p)

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodDelete, "/submit", nil)
			if header != "" {
				req.Header.Set(DefaultHeaderName, header)
			}
			app.ServeHTTP(rec, req)

			if rec.Code != http.StatusForbidden {
				t.Fatalf("expected 403, got %d", rec.Code)
			}
			rotated := getCookieByName(rec.Result(), DefaultCookieName)
			if rotated == nil || rotated.Value == "" {
				t.Fatalf("expected a rotated token cookie")
			}
			if rotated.Value == old {
				t.Fatalf("rotated token must differ from the old one")
			}

			// the new token works, the old one is gone
			rec = httptest.NewRecorder()
			req = httptest.NewRequest(http.MethodPost, "/submit", nil)
			req.Header.Set(DefaultHeaderName, rotated.Value)
			app.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("rotated token: expected 200, got %d", rec.Code)
			}

			rec = httptest.NewRecorder()
			req = httptest.NewRequest(http.MethodPost, "/submit", nil)
			req.Header.Set(DefaultHeaderName, old)
			app.ServeHTTP(rec, req)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("old token: expected 403, got %d", rec.Code)
			}
		})
	}
}

func TestExcludedMethodsSkipValidation(t *testing.T) {
	p := New(Config{})
	bootstrap(t, p)
	app := appHandler(p)

	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(m, "/submit", nil)
		req.Header.Set(DefaultHeaderName, "garbage")
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", m, rec.Code)
		}
		if getCookieByName(rec.Result(), DefaultCookieName) != nil {
			t.Fatalf("%s: excluded methods must not rotate", m)
		}
	}
}

func TestCustomExcludedMethods(t *testing.T) {
	p := New(Config{ExcludedMethods: []string{http.MethodPost}})
	bootstrap(t, p)
	app := appHandler(p)

	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("POST is excluded, expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/submit", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("GET is no longer excluded, expected 403, got %d", rec.Code)
	}
}

func TestCustomStatusCodeAndHeader(t *testing.T) {
	p := New(Config{
		HeaderName: "X-My-Token",
		StatusCode: http.StatusTeapot,
	})
	token := bootstrap(t, p)
	app := appHandler(p)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/submit", nil)
	req.Header.Set(DefaultHeaderName, token)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot {
		t.Fatalf("token in the wrong header: expected 418, got %d", rec.Code)
	}

	token = getCookieByName(rec.Result(), DefaultCookieName).Value
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPut, "/submit", nil)
	req.Header.Set("X-My-Token", token)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestFailureHandler(t *testing.T) {
	var seen string
	p := New(Config{
		FailureHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = TokenFromContext(r.Context())
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"csrf"}`)
		}),
	})
	bootstrap(t, p)

	rec := httptest.NewRecorder()
	appHandler(p).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected failure handler status, got %d", rec.Code)
	}
	rotated := getCookieByName(rec.Result(), DefaultCookieName)
	if rotated == nil || seen != rotated.Value {
		t.Fatalf("failure handler should see the rotated token, got %q", seen)
	}
}

// Ensures cookie attributes honor configuration.
func TestCookieAttributes(t *testing.T) {
	p := New(Config{
		CookieName:     "csrf_token_test",
		CookieLifetime: time.Hour,
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/csrf-token", nil)
	tokenEndpointHandler(p).ServeHTTP(rec, req)
	res := rec.Result()
	defer res.Body.Close()

	c := getCookieByName(res, "csrf_token_test")
	if c == nil {
		t.Fatalf("expected Set-Cookie %q", "csrf_token_test")
	}
	if c.Path != "/" {
		t.Fatalf("cookie path mismatch: got %q want %q", c.Path, "/")
	}
	if c.Domain != "" {
		t.Fatalf("cookie domain should be empty, got %q", c.Domain)
	}
	if c.MaxAge != 3600 {
		t.Fatalf("cookie maxage mismatch: got %d want %d", c.MaxAge, 3600)
	}
	if !c.Secure {
		t.Fatalf("cookie should be Secure by default")
	}
	if c.HttpOnly {
		t.Fatalf("cookie must stay readable by scripts")
	}
}

func TestCookieDefaults(t *testing.T) {
	p := New(Config{CookieInsecure: true})

	rec := httptest.NewRecorder()
	tokenEndpointHandler(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/csrf-token", nil))

	c := getCookieByName(rec.Result(), DefaultCookieName)
	if c == nil {
		t.Fatalf("expected Set-Cookie %q", DefaultCookieName)
	}
	if c.MaxAge != int(DefaultCookieLifetime/time.Second) {
		t.Fatalf("expected default max-age, got %d", c.MaxAge)
	}
	if c.Secure {
		t.Fatalf("CookieInsecure should drop the Secure attribute")
	}
}

func TestStorageResolverFailure(t *testing.T) {
	p := New(Config{
		Storage: func(http.ResponseWriter, *http.Request) (Storage, error) {
			return nil, errors.New("no session backend")
		},
	})

	rec := httptest.NewRecorder()
	appHandler(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/submit", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestIssueFailure(t *testing.T) {
	p := New(Config{Storage: StaticStorage(failingStorage{err: errors.New("down")})})

	rec := httptest.NewRecorder()
	appHandler(p).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/submit", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestPerClientStorage(t *testing.T) {
	stores := map[string]*MemoryStorage{"alice": NewMemoryStorage(), "bob": NewMemoryStorage()}
	p := New(Config{
		Storage: func(_ http.ResponseWriter, r *http.Request) (Storage, error) {
			return stores[r.Header.Get("X-User")], nil
		},
	})
	app := appHandler(p)

	issue := func(user string) string {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/submit", nil)
		req.Header.Set("X-User", user)
		app.ServeHTTP(rec, req)
		return getCookieByName(rec.Result(), DefaultCookieName).Value
	}
	aliceToken := issue("alice")
	issue("bob")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/submit", nil)
	req.Header.Set("X-User", "bob")
	req.Header.Set(DefaultHeaderName, aliceToken)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("a token from another client must be rejected, got %d", rec.Code)
	}

	svc := NewService(stores["alice"], ServiceConfig{})
	if !svc.ValidateToken(context.Background(), aliceToken) {
		t.Fatalf("alice's token should still be valid in her storage")
	}
}

func TestCorruptTableRecovers(t *testing.T) {
	storage := NewMemoryStorage()
	storage.Set(context.Background(), DefaultStorageKey, []byte("garbage"))
	p := New(Config{Storage: StaticStorage(storage)})
	h := appHandler(p)

	req := httptest.NewRequest(http.MethodGet, "/submit", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 over corrupt table, got %d", rr.Code)
	}
	if getCookieByName(rr.Result(), DefaultCookieName) == nil {
		t.Fatalf("expected a fresh token cookie")
	}
}

func TestSharedStorageWarning(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Logger: slog.New(slog.NewTextHandler(&buf, nil))})

	if !strings.Contains(buf.String(), "no storage resolver") {
		t.Fatalf("expected a warning about shared storage, got %q", buf.String())
	}

	buf.Reset()
	New(Config{
		Storage: StaticStorage(NewMemoryStorage()),
		Logger:  slog.New(slog.NewTextHandler(&buf, nil)),
	})
	if buf.Len() != 0 {
		t.Fatalf("unexpected log output: %q", buf.String())
	}
}
