package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureOwner(t *testing.T, isDev bool, req *http.Request) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var got string
	h := Middleware(isDev)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = OwnerIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return got, rec
}

func TestMiddlewareMintsOwnerID(t *testing.T) {
	got, rec := captureOwner(t, true, httptest.NewRequest(http.MethodGet, "/", nil))
	if !IsValidOwnerID(got) {
		t.Fatalf("expected minted owner id, got %q", got)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != got {
		t.Fatalf("expected owner cookie %q, got %+v", got, cookies)
	}
	if cookies[0].Secure {
		t.Fatal("expected insecure cookie in development")
	}
	if rec.Header().Get(OwnerHeaderName) != got {
		t.Fatalf("expected owner header %q", got)
	}
}

func TestMiddlewareReusesCookie(t *testing.T) {
	id, _ := NewOwnerID()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: OwnerCookieName, Value: id})

	got, rec := captureOwner(t, false, req)
	if got != id {
		t.Fatalf("expected %q, got %q", id, got)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Fatalf("expected refreshed secure cookie, got %+v", c)
	}
}

func TestMiddlewarePrefersHeader(t *testing.T) {
	headerID, _ := NewOwnerID()
	cookieID, _ := NewOwnerID()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(OwnerHeaderName, headerID)
	req.AddCookie(&http.Cookie{Name: OwnerCookieName, Value: cookieID})

	got, _ := captureOwner(t, true, req)
	if got != headerID {
		t.Fatalf("expected header id %q, got %q", headerID, got)
	}
}

func TestMiddlewareIgnoresMalformedCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: OwnerCookieName, Value: "not-an-id"})

	got, _ := captureOwner(t, true, req)
	if got == "not-an-id" || !IsValidOwnerID(got) {
		t.Fatalf("expected fresh owner id, got %q", got)
	}
}
