package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CodeWithAsheville/zipcase/pkg/waf"
)

func newFakePortalServer(t *testing.T, validPassword string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/Portal/Account/Login", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/idp/login", http.StatusFound)
	})

	mux.HandleFunc("/idp/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`<form><input name="__RequestVerificationToken" value="csrf-token"/></form>`))
			return
		}

		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.FormValue("Password") != validPassword {
			w.Write([]byte(`Invalid Email or password.`))
			return
		}
		w.Write([]byte(`<form><input name="wresult" value="signed-token"/></form>`))
	})

	mux.HandleFunc("/Portal", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "FedAuth", Value: "a"})
		http.SetCookie(w, &http.Cookie{Name: "FedAuth1", Value: "b"})
		w.Write([]byte(`Welcome, Test User`))
	})

	return httptest.NewServer(mux)
}

func TestManager_Authenticate_Success(t *testing.T) {
	ctx := context.Background()
	server := newFakePortalServer(t, "correct-password")
	defer server.Close()

	m := NewManager(server.URL, nil, nil, waf.StubSolver{})
	jar, err := m.Authenticate(ctx, "user@example.com", "correct-password")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if jar == nil {
		t.Fatal("Authenticate() returned a nil jar on success")
	}
}

func TestManager_Authenticate_InvalidCredentials(t *testing.T) {
	ctx := context.Background()
	server := newFakePortalServer(t, "correct-password")
	defer server.Close()

	m := NewManager(server.URL, nil, nil, waf.StubSolver{})
	_, err := m.Authenticate(ctx, "user@example.com", "wrong-password")
	if err == nil {
		t.Fatal("Authenticate() should fail with the wrong password")
	}
	var authErr *AuthError
	if !asAuthError(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
}
