package session

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/CodeWithAsheville/zipcase/pkg/types"
	"github.com/CodeWithAsheville/zipcase/pkg/waf"
)

type fakeCredentialStore struct {
	creds    *types.PortalCredentials
	session  *types.PortalSession
	savedErr error
}

func (f *fakeCredentialStore) GetPortalCredentials(_ context.Context, _ string) (*types.PortalCredentials, error) {
	return f.creds, nil
}

func (f *fakeCredentialStore) GetSession(_ context.Context, _ string) (*types.PortalSession, error) {
	return f.session, nil
}

func (f *fakeCredentialStore) SaveSession(_ context.Context, s *types.PortalSession) error {
	f.session = s
	return f.savedErr
}

func TestExtractInputValue(t *testing.T) {
	body := `<html><body><form>
		<input type="hidden" name="__RequestVerificationToken" value="tok-123" />
		<input type="text" name="UserName" value="" />
	</form></body></html>`

	if got := extractInputValue(body, "__RequestVerificationToken"); got != "tok-123" {
		t.Errorf("extractInputValue() = %q, want %q", got, "tok-123")
	}
	if got := extractInputValue(body, "missing"); got != "" {
		t.Errorf("extractInputValue() = %q, want empty", got)
	}
}

func TestJarRoundtrip(t *testing.T) {
	portalURL := "https://portal.example.test"
	jar, err := jarFromJSON(`[{"name":"FedAuth","value":"abc","domain":"portal.example.test","path":"/"}]`, portalURL)
	if err != nil {
		t.Fatalf("jarFromJSON() error = %v", err)
	}

	serialized, err := jarToJSON(jar, portalURL)
	if err != nil {
		t.Fatalf("jarToJSON() error = %v", err)
	}
	if !strings.Contains(serialized, "FedAuth") {
		t.Errorf("serialized jar = %q, want it to contain FedAuth", serialized)
	}
}

func TestManager_GetOrCreate_ReturnsCachedSession(t *testing.T) {
	ctx := context.Background()
	store := &fakeCredentialStore{
		session: &types.PortalSession{
			UserID:    "user-1",
			CookieJar: `[{"name":"FedAuth","value":"cached","domain":"portal.example.test","path":"/"}]`,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}
	m := NewManager("https://portal.example.test", store, nil, waf.StubSolver{})

	jar, err := m.GetOrCreate(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	u, err := url.Parse("https://portal.example.test")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	found := false
	for _, c := range jar.Cookies(u) {
		if c.Name == "FedAuth" && c.Value == "cached" {
			found = true
		}
	}
	if !found {
		t.Error("expected cached FedAuth cookie to be returned unmodified")
	}
}

func TestManager_GetOrCreate_RefusesBadCredentials(t *testing.T) {
	ctx := context.Background()
	store := &fakeCredentialStore{
		creds: &types.PortalCredentials{UserID: "user-1", Username: "u", Password: "p", IsBad: true},
	}
	m := NewManager("https://portal.example.test", store, nil, waf.StubSolver{})

	_, err := m.GetOrCreate(ctx, "user-1")
	if err == nil {
		t.Fatal("GetOrCreate() should fail fast when credentials are marked invalid")
	}
	var authErr *AuthError
	if !asAuthError(err, &authErr) {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
}

func TestManager_GetOrCreate_NoCredentials(t *testing.T) {
	ctx := context.Background()
	store := &fakeCredentialStore{}
	m := NewManager("https://portal.example.test", store, nil, waf.StubSolver{})

	_, err := m.GetOrCreate(ctx, "user-1")
	if err == nil {
		t.Fatal("GetOrCreate() should fail when no credentials are on file")
	}
}

func asAuthError(err error, target **AuthError) bool {
	ae, ok := err.(*AuthError)
	if ok {
		*target = ae
	}
	return ok
}
