package html

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
)

func newJar(t *testing.T) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New: %v", err)
	}
	return jar
}

func TestFetchCaseIDFromPortal_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Portal/SmartSearch/SmartSearch/SmartSearch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/Portal/SmartSearch/SmartSearchResults", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div><a class="caseLink other" data-caseid="abc-123">24CR012345-001</a></div>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)
	caseID, err := client.FetchCaseIDFromPortal(context.Background(), "24CR012345-001", newJar(t), "")
	if err != nil {
		t.Fatalf("FetchCaseIDFromPortal() error = %v", err)
	}
	if caseID != "abc-123" {
		t.Errorf("caseID = %q, want abc-123", caseID)
	}
}

func TestFetchCaseIDFromPortal_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Portal/SmartSearch/SmartSearch/SmartSearch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/Portal/SmartSearch/SmartSearchResults", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div>no results</div>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.FetchCaseIDFromPortal(context.Background(), "24CR012345-001", newJar(t), "")
	if err == nil {
		t.Fatal("expected a not-found error")
	}
	fetchErr, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if fetchErr.IsSystemError {
		t.Error("a zero-match result should not be a system error")
	}
}

func TestFetchCaseIDFromPortal_SystemError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Portal/SmartSearch/SmartSearch/SmartSearch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/Portal/SmartSearch/SmartSearchResults", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`Smart Search is having trouble processing your search`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.FetchCaseIDFromPortal(context.Background(), "24CR012345-001", newJar(t), "")
	fetchErr, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("expected *FetchError, got %T", err)
	}
	if !fetchErr.IsSystemError {
		t.Error("expected the trouble-processing marker to be a system error")
	}
}

func TestFetchCasesByName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Portal/SmartSearch/SmartSearch/SmartSearch", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "SmartSearchCriteria", Value: "x"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/Portal/SmartSearch/SmartSearchResults", func(w http.ResponseWriter, r *http.Request) {
		body := `<script>
		jQuery("#Grid").kendoGrid({
		"dataSource": {
		"data":{"Data":[{"CaseResults":[
			{"EncryptedCaseId":"id-1","CaseNumber":"24CR012345-001"},
			{"EncryptedCaseId":"id-2","CaseNumber":"24CR012346-001"},
			{"EncryptedCaseId":"id-1","CaseNumber":"24CR012345-001"}
		]}],"Total":2}}
		});
		</script>`
		w.Write([]byte(body))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)
	cases, err := client.FetchCasesByName(context.Background(), "Smith, John", newJar(t), "", NameSearchOptions{})
	if err != nil {
		t.Fatalf("FetchCasesByName() error = %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("len(cases) = %d, want 2 (deduplicated)", len(cases))
	}
}

func TestFetchCasesByName_MissingCriteriaCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Portal/SmartSearch/SmartSearch/SmartSearch", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.FetchCasesByName(context.Background(), "Smith, John", newJar(t), "", NameSearchOptions{})
	if err == nil {
		t.Fatal("expected an error when SmartSearchCriteria cookie is absent")
	}
}
