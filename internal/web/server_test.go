package web

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/sodown4thecause/CRM/internal/crm"
)

func newTestServer(t *testing.T) (*httptest.Server, *crm.Store) {
	t.Helper()

	store, err := crm.NewStore(filepath.Join(t.TempDir(), "test.db"), slog.Default())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mux := http.NewServeMux()
	NewServer(store, "crm_session", slog.Default()).Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, store
}

// noRedirectClient lets tests observe the redirect itself.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func getWithSession(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()

	req, err := http.NewRequest("GET", ts.URL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.AddCookie(&http.Cookie{Name: "crm_session", Value: "1"})

	resp, err := noRedirectClient().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		b.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return b.String()
}

func TestSessionGateRedirects(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/", "/contacts", "/leads"} {
		resp, err := noRedirectClient().Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusSeeOther {
			t.Errorf("GET %s status = %d, want redirect", path, resp.StatusCode)
		}
		if loc := resp.Header.Get("Location"); loc != "/login" {
			t.Errorf("GET %s location = %q", path, loc)
		}
	}
}

func TestLoginSetsSessionCookie(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := noRedirectClient().Post(ts.URL+"/login", "", nil)
	if err != nil {
		t.Fatalf("POST /login: %v", err)
	}
	resp.Body.Close()

	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == "crm_session" && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("login did not set the session cookie")
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("location = %q", loc)
	}
}

func TestDashboardRendersStats(t *testing.T) {
	ts, store := newTestServer(t)

	if _, err := store.CreateContact(&crm.Contact{
		Name: "Ada Lovelace", Email: "ada@example.com", Status: crm.StatusCustomer,
	}); err != nil {
		t.Fatalf("CreateContact: %v", err)
	}

	resp := getWithSession(t, ts, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body := readBody(t, resp)
	if !strings.Contains(body, "Ada Lovelace") {
		t.Error("recent contacts missing from dashboard")
	}
	if !strings.Contains(body, "CRM Assistant") {
		t.Error("chat widget missing from page")
	}
}

func TestContactsPageFiltersByStatus(t *testing.T) {
	ts, store := newTestServer(t)

	for _, c := range []*crm.Contact{
		{Name: "Lead Person", Email: "lead@example.com", Status: crm.StatusLead},
		{Name: "Customer Person", Email: "cust@example.com", Status: crm.StatusCustomer},
	} {
		if _, err := store.CreateContact(c); err != nil {
			t.Fatalf("CreateContact: %v", err)
		}
	}

	resp := getWithSession(t, ts, "/contacts?status=customer")
	body := readBody(t, resp)

	if !strings.Contains(body, "Customer Person") {
		t.Error("filtered contact missing")
	}
	if strings.Contains(body, "Lead Person") {
		t.Error("filter leaked other statuses")
	}
}

func TestContactDetailRendersNotesMarkdown(t *testing.T) {
	ts, store := newTestServer(t)

	created, err := store.CreateContact(&crm.Contact{
		Name:  "Grace Hopper",
		Email: "grace@example.com",
		Notes: "Met at **GopherCon**.",
	})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}

	resp := getWithSession(t, ts, "/contacts/"+strconv.FormatInt(created.ID, 10))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	body := readBody(t, resp)
	if !strings.Contains(body, "<strong>GopherCon</strong>") {
		t.Error("notes markdown not rendered")
	}
}

func TestContactDetailNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := getWithSession(t, ts, "/contacts/999")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}

	resp = getWithSession(t, ts, "/contacts/not-a-number")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("non-numeric id status = %d, want 404", resp.StatusCode)
	}
}

func TestLeadsPageJoinsContacts(t *testing.T) {
	ts, store := newTestServer(t)

	contact, err := store.CreateContact(&crm.Contact{
		Name: "Ada", Email: "ada@example.com", Company: "Analytical Engines",
	})
	if err != nil {
		t.Fatalf("CreateContact: %v", err)
	}
	if _, err := store.CreateLead(&crm.Lead{ContactID: contact.ID, Status: "qualified", Source: "referral"}); err != nil {
		t.Fatalf("CreateLead: %v", err)
	}

	resp := getWithSession(t, ts, "/leads")
	body := readBody(t, resp)

	if !strings.Contains(body, "Ada") || !strings.Contains(body, "Analytical Engines") {
		t.Error("lead row missing joined contact fields")
	}
	if !strings.Contains(body, "qualified") {
		t.Error("lead status missing")
	}
}
