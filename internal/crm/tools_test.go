package crm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/sodown4thecause/CRM/internal/tools"
)

func newTestRegistry(t *testing.T) (*tools.Registry, *Store) {
	t.Helper()

	store := newTestStore(t)
	registry := tools.NewRegistry(slog.Default())
	RegisterTools(registry, store, slog.Default())
	return registry, store
}

func execute(t *testing.T, registry *tools.Registry, name, args string) map[string]any {
	t.Helper()

	result := registry.Execute(context.Background(), name, json.RawMessage(args))

	var decoded map[string]any
	if err := json.Unmarshal([]byte(result), &decoded); err != nil {
		t.Fatalf("tool %s returned invalid JSON %q: %v", name, result, err)
	}
	return decoded
}

func TestToolCatalog(t *testing.T) {
	registry, _ := newTestRegistry(t)

	want := []string{
		"createContact", "createLead", "deleteContact",
		"getContactById", "getContactStats", "getLeadStats",
		"listAllContacts", "searchContacts", "updateContact",
	}
	got := registry.Names()
	if len(got) != len(want) {
		t.Fatalf("registered %d tools, want %d: %v", len(got), len(want), got)
	}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("tool[%d] = %q, want %q", i, got[i], name)
		}
	}
}

func TestToolDefinitionsStable(t *testing.T) {
	registry, _ := newTestRegistry(t)

	defs := registry.List()
	for _, d := range defs {
		if d.Type != "function" {
			t.Errorf("tool %s type = %q, want function", d.Function.Name, d.Type)
		}
		if d.Function.Description == "" {
			t.Errorf("tool %s has no description", d.Function.Name)
		}
		if d.Function.Parameters["type"] != "object" {
			t.Errorf("tool %s parameters not an object schema", d.Function.Name)
		}
	}
}

func TestCreateContactTool(t *testing.T) {
	registry, store := newTestRegistry(t)

	result := execute(t, registry, "createContact",
		`{"name": "Ada Lovelace", "email": "ada@example.com", "company": "Analytical Engines"}`)

	if result["success"] != true {
		t.Fatalf("expected success, got %v", result)
	}

	contact := result["contact"].(map[string]any)
	if contact["name"] != "Ada Lovelace" || contact["status"] != "lead" {
		t.Errorf("unexpected contact: %v", contact)
	}

	stored, err := store.GetContactByEmail("ada@example.com")
	if err != nil {
		t.Fatalf("contact not persisted: %v", err)
	}
	if stored.Company != "Analytical Engines" {
		t.Errorf("company = %q", stored.Company)
	}
}

func TestCreateContactToolValidation(t *testing.T) {
	registry, store := newTestRegistry(t)

	tests := []struct {
		name string
		args string
		want string
	}{
		{"missing name", `{"email": "a@example.com"}`, "name is required"},
		{"bad email", `{"name": "Ada", "email": "not-an-email"}`, "valid email"},
		{"bad status", `{"name": "Ada", "email": "ada@example.com", "status": "vip"}`, "invalid status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := execute(t, registry, "createContact", tt.args)
			if result["success"] != false {
				t.Fatalf("expected failure, got %v", result)
			}
			if msg, _ := result["error"].(string); !strings.Contains(msg, tt.want) {
				t.Errorf("error = %q, want substring %q", msg, tt.want)
			}
		})
	}

	stats, err := store.ContactStats()
	if err != nil {
		t.Fatalf("ContactStats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("invalid inputs reached the store: %d rows", stats.Total)
	}
}

func TestCreateContactToolDuplicate(t *testing.T) {
	registry, store := newTestRegistry(t)

	execute(t, registry, "createContact", `{"name": "Ada", "email": "ada@example.com"}`)
	result := execute(t, registry, "createContact", `{"name": "Other", "email": "ada@example.com"}`)

	if result["success"] != false {
		t.Fatalf("expected duplicate failure, got %v", result)
	}
	if msg, _ := result["error"].(string); !strings.Contains(msg, "already exists") {
		t.Errorf("error = %q, want duplicate message", msg)
	}

	stats, _ := store.ContactStats()
	if stats.Total != 1 {
		t.Errorf("store has %d rows after duplicate insert, want 1", stats.Total)
	}
}

func TestSearchContactsToolProjection(t *testing.T) {
	registry, _ := newTestRegistry(t)

	execute(t, registry, "createContact",
		`{"name": "Ada Lovelace", "email": "ada@acme.test", "company": "Acme", "notes": "met at conference", "value": 9000}`)

	result := execute(t, registry, "searchContacts", `{"query": "acme"}`)

	if result["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", result["count"])
	}
	contacts := result["contacts"].([]any)
	first := contacts[0].(map[string]any)

	// Search returns a bounded projection, never notes or value.
	if _, ok := first["notes"]; ok {
		t.Error("projection leaked notes field")
	}
	if _, ok := first["value"]; ok {
		t.Error("projection leaked value field")
	}
	if first["email"] != "ada@acme.test" {
		t.Errorf("email = %v", first["email"])
	}
}

func TestSearchContactsToolEmailSubstring(t *testing.T) {
	registry, _ := newTestRegistry(t)

	execute(t, registry, "createContact",
		`{"name": "Grace Hopper", "email": "grace@navy.test"}`)

	// The query matches only the email, not name or company.
	result := execute(t, registry, "searchContacts", `{"query": "navy"}`)
	if result["count"] != float64(1) {
		t.Errorf("count = %v, want 1", result["count"])
	}
}

func TestGetContactByIDToolNotFound(t *testing.T) {
	registry, _ := newTestRegistry(t)

	result := execute(t, registry, "getContactById", `{"id": 404}`)
	if result["success"] != false {
		t.Fatalf("expected not-found failure, got %v", result)
	}
	if msg, _ := result["error"].(string); !strings.Contains(msg, "not found") {
		t.Errorf("error = %q", msg)
	}
}

func TestUpdateContactToolEmptyPatch(t *testing.T) {
	registry, store := newTestRegistry(t)

	created := mustCreate(t, store, &Contact{Name: "Ada", Email: "ada@example.com"})
	before, _ := store.GetContact(created.ID)

	result := execute(t, registry, "updateContact", `{"id": `+jsonInt(created.ID)+`}`)
	if result["success"] != false {
		t.Fatalf("expected rejection, got %v", result)
	}
	if msg, _ := result["error"].(string); !strings.Contains(msg, "no fields") {
		t.Errorf("error = %q", msg)
	}

	after, _ := store.GetContact(created.ID)
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("empty patch touched the row")
	}
}

func TestUpdateContactTool(t *testing.T) {
	registry, store := newTestRegistry(t)

	created := mustCreate(t, store, &Contact{Name: "Ada", Email: "ada@example.com"})

	result := execute(t, registry, "updateContact",
		`{"id": `+jsonInt(created.ID)+`, "status": "customer", "company": "Analytical Engines"}`)
	if result["success"] != true {
		t.Fatalf("expected success, got %v", result)
	}

	after, _ := store.GetContact(created.ID)
	if after.Status != StatusCustomer || after.Company != "Analytical Engines" {
		t.Errorf("update not applied: %+v", after)
	}
	if after.Name != "Ada" {
		t.Errorf("unpatched field changed: %q", after.Name)
	}
}

func TestDeleteContactToolIdempotentEffect(t *testing.T) {
	registry, store := newTestRegistry(t)

	created := mustCreate(t, store, &Contact{Name: "Ada Lovelace", Email: "ada@example.com"})
	args := `{"id": ` + jsonInt(created.ID) + `}`

	first := execute(t, registry, "deleteContact", args)
	if first["success"] != true {
		t.Fatalf("first delete failed: %v", first)
	}
	if msg, _ := first["message"].(string); !strings.Contains(msg, "Ada Lovelace") {
		t.Errorf("confirmation message %q does not name the contact", msg)
	}

	second := execute(t, registry, "deleteContact", args)
	if second["success"] != false {
		t.Errorf("second delete should report not found, got %v", second)
	}
}

func TestListAllContactsTool(t *testing.T) {
	registry, store := newTestRegistry(t)

	mustCreate(t, store, &Contact{Name: "A", Email: "a@example.com", Status: StatusLead})
	mustCreate(t, store, &Contact{Name: "B", Email: "b@example.com", Status: StatusCustomer})

	result := execute(t, registry, "listAllContacts", `{"status": "customer"}`)
	if result["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", result["count"])
	}

	empty := execute(t, registry, "listAllContacts", `{"status": "inactive"}`)
	if empty["count"] != float64(0) {
		t.Errorf("count = %v, want 0", empty["count"])
	}
	if _, ok := empty["contacts"].([]any); !ok {
		t.Errorf("contacts should be an empty array, got %T", empty["contacts"])
	}
}

func TestCreateLeadTool(t *testing.T) {
	registry, store := newTestRegistry(t)

	contact := mustCreate(t, store, &Contact{Name: "Ada", Email: "ada@example.com"})

	result := execute(t, registry, "createLead",
		`{"contactId": `+jsonInt(contact.ID)+`, "status": "qualified", "source": "referral", "probability": 75}`)
	if result["success"] != true {
		t.Fatalf("expected success, got %v", result)
	}

	stats := execute(t, registry, "getLeadStats", `{}`)
	if stats["total"] != float64(1) {
		t.Errorf("lead stats total = %v, want 1", stats["total"])
	}
}

func TestCreateLeadToolMissingContact(t *testing.T) {
	registry, _ := newTestRegistry(t)

	result := execute(t, registry, "createLead", `{"contactId": 999, "status": "new"}`)
	if result["success"] != false {
		t.Fatalf("expected failure, got %v", result)
	}
	if msg, _ := result["error"].(string); !strings.Contains(msg, "not found") {
		t.Errorf("error = %q", msg)
	}
}

func TestCreateLeadToolProbabilityRange(t *testing.T) {
	registry, store := newTestRegistry(t)

	contact := mustCreate(t, store, &Contact{Name: "Ada", Email: "ada@example.com"})

	result := execute(t, registry, "createLead",
		`{"contactId": `+jsonInt(contact.ID)+`, "status": "new", "probability": 150}`)
	if result["success"] != false {
		t.Errorf("expected range failure, got %v", result)
	}
}

func TestUnknownToolIsStructuredError(t *testing.T) {
	registry, _ := newTestRegistry(t)

	result := execute(t, registry, "dropAllTables", `{}`)
	if result["success"] != false {
		t.Fatalf("expected failure, got %v", result)
	}
	if msg, _ := result["error"].(string); !strings.Contains(msg, "unknown tool") {
		t.Errorf("error = %q", msg)
	}
}

func jsonInt(n int64) string {
	data, _ := json.Marshal(n)
	return string(data)
}
