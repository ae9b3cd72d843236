package crm

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(dbPath, slog.Default())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func mustCreate(t *testing.T, store *Store, c *Contact) *Contact {
	t.Helper()

	created, err := store.CreateContact(c)
	if err != nil {
		t.Fatalf("CreateContact(%q): %v", c.Email, err)
	}
	return created
}

func strPtr(s string) *string    { return &s }
func floatPtr(f float64) *float64 { return &f }

func TestCreateContactDefaults(t *testing.T) {
	store := newTestStore(t)

	c := mustCreate(t, store, &Contact{Name: "Ada Lovelace", Email: "ada@example.com"})

	if c.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if c.Status != StatusLead {
		t.Errorf("status = %q, want %q", c.Status, StatusLead)
	}
	if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestCreateContactDuplicateEmail(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, &Contact{Name: "Ada", Email: "ada@example.com"})

	_, err := store.CreateContact(&Contact{Name: "Other Ada", Email: "ada@example.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestGetContact(t *testing.T) {
	store := newTestStore(t)

	created := mustCreate(t, store, &Contact{
		Name:    "Grace Hopper",
		Email:   "grace@example.com",
		Company: "Navy",
		Status:  StatusCustomer,
		Value:   floatPtr(5000),
	})

	got, err := store.GetContact(created.ID)
	if err != nil {
		t.Fatalf("GetContact: %v", err)
	}
	if got.Name != "Grace Hopper" || got.Company != "Navy" || got.Status != StatusCustomer {
		t.Errorf("unexpected contact: %+v", got)
	}
	if got.Value == nil || *got.Value != 5000 {
		t.Errorf("value = %v, want 5000", got.Value)
	}
}

func TestGetContactNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetContact(999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateContactPartial(t *testing.T) {
	store := newTestStore(t)

	created := mustCreate(t, store, &Contact{
		Name:    "Alan Turing",
		Email:   "alan@example.com",
		Company: "Bletchley",
	})

	// Backdate the row so the refreshed updated_at is observable at
	// RFC3339 second resolution.
	old := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	if _, err := store.db.Exec(
		`UPDATE contacts SET created_at = ?, updated_at = ? WHERE id = ?`,
		old, old, created.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	updated, err := store.UpdateContact(created.ID, ContactPatch{
		Status: strPtr(StatusProspect),
		Value:  floatPtr(1200),
	})
	if err != nil {
		t.Fatalf("UpdateContact: %v", err)
	}

	if updated.Status != StatusProspect {
		t.Errorf("status = %q, want %q", updated.Status, StatusProspect)
	}
	if updated.Value == nil || *updated.Value != 1200 {
		t.Errorf("value = %v, want 1200", updated.Value)
	}
	if updated.Name != "Alan Turing" || updated.Company != "Bletchley" {
		t.Errorf("untouched fields changed: %+v", updated)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Errorf("updated_at %v not after created_at %v", updated.UpdatedAt, updated.CreatedAt)
	}
}

func TestUpdateContactEmpty(t *testing.T) {
	store := newTestStore(t)

	created := mustCreate(t, store, &Contact{Name: "Ada", Email: "ada@example.com"})

	_, err := store.UpdateContact(created.ID, ContactPatch{})
	if !errors.Is(err, ErrEmptyUpdate) {
		t.Errorf("expected ErrEmptyUpdate, got %v", err)
	}
}

func TestUpdateContactNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.UpdateContact(42, ContactPatch{Name: strPtr("Nobody")})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateContactDuplicateEmail(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, &Contact{Name: "Ada", Email: "ada@example.com"})
	other := mustCreate(t, store, &Contact{Name: "Grace", Email: "grace@example.com"})

	_, err := store.UpdateContact(other.ID, ContactPatch{Email: strPtr("ada@example.com")})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestDeleteContact(t *testing.T) {
	store := newTestStore(t)

	created := mustCreate(t, store, &Contact{Name: "Ada", Email: "ada@example.com"})

	deleted, err := store.DeleteContact(created.ID)
	if err != nil {
		t.Fatalf("DeleteContact: %v", err)
	}
	if deleted.Name != "Ada" {
		t.Errorf("deleted name = %q, want Ada", deleted.Name)
	}

	if _, err := store.GetContact(created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestDeleteContactNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.DeleteContact(7)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchContacts(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, &Contact{Name: "Ada Lovelace", Email: "ada@analytical.test", Company: "Analytical Engines"})
	mustCreate(t, store, &Contact{Name: "Grace Hopper", Email: "grace@navy.test", Company: "Navy"})
	mustCreate(t, store, &Contact{Name: "Charles Babbage", Email: "charles@analytical.test", Company: "Analytical Engines"})

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"by name", "lovelace", 1},
		{"by email domain", "navy.test", 1},
		{"by company", "Analytical", 2},
		{"case insensitive", "GRACE", 1},
		{"no match", "zzz", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.SearchContacts(tt.query, 0)
			if err != nil {
				t.Fatalf("SearchContacts(%q): %v", tt.query, err)
			}
			if len(got) != tt.want {
				t.Errorf("SearchContacts(%q) returned %d contacts, want %d", tt.query, len(got), tt.want)
			}
		})
	}
}

func TestSearchContactsCap(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 8; i++ {
		mustCreate(t, store, &Contact{
			Name:  "Widget Buyer",
			Email: "buyer" + string(rune('a'+i)) + "@widgets.test",
		})
	}

	got, err := store.SearchContacts("Widget", 5)
	if err != nil {
		t.Fatalf("SearchContacts: %v", err)
	}
	if len(got) != 5 {
		t.Errorf("got %d results, want cap of 5", len(got))
	}
}

func TestListContacts(t *testing.T) {
	store := newTestStore(t)

	a := mustCreate(t, store, &Contact{Name: "First", Email: "first@example.com", Status: StatusLead})
	b := mustCreate(t, store, &Contact{Name: "Second", Email: "second@example.com", Status: StatusCustomer})
	c := mustCreate(t, store, &Contact{Name: "Third", Email: "third@example.com", Status: StatusCustomer})

	all, err := store.ListContacts("", 0)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d contacts, want 3", len(all))
	}
	// Newest first; IDs break ties within the same second.
	if all[0].ID != c.ID || all[1].ID != b.ID || all[2].ID != a.ID {
		t.Errorf("unexpected order: %d, %d, %d", all[0].ID, all[1].ID, all[2].ID)
	}

	customers, err := store.ListContacts(StatusCustomer, 0)
	if err != nil {
		t.Fatalf("ListContacts(customer): %v", err)
	}
	if len(customers) != 2 {
		t.Errorf("got %d customers, want 2", len(customers))
	}
	for _, c := range customers {
		if c.Status != StatusCustomer {
			t.Errorf("contact %d status = %q, want customer", c.ID, c.Status)
		}
	}
}

func TestListContactsLimit(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 25; i++ {
		mustCreate(t, store, &Contact{
			Name:  "Contact",
			Email: "c" + string(rune('a'+i)) + "@example.com",
		})
	}

	got, err := store.ListContacts("", 0)
	if err != nil {
		t.Fatalf("ListContacts: %v", err)
	}
	if len(got) != 20 {
		t.Errorf("default limit returned %d contacts, want 20", len(got))
	}

	got, err = store.ListContacts("", 3)
	if err != nil {
		t.Fatalf("ListContacts(limit 3): %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d contacts, want 3", len(got))
	}
}

func TestContactStats(t *testing.T) {
	store := newTestStore(t)

	mustCreate(t, store, &Contact{Name: "A", Email: "a@example.com", Status: StatusLead})
	mustCreate(t, store, &Contact{Name: "B", Email: "b@example.com", Status: StatusCustomer})
	old := mustCreate(t, store, &Contact{Name: "C", Email: "c@example.com", Status: StatusCustomer})

	// Push one contact outside the 7-day recency window.
	stale := time.Now().UTC().AddDate(0, 0, -10).Format(time.RFC3339)
	if _, err := store.db.Exec(
		`UPDATE contacts SET created_at = ? WHERE id = ?`, stale, old.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	stats, err := store.ContactStats()
	if err != nil {
		t.Fatalf("ContactStats: %v", err)
	}

	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByStatus[StatusLead] != 1 || stats.ByStatus[StatusCustomer] != 2 {
		t.Errorf("byStatus = %v", stats.ByStatus)
	}
	if stats.Recent != 2 {
		t.Errorf("recent = %d, want 2", stats.Recent)
	}
}

func TestCreateLead(t *testing.T) {
	store := newTestStore(t)

	contact := mustCreate(t, store, &Contact{Name: "Ada", Email: "ada@example.com"})

	close := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	lead, err := store.CreateLead(&Lead{
		ContactID:         contact.ID,
		Source:            "referral",
		Status:            "qualified",
		Probability:       floatPtr(60),
		ExpectedCloseDate: &close,
	})
	if err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	if lead.ID == 0 {
		t.Error("expected non-zero lead ID")
	}
	if lead.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestCreateLeadMissingContact(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateLead(&Lead{ContactID: 999, Status: "new"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing contact, got %v", err)
	}
}

func TestListLeads(t *testing.T) {
	store := newTestStore(t)

	contact := mustCreate(t, store, &Contact{
		Name: "Ada", Email: "ada@example.com", Company: "Analytical Engines",
	})

	if _, err := store.CreateLead(&Lead{ContactID: contact.ID, Status: "new", Source: "web"}); err != nil {
		t.Fatalf("CreateLead: %v", err)
	}
	if _, err := store.CreateLead(&Lead{ContactID: contact.ID, Status: "won"}); err != nil {
		t.Fatalf("CreateLead: %v", err)
	}

	leads, err := store.ListLeads()
	if err != nil {
		t.Fatalf("ListLeads: %v", err)
	}
	if len(leads) != 2 {
		t.Fatalf("got %d leads, want 2", len(leads))
	}
	if leads[0].Status != "won" {
		t.Errorf("leads[0].Status = %q, want newest first", leads[0].Status)
	}
	for _, l := range leads {
		if l.ContactName != "Ada" || l.ContactCompany != "Analytical Engines" {
			t.Errorf("join missing contact fields: %+v", l)
		}
	}
}

func TestLeadStats(t *testing.T) {
	store := newTestStore(t)

	contact := mustCreate(t, store, &Contact{Name: "Ada", Email: "ada@example.com"})
	for _, status := range []string{"new", "new", "qualified"} {
		if _, err := store.CreateLead(&Lead{ContactID: contact.ID, Status: status}); err != nil {
			t.Fatalf("CreateLead(%q): %v", status, err)
		}
	}

	stats, err := store.LeadStats()
	if err != nil {
		t.Fatalf("LeadStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByStatus["new"] != 2 || stats.ByStatus["qualified"] != 1 {
		t.Errorf("byStatus = %v", stats.ByStatus)
	}
}
