// Package crm provides structured storage for contacts and leads.
package crm

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Contact status values. Contacts move through a fixed pipeline; leads
// carry a free-form status string and are not constrained to this set.
const (
	StatusLead     = "lead"
	StatusProspect = "prospect"
	StatusCustomer = "customer"
	StatusInactive = "inactive"
)

// ValidStatus reports whether s is one of the four contact statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusLead, StatusProspect, StatusCustomer, StatusInactive:
		return true
	}
	return false
}

// Sentinel errors returned by store operations. Callers distinguish
// these with errors.Is; anything else is an internal store failure.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("a contact with this email already exists")
	ErrEmptyUpdate    = errors.New("no fields to update")
)

// SQL fragments for query building.
const (
	contactColumns = "id, name, email, phone, company, status, value, notes, created_at, updated_at"
	leadColumns    = "id, contact_id, source, status, probability, expected_close_date, created_at, updated_at"
)

// Contact represents a person or organization of interest.
type Contact struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Company   string    `json:"company,omitempty"`
	Status    string    `json:"status"`
	Value     *float64  `json:"value,omitempty"` // monetary, optional
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lead represents a sales opportunity tied to exactly one contact.
type Lead struct {
	ID                int64      `json:"id"`
	ContactID         int64      `json:"contact_id"`
	Source            string     `json:"source,omitempty"`
	Status            string     `json:"status"` // free-form (new, qualified, won, ...)
	Probability       *float64   `json:"probability,omitempty"` // 0-100
	ExpectedCloseDate *time.Time `json:"expected_close_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// LeadWithContact is a lead joined with its owning contact for display.
type LeadWithContact struct {
	Lead
	ContactName    string `json:"contact_name,omitempty"`
	ContactEmail   string `json:"contact_email,omitempty"`
	ContactCompany string `json:"contact_company,omitempty"`
}

// ContactPatch describes a partial contact update. Nil fields are left
// unchanged; the updated timestamp is always refreshed.
type ContactPatch struct {
	Name    *string
	Email   *string
	Phone   *string
	Company *string
	Status  *string
	Value   *float64
	Notes   *string
}

// Empty reports whether the patch changes nothing.
func (p ContactPatch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.Phone == nil &&
		p.Company == nil && p.Status == nil && p.Value == nil && p.Notes == nil
}

// ContactStats summarizes the contact table.
type ContactStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
	Recent   int            `json:"recent"` // created within the trailing 7 days
}

// LeadStats summarizes the lead table.
type LeadStats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

// Store manages contact and lead persistence in SQLite. It is safe for
// concurrent use; isolation is the database's own statement-level locking.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the database at the given path and runs
// migrations. The returned handle owns the connection; close it at
// process shutdown.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS contacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			phone TEXT,
			company TEXT,
			status TEXT NOT NULL DEFAULT 'lead',
			value REAL,
			notes TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS leads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			contact_id INTEGER NOT NULL REFERENCES contacts(id),
			source TEXT,
			status TEXT NOT NULL,
			probability REAL,
			expected_close_date TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_contacts_status ON contacts(status);
		CREATE INDEX IF NOT EXISTS idx_contacts_created ON contacts(created_at);
		CREATE INDEX IF NOT EXISTS idx_leads_contact ON leads(contact_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateContact inserts a new contact. Status defaults to "lead" when
// empty. A duplicate email surfaces as ErrDuplicateEmail.
func (s *Store) CreateContact(c *Contact) (*Contact, error) {
	now := time.Now().UTC()

	if c.Status == "" {
		c.Status = StatusLead
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	result, err := s.db.Exec(`
		INSERT INTO contacts (name, email, phone, company, status, value, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.Name, c.Email, nullStr(c.Phone), nullStr(c.Company), c.Status,
		nullFloat(c.Value), nullStr(c.Notes),
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("insert: %w", err)
	}

	c.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return c, nil
}

// GetContact retrieves a contact by ID. Returns ErrNotFound if no row
// matches.
func (s *Store) GetContact(id int64) (*Contact, error) {
	return scanContact(s.db.QueryRow(
		`SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id))
}

// GetContactByEmail retrieves a contact by exact email match.
func (s *Store) GetContactByEmail(email string) (*Contact, error) {
	return scanContact(s.db.QueryRow(
		`SELECT `+contactColumns+` FROM contacts WHERE email = ?`, email))
}

// UpdateContact applies a partial update to a contact. Only non-nil
// patch fields change; updated_at is always refreshed. An empty patch
// is rejected with ErrEmptyUpdate before touching the database.
func (s *Store) UpdateContact(id int64, patch ContactPatch) (*Contact, error) {
	if patch.Empty() {
		return nil, ErrEmptyUpdate
	}

	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Email != nil {
		set("email", *patch.Email)
	}
	if patch.Phone != nil {
		set("phone", nullStr(*patch.Phone))
	}
	if patch.Company != nil {
		set("company", nullStr(*patch.Company))
	}
	if patch.Status != nil {
		set("status", *patch.Status)
	}
	if patch.Value != nil {
		set("value", *patch.Value)
	}
	if patch.Notes != nil {
		set("notes", nullStr(*patch.Notes))
	}
	set("updated_at", time.Now().UTC().Format(time.RFC3339))
	args = append(args, id)

	result, err := s.db.Exec(
		`UPDATE contacts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("update: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return nil, ErrNotFound
	}

	return s.GetContact(id)
}

// DeleteContact removes a contact and returns the deleted record.
// Returns ErrNotFound when no row has that id.
func (s *Store) DeleteContact(id int64) (*Contact, error) {
	c, err := s.GetContact(id)
	if err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM contacts WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}
	return c, nil
}

// SearchContacts finds contacts whose name, email, or company contains
// the query (case-insensitive). At most limit rows are returned; a
// non-positive limit defaults to 5.
func (s *Store) SearchContacts(query string, limit int) ([]*Contact, error) {
	if limit <= 0 {
		limit = 5
	}
	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT `+contactColumns+` FROM contacts
		 WHERE name LIKE ? OR email LIKE ? OR company LIKE ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		pattern, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanContacts(rows)
}

// ListContacts returns contacts ordered newest-first, optionally
// filtered by status. A non-positive limit defaults to 20.
func (s *Store) ListContacts(status string, limit int) ([]*Contact, error) {
	if limit <= 0 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = s.db.Query(
			`SELECT `+contactColumns+` FROM contacts WHERE status = ?
			 ORDER BY created_at DESC, id DESC LIMIT ?`, status, limit)
	} else {
		rows, err = s.db.Query(
			`SELECT `+contactColumns+` FROM contacts
			 ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return scanContacts(rows)
}

// ContactStats returns contact counts: total, per status, and created
// within the trailing 7 days.
func (s *Store) ContactStats() (*ContactStats, error) {
	stats := &ContactStats{ByStatus: make(map[string]int)}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM contacts GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("group by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		stats.ByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RFC3339 timestamps sort lexicographically, so a string compare
	// against the cutoff is a correct range scan.
	cutoff := time.Now().UTC().AddDate(0, 0, -7).Format(time.RFC3339)
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM contacts WHERE created_at > ?`, cutoff).Scan(&stats.Recent); err != nil {
		return nil, fmt.Errorf("recent count: %w", err)
	}

	return stats, nil
}

// CreateLead inserts a new lead. The referenced contact must exist;
// the foreign-key constraint surfaces as ErrNotFound.
func (s *Store) CreateLead(l *Lead) (*Lead, error) {
	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now

	result, err := s.db.Exec(`
		INSERT INTO leads (contact_id, source, status, probability, expected_close_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ContactID, nullStr(l.Source), l.Status, nullFloat(l.Probability),
		nullTimePtr(l.ExpectedCloseDate),
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("contact %d: %w", l.ContactID, ErrNotFound)
		}
		return nil, fmt.Errorf("insert: %w", err)
	}

	l.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return l, nil
}

// ListLeads returns all leads joined with their owning contact,
// newest first.
func (s *Store) ListLeads() ([]*LeadWithContact, error) {
	rows, err := s.db.Query(`
		SELECT leads.id, leads.contact_id, leads.source, leads.status,
		       leads.probability, leads.expected_close_date,
		       leads.created_at, leads.updated_at,
		       contacts.name, contacts.email, contacts.company
		FROM leads
		LEFT JOIN contacts ON leads.contact_id = contacts.id
		ORDER BY leads.created_at DESC, leads.id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var leads []*LeadWithContact
	for rows.Next() {
		var (
			l                    LeadWithContact
			source, closeDate    sql.NullString
			probability          sql.NullFloat64
			createdStr, updated  string
			name, email, company sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.ContactID, &source, &l.Status,
			&probability, &closeDate, &createdStr, &updated,
			&name, &email, &company); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		l.Source = source.String
		if probability.Valid {
			p := probability.Float64
			l.Probability = &p
		}
		if closeDate.Valid {
			if t, err := time.Parse(time.RFC3339, closeDate.String); err == nil {
				l.ExpectedCloseDate = &t
			}
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		l.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		l.ContactName = name.String
		l.ContactEmail = email.String
		l.ContactCompany = company.String
		leads = append(leads, &l)
	}
	return leads, rows.Err()
}

// LeadStats returns lead counts: total and per status string.
func (s *Store) LeadStats() (*LeadStats, error) {
	stats := &LeadStats{ByStatus: make(map[string]int)}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM leads`).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("group by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		stats.ByStatus[status] = count
	}
	return stats, rows.Err()
}

// --- scan helpers ---

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (*Contact, error) {
	var (
		c                     Contact
		phone, company, notes sql.NullString
		value                 sql.NullFloat64
		createdStr, updated   string
	)

	err := row.Scan(&c.ID, &c.Name, &c.Email, &phone, &company, &c.Status,
		&value, &notes, &createdStr, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	c.Phone = phone.String
	c.Company = company.String
	c.Notes = notes.String
	if value.Valid {
		v := value.Float64
		c.Value = &v
	}

	c.CreatedAt, err = time.Parse(time.RFC3339, createdStr)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	c.UpdatedAt, err = time.Parse(time.RFC3339, updated)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &c, nil
}

func scanContacts(rows *sql.Rows) ([]*Contact, error) {
	var contacts []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// --- constraint helpers ---

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

// --- SQL helpers ---

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}
