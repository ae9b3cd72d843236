package web

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"

	"github.com/yuin/goldmark"

	"github.com/sodown4thecause/CRM/internal/crm"
)

// notesMarkdown renders contact notes. CommonMark defaults; raw HTML
// in notes stays escaped.
var notesMarkdown = goldmark.New()

// ContactsData is the template context for the contacts list page.
type ContactsData struct {
	PageData
	Contacts []*crm.Contact
	Query    string
	Status   string
}

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	status := r.URL.Query().Get("status")

	var (
		contacts []*crm.Contact
		err      error
	)
	if query != "" {
		contacts, err = s.store.SearchContacts(query, 50)
	} else {
		contacts, err = s.store.ListContacts(status, 100)
	}
	if err != nil {
		s.logger.Error("contact list failed", "query", query, "status", status, "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}

	data := ContactsData{
		PageData: PageData{ActiveNav: "contacts"},
		Contacts: contacts,
		Query:    query,
		Status:   status,
	}

	// For htmx table-body-only updates, render just the rows.
	if r.Header.Get("HX-Request") == "true" && r.Header.Get("HX-Target") == "contacts-tbody" {
		if err := s.templates["contacts.html"].ExecuteTemplate(w, "contacts-tbody", data); err == nil {
			return
		}
	}

	s.render(w, r, "contacts.html", data)
}

// ContactDetailData is the template context for a single contact.
type ContactDetailData struct {
	PageData
	Contact   *crm.Contact
	NotesHTML template.HTML
}

func (s *Server) handleContactDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	contact, err := s.store.GetContact(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	var notesHTML template.HTML
	if contact.Notes != "" {
		var buf bytes.Buffer
		if err := notesMarkdown.Convert([]byte(contact.Notes), &buf); err != nil {
			s.logger.Warn("notes render failed", "id", id, "error", err)
		} else {
			notesHTML = template.HTML(buf.String())
		}
	}

	s.render(w, r, "contact_detail.html", ContactDetailData{
		PageData:  PageData{ActiveNav: "contacts"},
		Contact:   contact,
		NotesHTML: notesHTML,
	})
}
