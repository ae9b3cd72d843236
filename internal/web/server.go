// Package web serves the CRM dashboard: contact and lead pages backed
// by read-only store queries, gated behind a session cookie, with the
// chat widget embedded in every page.
package web

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/sodown4thecause/CRM/internal/crm"
)

// Server renders the dashboard pages.
type Server struct {
	store       *crm.Store
	sessionName string
	logger      *slog.Logger
	templates   map[string]*template.Template
}

// PageData carries fields common to every page.
type PageData struct {
	ActiveNav string
}

// NewServer creates the dashboard server. sessionName is the cookie
// whose presence gates protected pages.
func NewServer(store *crm.Store, sessionName string, logger *slog.Logger) *Server {
	return &Server{
		store:       store,
		sessionName: sessionName,
		logger:      logger,
		templates:   loadTemplates(),
	}
}

// Register mounts the dashboard routes onto the mux. Everything except
// the login page sits behind the session gate.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.Handle("GET /{$}", s.requireSession(http.HandlerFunc(s.handleDashboard)))
	mux.Handle("GET /contacts", s.requireSession(http.HandlerFunc(s.handleContacts)))
	mux.Handle("GET /contacts/{id}", s.requireSession(http.HandlerFunc(s.handleContactDetail)))
	mux.Handle("GET /leads", s.requireSession(http.HandlerFunc(s.handleLeads)))
}

// requireSession checks for the session cookie's presence. Validation
// belongs to the external auth collaborator that issued it; this gate
// only reads.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie(s.sessionName); err != nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, err := r.Cookie(s.sessionName); err == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, r, "login.html", PageData{})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.sessionName,
		Value:    "1",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.Info("session started")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   s.sessionName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
