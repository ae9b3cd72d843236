package web

import (
	"net/http"

	"github.com/sodown4thecause/CRM/internal/buildinfo"
	"github.com/sodown4thecause/CRM/internal/crm"
)

// DashboardData is the template context for the overview page.
type DashboardData struct {
	PageData
	ContactStats *crm.ContactStats
	LeadStats    *crm.LeadStats
	Recent       []*crm.Contact
	Version      string
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	contactStats, err := s.store.ContactStats()
	if err != nil {
		s.logger.Error("contact stats failed", "error", err)
		http.Error(w, "load failed", http.StatusInternalServerError)
		return
	}

	leadStats, err := s.store.LeadStats()
	if err != nil {
		s.logger.Error("lead stats failed", "error", err)
		http.Error(w, "load failed", http.StatusInternalServerError)
		return
	}

	recent, err := s.store.ListContacts("", 5)
	if err != nil {
		s.logger.Error("recent contacts failed", "error", err)
		http.Error(w, "load failed", http.StatusInternalServerError)
		return
	}

	s.render(w, r, "dashboard.html", DashboardData{
		PageData:     PageData{ActiveNav: "overview"},
		ContactStats: contactStats,
		LeadStats:    leadStats,
		Recent:       recent,
		Version:      buildinfo.Version,
	})
}
