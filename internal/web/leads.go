package web

import (
	"net/http"

	"github.com/sodown4thecause/CRM/internal/crm"
)

// LeadsData is the template context for the leads page.
type LeadsData struct {
	PageData
	Leads []*crm.LeadWithContact
	Stats *crm.LeadStats
}

func (s *Server) handleLeads(w http.ResponseWriter, r *http.Request) {
	leads, err := s.store.ListLeads()
	if err != nil {
		s.logger.Error("lead list failed", "error", err)
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}

	stats, err := s.store.LeadStats()
	if err != nil {
		s.logger.Error("lead stats failed", "error", err)
		http.Error(w, "load failed", http.StatusInternalServerError)
		return
	}

	s.render(w, r, "leads.html", LeadsData{
		PageData: PageData{ActiveNav: "leads"},
		Leads:    leads,
		Stats:    stats,
	})
}
