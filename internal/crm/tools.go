package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"

	"github.com/sodown4thecause/CRM/internal/tools"
)

// contactSummary is the bounded projection returned by searchContacts.
// Full records are only returned by keyed lookups.
type contactSummary struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
	Status  string `json:"status"`
	Phone   string `json:"phone,omitempty"`
}

func summarize(c *Contact) contactSummary {
	return contactSummary{
		ID:      c.ID,
		Name:    c.Name,
		Email:   c.Email,
		Company: c.Company,
		Status:  c.Status,
		Phone:   c.Phone,
	}
}

// RegisterTools adds the CRM tool set to the registry. The tool surface
// is deliberately asymmetric: contacts get full CRUD, leads get
// create and stats only.
func RegisterTools(registry *tools.Registry, store *Store, logger *slog.Logger) {
	registry.Register(searchContactsTool(store))
	registry.Register(getContactStatsTool(store))
	registry.Register(getContactByIDTool(store))
	registry.Register(createContactTool(store, logger))
	registry.Register(updateContactTool(store, logger))
	registry.Register(deleteContactTool(store, logger))
	registry.Register(listAllContactsTool(store))
	registry.Register(getLeadStatsTool(store))
	registry.Register(createLeadTool(store, logger))
}

func searchContactsTool(store *Store) *tools.Tool {
	return &tools.Tool{
		Name:        "searchContacts",
		Description: "Search contacts by name, email, or company. Returns up to 5 matches.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query matched against name, email, and company",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var input struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(args, &input); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if input.Query == "" {
				return errResult("query is required"), nil
			}

			contacts, err := store.SearchContacts(input.Query, 5)
			if err != nil {
				return errResult("failed to search contacts"), nil
			}

			summaries := make([]contactSummary, 0, len(contacts))
			for _, c := range contacts {
				summaries = append(summaries, summarize(c))
			}
			return jsonResult(map[string]any{
				"contacts": summaries,
				"count":    len(summaries),
			})
		},
	}
}

func getContactStatsTool(store *Store) *tools.Tool {
	return &tools.Tool{
		Name:        "getContactStats",
		Description: "Get contact statistics: total count, counts by status, and contacts added in the last 7 days.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			stats, err := store.ContactStats()
			if err != nil {
				return errResult("failed to get contact stats"), nil
			}
			return jsonResult(stats)
		},
	}
}

func getContactByIDTool(store *Store) *tools.Tool {
	return &tools.Tool{
		Name:        "getContactById",
		Description: "Get the full record for a single contact by its numeric ID.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{
					"type":        "integer",
					"description": "The contact ID",
				},
			},
			"required": []string{"id"},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var input struct {
				ID int64 `json:"id"`
			}
			if err := json.Unmarshal(args, &input); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}

			contact, err := store.GetContact(input.ID)
			if errors.Is(err, ErrNotFound) {
				return errResult(fmt.Sprintf("contact %d not found", input.ID)), nil
			}
			if err != nil {
				return errResult("failed to get contact"), nil
			}
			return jsonResult(map[string]any{"contact": contact})
		},
	}
}

func createContactTool(store *Store, logger *slog.Logger) *tools.Tool {
	return &tools.Tool{
		Name:        "createContact",
		Description: "Create a new contact. Name and email are required; email must be unique.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":    map[string]any{"type": "string", "description": "Full name"},
				"email":   map[string]any{"type": "string", "description": "Email address (must be unique)"},
				"phone":   map[string]any{"type": "string", "description": "Phone number"},
				"company": map[string]any{"type": "string", "description": "Company name"},
				"status": map[string]any{
					"type": "string",
					"enum": []string{StatusLead, StatusProspect, StatusCustomer, StatusInactive},
					"description": "Pipeline status (defaults to lead)",
				},
				"value": map[string]any{"type": "number", "description": "Monetary value of the contact"},
				"notes": map[string]any{"type": "string", "description": "Free-form notes (markdown allowed)"},
			},
			"required": []string{"name", "email"},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var input struct {
				Name    string   `json:"name"`
				Email   string   `json:"email"`
				Phone   string   `json:"phone"`
				Company string   `json:"company"`
				Status  string   `json:"status"`
				Value   *float64 `json:"value"`
				Notes   string   `json:"notes"`
			}
			if err := json.Unmarshal(args, &input); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}

			if input.Name == "" {
				return errResult("name is required"), nil
			}
			if _, err := mail.ParseAddress(input.Email); err != nil {
				return errResult("a valid email address is required"), nil
			}
			if input.Status != "" && !ValidStatus(input.Status) {
				return errResult(fmt.Sprintf("invalid status %q (valid: lead, prospect, customer, inactive)", input.Status)), nil
			}

			contact, err := store.CreateContact(&Contact{
				Name:    input.Name,
				Email:   input.Email,
				Phone:   input.Phone,
				Company: input.Company,
				Status:  input.Status,
				Value:   input.Value,
				Notes:   input.Notes,
			})
			if errors.Is(err, ErrDuplicateEmail) {
				return errResult(fmt.Sprintf("a contact with email %s already exists", input.Email)), nil
			}
			if err != nil {
				logger.Error("create contact failed", "email", input.Email, "error", err)
				return errResult("failed to create contact"), nil
			}

			logger.Info("contact created via tool", "id", contact.ID, "email", contact.Email)
			return jsonResult(map[string]any{"success": true, "contact": contact})
		},
	}
}

func updateContactTool(store *Store, logger *slog.Logger) *tools.Tool {
	return &tools.Tool{
		Name:        "updateContact",
		Description: "Update fields of an existing contact. Only provided fields change.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":      map[string]any{"type": "integer", "description": "The contact ID"},
				"name":    map[string]any{"type": "string"},
				"email":   map[string]any{"type": "string"},
				"phone":   map[string]any{"type": "string"},
				"company": map[string]any{"type": "string"},
				"status": map[string]any{
					"type": "string",
					"enum": []string{StatusLead, StatusProspect, StatusCustomer, StatusInactive},
				},
				"value": map[string]any{"type": "number"},
				"notes": map[string]any{"type": "string"},
			},
			"required": []string{"id"},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var input struct {
				ID      int64    `json:"id"`
				Name    *string  `json:"name"`
				Email   *string  `json:"email"`
				Phone   *string  `json:"phone"`
				Company *string  `json:"company"`
				Status  *string  `json:"status"`
				Value   *float64 `json:"value"`
				Notes   *string  `json:"notes"`
			}
			if err := json.Unmarshal(args, &input); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}

			patch := ContactPatch{
				Name:    input.Name,
				Email:   input.Email,
				Phone:   input.Phone,
				Company: input.Company,
				Status:  input.Status,
				Value:   input.Value,
				Notes:   input.Notes,
			}
			if patch.Empty() {
				return errResult("no fields to update"), nil
			}
			if input.Email != nil {
				if _, err := mail.ParseAddress(*input.Email); err != nil {
					return errResult("a valid email address is required"), nil
				}
			}
			if input.Status != nil && !ValidStatus(*input.Status) {
				return errResult(fmt.Sprintf("invalid status %q (valid: lead, prospect, customer, inactive)", *input.Status)), nil
			}

			contact, err := store.UpdateContact(input.ID, patch)
			if errors.Is(err, ErrNotFound) {
				return errResult(fmt.Sprintf("contact %d not found", input.ID)), nil
			}
			if errors.Is(err, ErrDuplicateEmail) {
				return errResult("a contact with that email already exists"), nil
			}
			if err != nil {
				logger.Error("update contact failed", "id", input.ID, "error", err)
				return errResult("failed to update contact"), nil
			}

			logger.Info("contact updated via tool", "id", contact.ID)
			return jsonResult(map[string]any{"success": true, "contact": contact})
		},
	}
}

func deleteContactTool(store *Store, logger *slog.Logger) *tools.Tool {
	return &tools.Tool{
		Name:        "deleteContact",
		Description: "Delete a contact by ID. This cannot be undone.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{"type": "integer", "description": "The contact ID"},
			},
			"required": []string{"id"},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var input struct {
				ID int64 `json:"id"`
			}
			if err := json.Unmarshal(args, &input); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}

			contact, err := store.DeleteContact(input.ID)
			if errors.Is(err, ErrNotFound) {
				return errResult(fmt.Sprintf("contact %d not found", input.ID)), nil
			}
			if err != nil {
				logger.Error("delete contact failed", "id", input.ID, "error", err)
				return errResult("failed to delete contact"), nil
			}

			logger.Info("contact deleted via tool", "id", input.ID, "name", contact.Name)
			return jsonResult(map[string]any{
				"success": true,
				"message": fmt.Sprintf("Deleted contact %s", contact.Name),
			})
		},
	}
}

func listAllContactsTool(store *Store) *tools.Tool {
	return &tools.Tool{
		Name:        "listAllContacts",
		Description: "List contacts, newest first, optionally filtered by status.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type": "string",
					"enum": []string{StatusLead, StatusProspect, StatusCustomer, StatusInactive},
					"description": "Only return contacts with this status",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of contacts to return (default 20)",
				},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var input struct {
				Status string `json:"status"`
				Limit  int    `json:"limit"`
			}
			if err := json.Unmarshal(args, &input); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if input.Status != "" && !ValidStatus(input.Status) {
				return errResult(fmt.Sprintf("invalid status %q (valid: lead, prospect, customer, inactive)", input.Status)), nil
			}

			contacts, err := store.ListContacts(input.Status, input.Limit)
			if err != nil {
				return errResult("failed to list contacts"), nil
			}
			if contacts == nil {
				contacts = []*Contact{}
			}
			return jsonResult(map[string]any{
				"contacts": contacts,
				"count":    len(contacts),
			})
		},
	}
}

func getLeadStatsTool(store *Store) *tools.Tool {
	return &tools.Tool{
		Name:        "getLeadStats",
		Description: "Get lead statistics: total count and counts grouped by lead status.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			stats, err := store.LeadStats()
			if err != nil {
				return errResult("failed to get lead stats"), nil
			}
			return jsonResult(stats)
		},
	}
}

func createLeadTool(store *Store, logger *slog.Logger) *tools.Tool {
	return &tools.Tool{
		Name:        "createLead",
		Description: "Create a sales lead for an existing contact.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"contactId": map[string]any{"type": "integer", "description": "ID of the contact this lead belongs to"},
				"status":    map[string]any{"type": "string", "description": "Lead status (e.g. new, qualified, won, lost)"},
				"source":    map[string]any{"type": "string", "description": "Where the lead came from"},
				"probability": map[string]any{
					"type":        "number",
					"description": "Chance of closing, 0-100",
				},
			},
			"required": []string{"contactId", "status"},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var input struct {
				ContactID   int64    `json:"contactId"`
				Status      string   `json:"status"`
				Source      string   `json:"source"`
				Probability *float64 `json:"probability"`
			}
			if err := json.Unmarshal(args, &input); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if input.ContactID == 0 {
				return errResult("contactId is required"), nil
			}
			if input.Status == "" {
				return errResult("status is required"), nil
			}
			if input.Probability != nil && (*input.Probability < 0 || *input.Probability > 100) {
				return errResult("probability must be between 0 and 100"), nil
			}

			lead, err := store.CreateLead(&Lead{
				ContactID:   input.ContactID,
				Status:      input.Status,
				Source:      input.Source,
				Probability: input.Probability,
			})
			if errors.Is(err, ErrNotFound) {
				return errResult(fmt.Sprintf("contact %d not found", input.ContactID)), nil
			}
			if err != nil {
				logger.Error("create lead failed", "contactId", input.ContactID, "error", err)
				return errResult("failed to create lead"), nil
			}

			logger.Info("lead created via tool", "id", lead.ID, "contactId", lead.ContactID)
			return jsonResult(map[string]any{"success": true, "lead": lead})
		},
	}
}

func jsonResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}

func errResult(msg string) string {
	data, _ := json.Marshal(map[string]any{"success": false, "error": msg})
	return string(data)
}
