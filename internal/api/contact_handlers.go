// Package api provides HTTP handlers for emergency contact management.
package api

import (
	"encoding/json"
	"errors"
	"html"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vigil-app/vigil/internal/contact"
	"github.com/vigil-app/vigil/internal/middleware"
)

// ContactHandlers holds dependencies for emergency contact HTTP handlers.
type ContactHandlers struct {
	store contact.Store
}

// NewContactHandlers creates a new ContactHandlers instance.
func NewContactHandlers(store contact.Store) *ContactHandlers {
	return &ContactHandlers{store: store}
}

// CreateContactRequest represents the request body for adding a contact.
type CreateContactRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

// ContactsResponse wraps a user's contact list.
type ContactsResponse struct {
	Contacts []*contact.EmergencyContact `json:"contacts"`
	Count    int                         `json:"count"`
}

// CreateContact handles POST /api/v1/contacts - adds an emergency contact
// for the authenticated user. The first contact becomes primary.
func (h *ContactHandlers) CreateContact(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req CreateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	c := &contact.EmergencyContact{
		UserID:       userID,
		Name:         html.EscapeString(strings.TrimSpace(req.Name)),
		Phone:        strings.TrimSpace(req.Phone),
		Relationship: contact.Relationship(strings.TrimSpace(req.Relationship)),
	}

	if errs := c.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, strings.Join(msgs, "; "))
		return
	}

	id, err := h.store.Create(r.Context(), c)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create contact", "error", err, "user_id", userID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create contact")
		return
	}
	c.ID = id

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(c); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode contact response", "error", err, "contact_id", id)
	}
}

// ListContacts handles GET /api/v1/contacts - returns the authenticated
// user's contacts, primary first.
func (h *ContactHandlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	contacts, err := h.store.ListByUser(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list contacts", "error", err, "user_id", userID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list contacts")
		return
	}
	if contacts == nil {
		contacts = []*contact.EmergencyContact{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ContactsResponse{Contacts: contacts, Count: len(contacts)}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode contacts response", "error", err)
	}
}

// SetPrimary handles PUT /api/v1/contacts/{id}/primary - marks the contact
// as the user's primary, demoting any other.
func (h *ContactHandlers) SetPrimary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/contacts/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "primary" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Path must be /api/v1/contacts/{id}/primary")
		return
	}
	contactID := parts[0]

	if err := h.store.SetPrimary(r.Context(), userID, contactID); err != nil {
		if errors.Is(err, contact.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeContactNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeContactNotFound, "Contact not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to set primary contact", "error", err,
			"user_id", userID, "contact_id", contactID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to set primary contact")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteContact handles DELETE /api/v1/contacts/{id} - removes a contact.
// Deleting the primary promotes the oldest remaining contact.
func (h *ContactHandlers) DeleteContact(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	contactID := strings.TrimPrefix(r.URL.Path, "/api/v1/contacts/")
	if contactID == "" || strings.Contains(contactID, "/") {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Contact ID is required")
		return
	}

	if err := h.store.Delete(r.Context(), userID, contactID); err != nil {
		if errors.Is(err, contact.ErrNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeContactNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeContactNotFound, "Contact not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to delete contact", "error", err,
			"user_id", userID, "contact_id", contactID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to delete contact")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requireUser extracts the authenticated user ID, writing a 401 when absent.
func (h *ContactHandlers) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return "", false
	}
	return userID, true
}
