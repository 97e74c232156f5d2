package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vigil-app/vigil/internal/contact"
	"github.com/vigil-app/vigil/internal/middleware"
)

func contactRequest(t *testing.T, method, path, userID string, payload any) *http.Request {
	t.Helper()
	var body *bytes.Buffer
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if userID != "" {
		req = req.WithContext(middleware.SetUserID(req.Context(), userID))
	}
	return req
}

func TestCreateContact_Success(t *testing.T) {
	store := contact.NewInMemoryStore()
	handlers := NewContactHandlers(store)

	req := contactRequest(t, http.MethodPost, "/api/v1/contacts", "user-1", CreateContactRequest{
		Name:         "Asha Patel",
		Phone:        "+91 9876543210",
		Relationship: "family",
	})
	w := httptest.NewRecorder()
	handlers.CreateContact(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var created contact.EmergencyContact
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.ID == "" {
		t.Error("expected assigned contact ID")
	}
	if !created.Primary {
		t.Error("first contact should be primary")
	}
}

func TestCreateContact_RequiresAuth(t *testing.T) {
	handlers := NewContactHandlers(contact.NewInMemoryStore())

	req := contactRequest(t, http.MethodPost, "/api/v1/contacts", "", CreateContactRequest{
		Name:         "Asha Patel",
		Phone:        "9876543210",
		Relationship: "family",
	})
	w := httptest.NewRecorder()
	handlers.CreateContact(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestCreateContact_ValidationFailures(t *testing.T) {
	handlers := NewContactHandlers(contact.NewInMemoryStore())

	tests := []struct {
		name string
		req  CreateContactRequest
	}{
		{"empty name", CreateContactRequest{Phone: "9876543210", Relationship: "family"}},
		{"bad phone", CreateContactRequest{Name: "Asha", Phone: "12", Relationship: "family"}},
		{"bad relationship", CreateContactRequest{Name: "Asha", Phone: "9876543210", Relationship: "acquaintance"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := contactRequest(t, http.MethodPost, "/api/v1/contacts", "user-1", tt.req)
			w := httptest.NewRecorder()
			handlers.CreateContact(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
			resp := decodeErrorResponse(t, w)
			if resp.Error.Code != ErrCodeValidation {
				t.Errorf("expected error code %s, got %s", ErrCodeValidation, resp.Error.Code)
			}
		})
	}
}

func seedContact(t *testing.T, store contact.Store, userID, name string) string {
	t.Helper()
	id, err := store.Create(context.Background(), &contact.EmergencyContact{
		UserID:       userID,
		Name:         name,
		Phone:        "+91 9876543210",
		Relationship: contact.RelationshipFamily,
	})
	if err != nil {
		t.Fatalf("seed contact failed: %v", err)
	}
	return id
}

func TestListContacts_PrimaryFirst(t *testing.T) {
	store := contact.NewInMemoryStore()
	handlers := NewContactHandlers(store)

	first := seedContact(t, store, "user-1", "Asha Patel")
	seedContact(t, store, "user-1", "Ravi Patel")
	seedContact(t, store, "user-2", "Someone Else")

	req := contactRequest(t, http.MethodGet, "/api/v1/contacts", "user-1", nil)
	w := httptest.NewRecorder()
	handlers.ListContacts(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp ContactsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("expected 2 contacts for user-1, got %d", resp.Count)
	}
	if resp.Contacts[0].ID != first || !resp.Contacts[0].Primary {
		t.Errorf("expected primary contact %s first, got %s", first, resp.Contacts[0].ID)
	}
}

func TestSetPrimary_DemotesPrevious(t *testing.T) {
	store := contact.NewInMemoryStore()
	handlers := NewContactHandlers(store)

	seedContact(t, store, "user-1", "Asha Patel")
	second := seedContact(t, store, "user-1", "Ravi Patel")

	req := contactRequest(t, http.MethodPut, "/api/v1/contacts/"+second+"/primary", "user-1", nil)
	w := httptest.NewRecorder()
	handlers.SetPrimary(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", w.Code, w.Body.String())
	}

	primary, err := store.Primary(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("primary lookup failed: %v", err)
	}
	if primary.ID != second {
		t.Errorf("expected %s to be primary, got %s", second, primary.ID)
	}
}

func TestSetPrimary_NotFound(t *testing.T) {
	handlers := NewContactHandlers(contact.NewInMemoryStore())

	req := contactRequest(t, http.MethodPut, "/api/v1/contacts/no-such-id/primary", "user-1", nil)
	w := httptest.NewRecorder()
	handlers.SetPrimary(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	resp := decodeErrorResponse(t, w)
	if resp.Error.Code != ErrCodeContactNotFound {
		t.Errorf("expected error code %s, got %s", ErrCodeContactNotFound, resp.Error.Code)
	}
}

func TestDeleteContact_PromotesRemaining(t *testing.T) {
	store := contact.NewInMemoryStore()
	handlers := NewContactHandlers(store)

	first := seedContact(t, store, "user-1", "Asha Patel")
	second := seedContact(t, store, "user-1", "Ravi Patel")

	req := contactRequest(t, http.MethodDelete, "/api/v1/contacts/"+first, "user-1", nil)
	w := httptest.NewRecorder()
	handlers.DeleteContact(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}

	primary, err := store.Primary(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("primary lookup failed: %v", err)
	}
	if primary.ID != second {
		t.Errorf("deleting the primary should promote %s, got %s", second, primary.ID)
	}
}

func TestDeleteContact_NotFound(t *testing.T) {
	handlers := NewContactHandlers(contact.NewInMemoryStore())

	req := contactRequest(t, http.MethodDelete, "/api/v1/contacts/no-such-id", "user-1", nil)
	w := httptest.NewRecorder()
	handlers.DeleteContact(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestDeleteContact_OtherUsersContact(t *testing.T) {
	store := contact.NewInMemoryStore()
	handlers := NewContactHandlers(store)

	id := seedContact(t, store, "user-2", "Someone Else")

	req := contactRequest(t, http.MethodDelete, "/api/v1/contacts/"+id, "user-1", nil)
	w := httptest.NewRecorder()
	handlers.DeleteContact(w, req)

	// Another user's contact is invisible, not forbidden.
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}
