package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/dkoval/leadpilot/internal/domain"
	"github.com/dkoval/leadpilot/internal/repository"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func newLeadHandler(t *testing.T, db *gorm.DB) *LeadHandler {
	t.Helper()
	return NewLeadHandler(repository.NewLeadRepository(db), quietLogger())
}

func TestCreateLead(t *testing.T) {
	db := newTestDB(t)
	h := newLeadHandler(t, db)

	body := `{"account_id":"acct-1","profile_url":"https://example.com/in/jane","name":"Jane Doe","company":"Acme"}`
	w := performJSON(t, h.CreateLead, http.MethodPost, "/api/v1/leads", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body %s", w.Code, w.Body.String())
	}

	var lead domain.Lead
	if err := db.First(&lead, "profile_url = ?", "https://example.com/in/jane").Error; err != nil {
		t.Fatalf("load lead failed: %v", err)
	}
	if lead.Status != domain.LeadStatusNew {
		t.Errorf("status = %s, want new", lead.Status)
	}
	if lead.Name != "Jane Doe" || lead.Company != "Acme" {
		t.Errorf("lead fields = %q/%q, want Jane Doe/Acme", lead.Name, lead.Company)
	}
}

func TestCreateLeadDuplicateProfileURL(t *testing.T) {
	db := newTestDB(t)
	h := newLeadHandler(t, db)

	body := `{"account_id":"acct-1","profile_url":"https://example.com/in/jane"}`
	if w := performJSON(t, h.CreateLead, http.MethodPost, "/api/v1/leads", body, nil); w.Code != http.StatusCreated {
		t.Fatalf("first create status = %d, want 201", w.Code)
	}
	w := performJSON(t, h.CreateLead, http.MethodPost, "/api/v1/leads", body, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("second create status = %d, want 409; body %s", w.Code, w.Body.String())
	}

	// The conflict response carries the existing record.
	var resp struct {
		Lead domain.Lead `json:"lead"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.Lead.ProfileURL != "https://example.com/in/jane" {
		t.Errorf("conflict lead profile_url = %q, want the existing record", resp.Lead.ProfileURL)
	}

	var count int64
	db.Model(&domain.Lead{}).Count(&count)
	if count != 1 {
		t.Errorf("leads = %d, want 1", count)
	}
}

func TestCreateLeadRejectsBadProfileURL(t *testing.T) {
	db := newTestDB(t)
	h := newLeadHandler(t, db)

	body := `{"account_id":"acct-1","profile_url":"not-a-url"}`
	w := performJSON(t, h.CreateLead, http.MethodPost, "/api/v1/leads", body, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestLeadHistory(t *testing.T) {
	db := newTestDB(t)
	h := newLeadHandler(t, db)

	lead := domain.Lead{
		ID:         "lead-1",
		AccountID:  "acct-1",
		ProfileURL: "https://example.com/in/lead-1",
		Status:     domain.LeadStatusInvited,
	}
	if err := db.Create(&lead).Error; err != nil {
		t.Fatalf("seed lead failed: %v", err)
	}
	events := []domain.LeadEvent{
		{LeadID: "lead-1", FromStatus: domain.LeadStatusNew, ToStatus: domain.LeadStatusReadyInvite, Reason: "sourced"},
		{LeadID: "lead-1", FromStatus: domain.LeadStatusReadyInvite, ToStatus: domain.LeadStatusInvited, Reason: "invite sent"},
	}
	if err := db.Create(&events).Error; err != nil {
		t.Fatalf("seed events failed: %v", err)
	}

	w := performJSON(t, h.LeadHistory, http.MethodGet, "/api/v1/leads/lead-1", "", gin.Params{{Key: "id", Value: "lead-1"}})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Lead   domain.Lead        `json:"lead"`
		Events []domain.LeadEvent `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if resp.Lead.ID != "lead-1" {
		t.Errorf("lead id = %q, want lead-1", resp.Lead.ID)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(resp.Events))
	}
	if resp.Events[0].ToStatus != domain.LeadStatusReadyInvite || resp.Events[1].ToStatus != domain.LeadStatusInvited {
		t.Errorf("events out of order: %v then %v", resp.Events[0].ToStatus, resp.Events[1].ToStatus)
	}
}

func TestLeadHistoryNotFound(t *testing.T) {
	db := newTestDB(t)
	h := newLeadHandler(t, db)

	w := performJSON(t, h.LeadHistory, http.MethodGet, "/api/v1/leads/missing", "", gin.Params{{Key: "id", Value: "missing"}})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
