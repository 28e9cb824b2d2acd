package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"greenroom/internal/credential"
	"greenroom/internal/registry"
	"greenroom/pkg/interfaces"
	"greenroom/pkg/types"
)

// stubRegistry lets each test script the registry's behavior.
type stubRegistry struct {
	createErr error
	endErr    error
	joins     []string
	leaves    []string
	sessions  []*types.Session
}

func (r *stubRegistry) CreateSession(ctx context.Context, consultationID, userID string, role types.Role) (string, string, *types.SessionConfig, error) {
	if r.createErr != nil {
		return "", "", nil, r.createErr
	}
	return "room-1", "token-1", &types.SessionConfig{RoomID: "room-1", MaxDurationMinutes: 240}, nil
}

func (r *stubRegistry) Join(roomID, userID string, role types.Role) error {
	r.joins = append(r.joins, userID)
	return nil
}

func (r *stubRegistry) Leave(roomID, userID string) error {
	r.leaves = append(r.leaves, userID)
	return nil
}

func (r *stubRegistry) EndSession(ctx context.Context, roomID, consultationID string) (*types.ReconciliationResult, error) {
	if r.endErr != nil {
		return nil, r.endErr
	}
	return &types.ReconciliationResult{
		RoomID:           roomID,
		ConsultationID:   consultationID,
		Reason:           types.EndReasonCompleted,
		ActualMinutes:    60,
		BilledMinutes:    60,
		FinalAmountCents: 10000,
	}, nil
}

func (r *stubRegistry) ForceEndSession(ctx context.Context, roomID string, reason types.EndReason) error {
	return nil
}

func (r *stubRegistry) ListActiveSessions() []*types.Session { return r.sessions }

func (r *stubRegistry) SessionSnapshot(roomID string) (*types.Session, bool) { return nil, false }

func newTestServer(reg *stubRegistry) (*Server, *credential.Issuer) {
	issuer := credential.NewIssuer([]byte("test-secret"), time.Hour)
	return NewServer(reg, issuer, nil, nil), issuer
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestCreateSession(t *testing.T) {
	s, _ := newTestServer(&stubRegistry{})

	w := doJSON(t, s, http.MethodPost, "/api/sessions", map[string]string{
		"consultation_id": "consult-1",
		"user_id":         "expert-1",
		"role":            "expert",
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp createSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RoomID != "room-1" || resp.Credential != "token-1" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.SessionConfig == nil || resp.SessionConfig.MaxDurationMinutes != 240 {
		t.Errorf("missing session config: %+v", resp.SessionConfig)
	}
}

func TestCreateSession_MissingFields(t *testing.T) {
	s, _ := newTestServer(&stubRegistry{})

	w := doJSON(t, s, http.MethodPost, "/api/sessions", map[string]string{"user_id": "expert-1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestCreateSession_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"consultation not found", interfaces.ErrConsultationNotFound, http.StatusNotFound},
		{"already completed", registry.ErrConsultationCompleted, http.StatusConflict},
		{"invalid role", types.ErrInvalidRole, http.StatusBadRequest},
		{"backend failure", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(&stubRegistry{createErr: tt.err})
			w := doJSON(t, s, http.MethodPost, "/api/sessions", map[string]string{
				"consultation_id": "consult-1",
				"user_id":         "expert-1",
				"role":            "expert",
			})
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestJoinSession(t *testing.T) {
	reg := &stubRegistry{}
	s, issuer := newTestServer(reg)

	token, err := issuer.Issue("room-1", "client-1", types.RoleClient, "consult-1")
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}

	w := doJSON(t, s, http.MethodPost, "/api/sessions/room-1/join", map[string]string{"credential": token})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if len(reg.joins) != 1 || reg.joins[0] != "client-1" {
		t.Errorf("expected join recorded for client-1, got %v", reg.joins)
	}
}

func TestJoinSession_WrongRoom(t *testing.T) {
	reg := &stubRegistry{}
	s, issuer := newTestServer(reg)

	token, err := issuer.Issue("room-other", "client-1", types.RoleClient, "consult-1")
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}

	w := doJSON(t, s, http.MethodPost, "/api/sessions/room-1/join", map[string]string{"credential": token})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	if len(reg.joins) != 0 {
		t.Errorf("join should not reach the registry, got %v", reg.joins)
	}
}

func TestJoinSession_BadCredential(t *testing.T) {
	s, _ := newTestServer(&stubRegistry{})

	w := doJSON(t, s, http.MethodPost, "/api/sessions/room-1/join", map[string]string{"credential": "not-a-token"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestLeaveSession(t *testing.T) {
	reg := &stubRegistry{}
	s, _ := newTestServer(reg)

	w := doJSON(t, s, http.MethodPost, "/api/sessions/room-1/leave", map[string]string{"user_id": "client-1"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(reg.leaves) != 1 || reg.leaves[0] != "client-1" {
		t.Errorf("expected leave recorded for client-1, got %v", reg.leaves)
	}
}

func TestEndSession(t *testing.T) {
	s, _ := newTestServer(&stubRegistry{})

	w := doJSON(t, s, http.MethodPost, "/api/sessions/room-1/end", map[string]string{"consultation_id": "consult-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var result types.ReconciliationResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.FinalAmountCents != 10000 || result.Reason != types.EndReasonCompleted {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestEndSession_Mismatch(t *testing.T) {
	s, _ := newTestServer(&stubRegistry{endErr: registry.ErrConsultationMismatch})

	w := doJSON(t, s, http.MethodPost, "/api/sessions/room-1/end", map[string]string{"consultation_id": "consult-2"})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestListSessions(t *testing.T) {
	reg := &stubRegistry{sessions: []*types.Session{
		{RoomID: "room-1", ConsultationID: "consult-1"},
		{RoomID: "room-2", ConsultationID: "consult-2"},
	}}
	s, _ := newTestServer(reg)

	w := doJSON(t, s, http.MethodGet, "/api/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp listSessionsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Sessions) != 2 {
		t.Errorf("expected 2 sessions, got %+v", resp)
	}
}

func TestValidateCredential(t *testing.T) {
	s, issuer := newTestServer(&stubRegistry{})

	token, err := issuer.Issue("room-1", "expert-1", types.RoleExpert, "consult-1")
	if err != nil {
		t.Fatalf("issue credential: %v", err)
	}

	w := doJSON(t, s, http.MethodPost, "/api/credentials/validate", map[string]string{"credential": token})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp validateCredentialResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Valid || resp.RoomID != "room-1" || resp.Role != "expert" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestValidateCredential_Invalid(t *testing.T) {
	s, _ := newTestServer(&stubRegistry{})

	w := doJSON(t, s, http.MethodPost, "/api/credentials/validate", map[string]string{"credential": "garbage"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	var resp validateCredentialResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Valid {
		t.Error("expected valid=false")
	}
}

type stubHealth struct{ err error }

func (h *stubHealth) HealthCheck(ctx context.Context) error { return h.err }

func TestHealthCheck(t *testing.T) {
	issuer := credential.NewIssuer([]byte("test-secret"), time.Hour)

	s := NewServer(&stubRegistry{}, issuer, &stubHealth{}, nil)
	w := doJSON(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	s = NewServer(&stubRegistry{}, issuer, &stubHealth{err: errors.New("db unreachable")}, nil)
	w = doJSON(t, s, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
