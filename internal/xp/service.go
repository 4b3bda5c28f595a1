package xp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/specter/community-engine/internal/model"
	"github.com/specter/community-engine/internal/store"
)

const defaultLeaderboardSize = 10

// Service exposes the account and gamification endpoints over HTTP.
type Service struct {
	engine *Engine
	store  store.Store
}

// NewService creates the HTTP layer over the XP engine.
func NewService(engine *Engine, st store.Store) *Service {
	return &Service{engine: engine, store: st}
}

// registerRequest is the JSON body for POST /accounts.
type registerRequest struct {
	Username string `json:"username"`
	Role     string `json:"role,omitempty"`
}

// HandleRegister handles POST /api/v1/accounts
func (s *Service) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		writeError(w, "username is required", http.StatusBadRequest)
		return
	}

	account, err := s.engine.Register(r.Context(), req.Username, req.Role)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, "username already taken", http.StatusConflict)
			return
		}
		writeError(w, "failed to register account", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// HandleLogin handles POST /api/v1/accounts/{accountID}/login
// Grants the daily bonus and maintains the streak. Credential checking is
// the session layer's concern, not this core's.
func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	if err := s.engine.RecordLogin(r.Context(), accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to record login", http.StatusInternalServerError)
		return
	}

	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// HandleGetAccount handles GET /api/v1/accounts/{accountID}
func (s *Service) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	account, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}

	stats, err := s.store.AccountStats(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load stats", http.StatusInternalServerError)
		return
	}

	resp := struct {
		*model.Account
		Stats *model.AccountStats `json:"stats"`
	}{account, stats}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandleNewsRead handles POST /api/v1/accounts/{accountID}/news-read
func (s *Service) HandleNewsRead(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	if err := s.engine.RecordNewsRead(r.Context(), accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "account not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to record news read", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"xp_awarded": RewardNewsRead})
}

// achievementStatus is one catalog entry with the account's unlock state.
type achievementStatus struct {
	Achievement
	Earned   bool   `json:"earned"`
	EarnedAt string `json:"earned_at,omitempty"`
}

// HandleAchievements handles GET /api/v1/accounts/{accountID}/achievements
func (s *Service) HandleAchievements(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	unlocks, err := s.store.GetUnlocks(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load achievements", http.StatusInternalServerError)
		return
	}
	earnedAt := make(map[string]string, len(unlocks))
	for _, u := range unlocks {
		earnedAt[u.AchievementID] = u.EarnedAt.Format("2006-01-02T15:04:05Z07:00")
	}

	statuses := make([]achievementStatus, 0, len(s.engine.Catalog()))
	for _, a := range s.engine.Catalog() {
		statuses = append(statuses, achievementStatus{
			Achievement: a,
			Earned:      earnedAt[a.ID] != "",
			EarnedAt:    earnedAt[a.ID],
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statuses)
}

// HandleLeaderboard handles GET /api/v1/leaderboard?limit=N
func (s *Service) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	entries, err := s.engine.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, "failed to load leaderboard", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
