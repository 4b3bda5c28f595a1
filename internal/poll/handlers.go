package poll

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/specter/community-engine/internal/store"
)

// createRequest is the JSON body for POST /api/v1/polls.
type createRequest struct {
	CreatorID string     `json:"creator_id"`
	Question  string     `json:"question"`
	Options   []string   `json:"options"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// voteRequest is the JSON body for POST /api/v1/polls/{pollID}/vote.
type voteRequest struct {
	AccountID string `json:"account_id"`
	Option    string `json:"option"`
}

// HandleCreate handles POST /api/v1/polls
// Only moderators and admins may create polls.
func (e *Engine) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.CreatorID == "" || req.Question == "" {
		writeError(w, "creator_id and question are required", http.StatusBadRequest)
		return
	}

	creator, err := e.store.GetAccount(r.Context(), req.CreatorID)
	if err != nil {
		writeError(w, "creator not found", http.StatusNotFound)
		return
	}
	if creator.Role != "moderator" && creator.Role != "admin" {
		writeError(w, "only moderators can create polls", http.StatusForbidden)
		return
	}

	p, err := e.Create(r.Context(), req.CreatorID, req.Question, req.Options, req.ExpiresAt)
	if err != nil {
		if errors.Is(err, ErrInvalidOptions) {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, "failed to create poll", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

// HandleListActive handles GET /api/v1/polls
func (e *Engine) HandleListActive(w http.ResponseWriter, r *http.Request) {
	polls, err := e.ListActive(r.Context())
	if err != nil {
		writeError(w, "failed to list polls", http.StatusInternalServerError)
		return
	}
	if polls == nil {
		polls = []ActivePoll{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(polls)
}

// HandleVote handles POST /api/v1/polls/{pollID}/vote
func (e *Engine) HandleVote(w http.ResponseWriter, r *http.Request) {
	pollID := chi.URLParam(r, "pollID")

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" || req.Option == "" {
		writeError(w, "account_id and option are required", http.StatusBadRequest)
		return
	}

	event, err := e.Vote(r.Context(), req.AccountID, pollID, req.Option)
	if err != nil {
		switch {
		case errors.Is(err, ErrPollNotFound):
			writeError(w, "poll not found", http.StatusNotFound)
		case errors.Is(err, ErrPollExpired):
			writeError(w, "poll has expired", http.StatusGone)
		case errors.Is(err, ErrAlreadyVoted):
			writeError(w, "you have already voted in this poll", http.StatusConflict)
		case errors.Is(err, ErrInvalidOption):
			writeError(w, "invalid option", http.StatusBadRequest)
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "account not found", http.StatusNotFound)
		default:
			writeError(w, "failed to record vote", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"xp_awarded": event.Amount,
		"event_id":   event.ID,
	})
}

// HandleResults handles GET /api/v1/polls/{pollID}/results
func (e *Engine) HandleResults(w http.ResponseWriter, r *http.Request) {
	pollID := chi.URLParam(r, "pollID")

	results, err := e.Results(r.Context(), pollID)
	if err != nil {
		if errors.Is(err, ErrPollNotFound) {
			writeError(w, "poll not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to load results", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
