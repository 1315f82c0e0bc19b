package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/relves/hcsdid/internal/storage"
	"github.com/relves/hcsdid/pkg/hcs"
)

// HTTPHandler serves topic state from a local ledger.
type HTTPHandler struct {
	ledger storage.TopicLedger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(ledger storage.TopicLedger) *HTTPHandler {
	return &HTTPHandler{
		ledger: ledger,
	}
}

// HeadResponse is the response for GET /topics/{topicID}/head.
type HeadResponse struct {
	TopicID        string `json:"topic_id"`
	Memo           string `json:"memo,omitempty"`
	SequenceNumber uint64 `json:"sequence_number"`
	RunningHash    string `json:"running_hash,omitempty"`
}

// HandleGetHead handles GET /topics/{topicID}/head.
// Returns the last sequence number and the Merkle root over the topic's messages.
func (h *HTTPHandler) HandleGetHead(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topicID")
	if topicID == "" {
		http.Error(w, "topicID required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	info, err := h.ledger.GetTopicInfo(ctx, topicID)
	if err != nil {
		switch {
		case errors.Is(err, hcs.ErrInvalidTopicID):
			http.Error(w, "invalid topicID", http.StatusBadRequest)
		case errors.Is(err, hcs.ErrTopicNotFound):
			http.Error(w, "topic not found", http.StatusNotFound)
		default:
			slog.Error("failed to get topic", "topicID", topicID, "error", err)
			http.Error(w, "failed to get topic", http.StatusInternalServerError)
		}
		return
	}

	size, root, err := h.ledger.GetTreeState(ctx, topicID)
	if err != nil {
		slog.Error("failed to get tree state", "topicID", topicID, "error", err)
		http.Error(w, "failed to get tree state", http.StatusInternalServerError)
		return
	}

	resp := HeadResponse{
		TopicID:        topicID,
		Memo:           info.Memo,
		SequenceNumber: size,
	}
	if len(root) > 0 {
		resp.RunningHash = hex.EncodeToString(root)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
