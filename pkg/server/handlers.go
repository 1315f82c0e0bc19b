package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/relves/hcsdid/pkg/did"
	"github.com/relves/hcsdid/pkg/file"
	"github.com/relves/hcsdid/pkg/hcs"
	"github.com/relves/hcsdid/pkg/hcs/chunk"
)

// ResolutionContentType is the media type of a full resolution result.
const ResolutionContentType = `application/ld+json;profile="https://w3id.org/did-resolution"`

// statusFor maps a resolution error code to an HTTP status.
func statusFor(res *did.ResolutionResult) int {
	switch res.ResolutionMetadata.Error {
	case "":
		return http.StatusOK
	case did.ErrorInvalidDID:
		return http.StatusBadRequest
	case did.ErrorNotFound:
		return http.StatusNotFound
	case did.ErrorUnknownNetwork:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// HandleResolve handles GET /1.0/identifiers/{did}.
// Deactivated DIDs are answered with 410 Gone and the result body.
func (s *Server) HandleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("did")
	if id == "" {
		http.Error(w, "did required", http.StatusBadRequest)
		return
	}

	res := s.resolver.Resolve(r.Context(), id)
	status := statusFor(res)
	if res.OK() && res.DocumentMetadata.Deactivated {
		status = http.StatusGone
	}

	contentType := ResolutionContentType
	if status == http.StatusOK {
		contentType = res.ResolutionMetadata.ContentType
	}
	s.writeJSON(w, status, contentType, res)
}

// BatchRequest is the body of POST /1.0/identifiers.
type BatchRequest struct {
	DIDs []string `json:"dids"`
}

// HandleResolveMany handles POST /1.0/identifiers. Results are returned in
// request order.
func (s *Server) HandleResolveMany(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.DIDs) == 0 {
		http.Error(w, "dids required", http.StatusBadRequest)
		return
	}
	if len(req.DIDs) > s.maxBatch {
		http.Error(w, "too many dids, limit is "+strconv.Itoa(s.maxBatch), http.StatusRequestEntityTooLarge)
		return
	}

	s.writeJSON(w, http.StatusOK, "application/json", s.resolver.ResolveMany(r.Context(), req.DIDs))
}

// HandleFile handles GET /files/{topicID} and returns the raw payload.
func (s *Server) HandleFile(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topicID")
	if topicID == "" {
		http.Error(w, "topicID required", http.StatusBadRequest)
		return
	}

	f, err := s.files.Resolve(r.Context(), topicID)
	if err != nil {
		switch {
		case errors.Is(err, hcs.ErrInvalidTopicID):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, hcs.ErrTopicNotFound):
			http.Error(w, "topic not found", http.StatusNotFound)
		case errors.Is(err, file.ErrInvalidFileTopic),
			errors.Is(err, file.ErrInvalidFilePayload),
			errors.Is(err, chunk.ErrIncomplete):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, hcs.ErrTimeout):
			http.Error(w, "resolution timed out", http.StatusGatewayTimeout)
		default:
			s.logger.Error("failed to resolve file", "topicID", topicID, "error", err)
			http.Error(w, "failed to resolve file", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(f.Payload))
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Payload)))
	w.Header().Set("ETag", `"`+f.CID.String()+`"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(f.Payload); err != nil {
		s.logger.Debug("failed to write file payload", "topicID", topicID, "error", err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}
