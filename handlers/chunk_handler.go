package handlers

import (
	"encoding/json"
	"mime"
	"net/http"
	"strconv"

	"content-regions/errors"
	"content-regions/models"
	"content-regions/services"
)

// ChunkHandler handles chunk writes: add, move and delete
type ChunkHandler struct {
	chunks services.ChunkService
	logger services.Logger
}

// NewChunkHandler creates a new chunk handler
func NewChunkHandler(chunks services.ChunkService, logger services.Logger) *ChunkHandler {
	if logger == nil {
		logger = services.NewNopLogger()
	}
	return &ChunkHandler{
		chunks: chunks,
		logger: logger.With(services.String("component", "chunk_handler")),
	}
}

// AddChunk handles POST /api/v1/parents/{type}/{id}/chunks
func (h *ChunkHandler) AddChunk(w http.ResponseWriter, r *http.Request) {
	parent, err := parentFromVars(r)
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}

	var req models.CreateChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	chunk, err := h.chunks.AddChunk(r.Context(), models.AddRequest{
		Parent:   parent,
		Region:   req.Region,
		Kind:     req.Kind,
		Position: req.Position,
		Payload:  req.Payload,
		Template: req.Template,
	})
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}

	writeJSONResponse(w, h.logger, http.StatusCreated, chunk)
}

// MoveChunk handles POST /api/v1/chunks/move. The admin drag-and-drop
// widget posts a form; API clients send JSON.
func (h *ChunkHandler) MoveChunk(w http.ResponseWriter, r *http.Request) {
	req, err := decodeMoveRequest(r)
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}

	result, err := h.chunks.MoveChunk(r.Context(), models.MoveRequest{
		ChunkID:  req.PK,
		Position: req.Position,
		Region:   req.Region,
		Template: req.Template,
	})
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}

	writeJSONResponse(w, h.logger, http.StatusOK, result)
}

// DeleteChunk handles DELETE /api/v1/chunks/{id}
func (h *ChunkHandler) DeleteChunk(w http.ResponseWriter, r *http.Request) {
	id, err := int64Var(r, "id")
	if err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}

	if _, err := h.chunks.DeleteChunk(r.Context(), id); err != nil {
		writeAppErrorResponse(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func decodeMoveRequest(r *http.Request) (*models.MoveChunkRequest, error) {
	var req models.MoveChunkRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseForm(); err != nil {
			return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, "invalid form body", err)
		}
		pk, err := formInt(r, "pk")
		if err != nil {
			return nil, err
		}
		position, err := formInt(r, "position")
		if err != nil {
			return nil, err
		}
		req.PK = pk
		req.Position = int(position)
		req.Region = r.FormValue("region")
		req.Template = r.FormValue("template")
	default:
		var body moveBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, "invalid request body", err)
		}
		if body.PK == nil {
			return nil, errors.NewValidationError(errors.ErrCodeMissingField, "Required field is empty: pk", nil)
		}
		if body.Position == nil {
			return nil, errors.NewValidationError(errors.ErrCodeMissingField, "Required field is empty: position", nil)
		}
		req.PK = *body.PK
		req.Position = *body.Position
		req.Region = body.Region
		req.Template = body.Template
	}

	return &req, nil
}

// moveBody is a JSON move; absent pk or position must not decode as 0
type moveBody struct {
	PK       *int64 `json:"pk"`
	Position *int   `json:"position"`
	Region   string `json:"region"`
	Template string `json:"template"`
}

func formInt(r *http.Request, field string) (int64, error) {
	raw := r.FormValue(field)
	if raw == "" {
		return 0, errors.NewValidationError(errors.ErrCodeMissingField, "Required field is empty: "+field, nil)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.NewValidationError(errors.ErrCodeInvalidInput, "Invalid "+field+": "+raw, err)
	}
	return n, nil
}
