package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"content-regions/errors"
	"content-regions/models"
)

var pageOne = models.ParentRef{Type: "page", ID: "1"}

func TestChunkHandler_AddChunk(t *testing.T) {
	tests := []struct {
		name           string
		vars           map[string]string
		body           string
		mockChunk      *models.Chunk
		mockError      error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "successful add",
			vars:           map[string]string{"type": "page", "id": "1"},
			body:           `{"region":"main_area","kind":"text","payload":{"body":"hi"}}`,
			mockChunk:      &models.Chunk{ID: 7, Parent: pageOne, Region: "main_area", Position: 1, Kind: models.KindText},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "limit reached",
			vars:           map[string]string{"type": "page", "id": "1"},
			body:           `{"region":"header","kind":"text","payload":{"body":"hi"}}`,
			mockError:      errors.NewConflictError(errors.ErrCodeLimitReached, "limit reached", nil),
			expectedStatus: http.StatusConflict,
			expectedCode:   errors.ErrCodeLimitReached,
		},
		{
			name:           "unknown kind",
			vars:           map[string]string{"type": "page", "id": "1"},
			body:           `{"region":"main_area","kind":"video"}`,
			mockError:      errors.NewValidationError(errors.ErrCodeUnknownKind, "unknown kind", nil),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   errors.ErrCodeUnknownKind,
		},
		{
			name:           "missing parent id",
			vars:           map[string]string{"type": "page"},
			body:           `{"region":"main_area","kind":"text"}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   errors.ErrCodeMissingField,
		},
		{
			name:           "invalid body",
			vars:           map[string]string{"type": "page", "id": "1"},
			body:           `{"region":`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockChunkService)
			handler := NewChunkHandler(mockService, nil)

			if tt.mockChunk != nil || tt.mockError != nil {
				mockService.On("AddChunk", mock.Anything, mock.MatchedBy(func(req models.AddRequest) bool {
					return req.Parent == pageOne && req.Region != ""
				})).Return(tt.mockChunk, tt.mockError)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/parents/page/1/chunks", strings.NewReader(tt.body))
			req = mux.SetURLVars(req, tt.vars)
			w := httptest.NewRecorder()

			handler.AddChunk(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedCode != "" {
				var apiErr models.APIError
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
				assert.Equal(t, tt.expectedCode, apiErr.Code)
			}
			if tt.mockChunk != nil {
				var chunk models.Chunk
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chunk))
				assert.Equal(t, tt.mockChunk.ID, chunk.ID)
			}

			mockService.AssertExpectations(t)
		})
	}
}

func TestChunkHandler_MoveChunk(t *testing.T) {
	result := &models.MoveResult{
		Chunk:               models.Chunk{ID: 5, Parent: pageOne, Region: "sidebar", Position: 2},
		SourceRegion:        "main_area",
		CrossRegion:         true,
		SourceAffected:      []int64{6},
		DestinationAffected: []int64{5, 9},
	}

	tests := []struct {
		name           string
		contentType    string
		body           string
		expected       *models.MoveRequest
		mockError      error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "json body",
			contentType:    "application/json",
			body:           `{"pk":5,"position":2,"region":"sidebar"}`,
			expected:       &models.MoveRequest{ChunkID: 5, Position: 2, Region: "sidebar"},
			expectedStatus: http.StatusOK,
		},
		{
			name:        "admin form",
			contentType: "application/x-www-form-urlencoded",
			body: url.Values{
				"pk":       {"5"},
				"position": {"2"},
				"region":   {"sidebar"},
				"template": {"home.html"},
			}.Encode(),
			expected:       &models.MoveRequest{ChunkID: 5, Position: 2, Region: "sidebar", Template: "home.html"},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "form without position",
			contentType:    "application/x-www-form-urlencoded",
			body:           "pk=5",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "json without position",
			contentType:    "application/json",
			body:           `{"pk":3}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   errors.ErrCodeMissingField,
		},
		{
			name:           "json without pk",
			contentType:    "application/json",
			body:           `{"position":1}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   errors.ErrCodeMissingField,
		},
		{
			name:           "json moving to the top",
			contentType:    "application/json",
			body:           `{"pk":3,"position":0}`,
			expected:       &models.MoveRequest{ChunkID: 3, Position: 0},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "form with bad pk",
			contentType:    "application/x-www-form-urlencoded",
			body:           "pk=five&position=1",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "chunk not found",
			contentType:    "application/json",
			body:           `{"pk":404,"position":1}`,
			expected:       &models.MoveRequest{ChunkID: 404, Position: 1},
			mockError:      errors.NewNotFoundError(errors.ErrCodeChunkNotFound, "chunk 404 not found", nil),
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "store failure",
			contentType:    "application/json",
			body:           `{"pk":5,"position":1}`,
			expected:       &models.MoveRequest{ChunkID: 5, Position: 1},
			mockError:      fmt.Errorf("connection reset"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockChunkService)
			handler := NewChunkHandler(mockService, nil)

			if tt.expected != nil {
				var ret *models.MoveResult
				if tt.mockError == nil {
					ret = result
				}
				mockService.On("MoveChunk", mock.Anything, *tt.expected).Return(ret, tt.mockError)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/chunks/move", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			w := httptest.NewRecorder()

			handler.MoveChunk(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var got models.MoveResult
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
				assert.True(t, got.CrossRegion)
				assert.Equal(t, []int64{5, 9}, got.DestinationAffected)
			}
			if tt.expectedCode != "" {
				var apiErr models.APIError
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &apiErr))
				assert.Equal(t, tt.expectedCode, apiErr.Code)
			}

			mockService.AssertExpectations(t)
		})
	}
}

func TestChunkHandler_DeleteChunk(t *testing.T) {
	tests := []struct {
		name           string
		chunkID        string
		callService    bool
		mockError      error
		expectedStatus int
	}{
		{
			name:           "successful delete",
			chunkID:        "3",
			callService:    true,
			expectedStatus: http.StatusNoContent,
		},
		{
			name:           "not found",
			chunkID:        "3",
			callService:    true,
			mockError:      errors.NewNotFoundError(errors.ErrCodeChunkNotFound, "chunk 3 not found", nil),
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "non numeric id",
			chunkID:        "abc",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockChunkService)
			handler := NewChunkHandler(mockService, nil)

			if tt.callService {
				var ret *models.Chunk
				if tt.mockError == nil {
					ret = &models.Chunk{ID: 3}
				}
				mockService.On("DeleteChunk", mock.Anything, int64(3)).Return(ret, tt.mockError)
			}

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/chunks/"+tt.chunkID, bytes.NewReader(nil))
			req = mux.SetURLVars(req, map[string]string{"id": tt.chunkID})
			w := httptest.NewRecorder()

			handler.DeleteChunk(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			mockService.AssertExpectations(t)
		})
	}
}
