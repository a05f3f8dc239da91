package handlers

import (
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"content-regions/services"
)

// brokenConnection accepts the status line and fails every body write
type brokenConnection struct {
	*httptest.ResponseRecorder
}

func (b brokenConnection) Write([]byte) (int, error) {
	return 0, stderrors.New("connection reset by peer")
}

func TestWriteJSONResponse_LogsEncodeFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := services.NewZapLogger(zap.New(core))
	w := brokenConnection{httptest.NewRecorder()}

	writeJSONResponse(w, logger, http.StatusOK, map[string]int{"writes": 2})

	assert.Equal(t, http.StatusOK, w.Code)
	entries := logs.FilterMessage("failed to encode response").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
}
