package submit

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts-backend/internal/batch"
)

func newTestRouter(t *testing.T, records RecordStore) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := batch.NewStore(t.TempDir())
	require.NoError(t, err)

	r := gin.New()
	h := NewHandler(&Service{Batches: store, Records: records, ScratchDir: t.TempDir()})
	h.RegisterRoutes(r.Group("/api"))
	return r
}

func postSubmit(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/submit", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSubmitEndpointHappyPath(t *testing.T) {
	r := newTestRouter(t, &fakeRecordStore{})

	rec := postSubmit(t, r, `{"fields":{"vendor":"Corner Cafe","total":"18.20"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "item-1", body["itemId"])
}

func TestSubmitEndpointRejectsMalformedBody(t *testing.T) {
	r := newTestRouter(t, &fakeRecordStore{})

	rec := postSubmit(t, r, `{"fields":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid-body")
}

func TestSubmitEndpointMapsValidationErrors(t *testing.T) {
	r := newTestRouter(t, &fakeRecordStore{})

	cases := []struct {
		name string
		body string
		code string
	}{
		{"unknown field", `{"fields":{"vendor":"x","notes":"y"}}`, "invalid-field"},
		{"bad signature", `{"fields":{"vendor":"x"},"signatureDataUrl":"data:image/jpeg;base64,aGk="}`, "invalid-signature"},
		{"bad batch id", `{"fields":{"vendor":"x"},"batchId":"nope"}`, "invalid-batch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postSubmit(t, r, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.code)
		})
	}
}

func TestSubmitEndpointHidesStoreFailureDetail(t *testing.T) {
	r := newTestRouter(t, &fakeRecordStore{createErr: assert.AnError})

	rec := postSubmit(t, r, `{"fields":{"vendor":"Corner Cafe"}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal")
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}
