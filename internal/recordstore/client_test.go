package recordstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts-backend/internal/fields"
)

func TestMockModeGeneratesLocalItemIDs(t *testing.T) {
	c := New("", "", "", "")
	require.False(t, c.Configured())

	first, err := c.CreateItem(context.Background(), fields.Record{Vendor: "Corner Cafe"})
	require.NoError(t, err)
	second, err := c.CreateItem(context.Background(), fields.Record{Vendor: "Corner Cafe"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first, "mock-"))
	assert.Len(t, first, len("mock-")+8)
	assert.NotEqual(t, first, second)

	// Attachments are no-ops in mock mode.
	require.NoError(t, c.UploadAttachment(context.Background(), first, "signature.png", []byte("png")))
}

func TestCreateItemPostsFieldsAndReturnsID(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sites/site-1/lists/list-1/items", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 42}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "site-1", "list-1", "tok")
	require.True(t, c.Configured())

	id, err := c.CreateItem(context.Background(), fields.Record{Vendor: "Corner Cafe", Total: "18.20"})
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	wrapped, ok := captured["fields"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Corner Cafe", wrapped["vendor"])
	assert.Equal(t, "18.20", wrapped["total"])
}

func TestCreateItemRejectsBadResponses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"unauthorized", http.StatusUnauthorized, `{}`},
		{"missing id", http.StatusCreated, `{}`},
		{"garbage body", http.StatusCreated, `not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			c := New(srv.URL, "site-1", "list-1", "tok")
			_, err := c.CreateItem(context.Background(), fields.Record{})
			assert.Error(t, err)
		})
	}
}

func TestUploadAttachmentEscapesPathSegments(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "site-1", "list-1", "tok")
	err := c.UploadAttachment(context.Background(), "42", "receipt one.png", []byte("png bytes"))
	require.NoError(t, err)

	assert.Equal(t, "/sites/site-1/lists/list-1/items/42/attachments/receipt%20one.png/content", gotPath)
	assert.Equal(t, []byte("png bytes"), gotBody)
}

func TestUploadAttachmentSurfacesFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, "site-1", "list-1", "tok")
	err := c.UploadAttachment(context.Background(), "42", "signature.png", []byte("png"))
	assert.Error(t, err)
}
