// Package recordstore is the client for the external list-and-file store:
// create a record in a list, then attach files to it. Records are keyed by a
// site/list coordinate pair.
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"receipts-backend/internal/fields"
	"receipts-backend/internal/shared/telemetry"
)

const defaultCallTimeout = 15 * time.Second

// Client talks to the record-and-attachment store. An unconfigured client
// runs in mock mode: item creation returns a locally generated identifier and
// attachment uploads are logged no-ops, so the rest of the system is
// exercisable without live external dependencies.
type Client struct {
	baseURL    string
	siteID     string
	listID     string
	token      string
	httpClient *http.Client
}

// New constructs a record store client.
func New(baseURL, siteID, listID, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		siteID:     siteID,
		listID:     listID,
		token:      token,
		httpClient: &http.Client{Timeout: defaultCallTimeout},
	}
}

// Configured reports whether a live record store is wired up.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.siteID != "" && c.listID != ""
}

type createItemRequest struct {
	Fields fields.Record `json:"fields"`
}

type createItemResponse struct {
	ID json.Number `json:"id"`
}

// CreateItem creates a list record with the sanitized fields and returns its
// identifier.
func (c *Client) CreateItem(ctx context.Context, rec fields.Record) (string, error) {
	if !c.Configured() {
		id := "mock-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		telemetry.Info("recordstore.mock_item", map[string]any{"item_id": id})
		return id, nil
	}

	payload, err := json.Marshal(createItemRequest{Fields: rec})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/sites/%s/lists/%s/items", c.baseURL, c.siteID, c.listID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("record create: unexpected status %d", resp.StatusCode)
	}

	var parsed createItemResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("record create: decode: %w", err)
	}
	if parsed.ID.String() == "" {
		return "", fmt.Errorf("record create: missing item id")
	}
	return parsed.ID.String(), nil
}

// UploadAttachment associates a named file with an existing record.
func (c *Client) UploadAttachment(ctx context.Context, itemID, name string, data []byte) error {
	if !c.Configured() {
		telemetry.Info("recordstore.mock_attachment", map[string]any{
			"item_id": itemID,
			"name":    name,
			"bytes":   len(data),
		})
		return nil
	}

	endpoint := fmt.Sprintf("%s/sites/%s/lists/%s/items/%s/attachments/%s/content",
		c.baseURL, c.siteID, c.listID, url.PathEscape(itemID), url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("attachment upload: unexpected status %d", resp.StatusCode)
	}
	return nil
}
