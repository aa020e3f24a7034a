// Package submit implements the submission coordinator: create the external
// record from reviewed fields, attach the batch files and signature, and
// clean up local temporary storage no matter what.
package submit

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"receipts-backend/internal/batch"
	"receipts-backend/internal/fields"
	"receipts-backend/internal/recordstore"
	"receipts-backend/internal/shared/telemetry"
)

var (
	ErrInvalidField     = errors.New("invalid field")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidBatch     = errors.New("invalid batch id")
)

const (
	// signaturePrefix is the exact MIME+encoding prefix a signature data
	// URI must carry.
	signaturePrefix = "data:image/png;base64,"
	// maxSignatureBytes caps the decoded signature payload.
	maxSignatureBytes = 100 << 10

	signatureAttachmentName = "signature.png"
)

// RecordStore is the slice of the external store the coordinator needs.
type RecordStore interface {
	CreateItem(ctx context.Context, rec fields.Record) (string, error)
	UploadAttachment(ctx context.Context, itemID, name string, data []byte) error
}

var _ RecordStore = (*recordstore.Client)(nil)

// Request is one submission, consumed exactly once.
type Request struct {
	Fields           map[string]any `json:"fields"`
	SignatureDataURL string         `json:"signatureDataUrl,omitempty"`
	BatchID          string         `json:"batchId,omitempty"`
}

// Service coordinates submissions.
type Service struct {
	Batches    *batch.Store
	Records    RecordStore
	ScratchDir string
}

// Submit validates, creates the record, attaches files, and returns the new
// item id. Local temporary storage for the request is removed in a final
// cleanup phase regardless of outcome; cleanup failures are logged, never
// surfaced.
func (s *Service) Submit(ctx context.Context, req Request, requestID string) (string, error) {
	// Validation happens before the record is created and before any
	// filesystem read, so a rejected submission has no side effects.
	rec, err := fields.Sanitize(req.Fields)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	signature, err := decodeSignature(req.SignatureDataURL)
	if err != nil {
		return "", err
	}
	if req.BatchID != "" {
		if err := s.Batches.CheckID(req.BatchID); err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidBatch, req.BatchID)
		}
	}

	var scratch string
	defer func() {
		if req.BatchID != "" {
			_ = s.Batches.Destroy(req.BatchID)
		}
		if scratch != "" {
			if err := os.Remove(scratch); err != nil && !os.IsNotExist(err) {
				telemetry.Error("submit.cleanup.signature", map[string]any{
					"request_id": requestID,
					"err":        err.Error(),
				})
			}
		}
	}()

	itemID, err := s.Records.CreateItem(ctx, rec)
	if err != nil {
		telemetry.Error("submit.record_create.failed", map[string]any{
			"request_id": requestID,
			"err":        err.Error(),
		})
		return "", fmt.Errorf("create record: %w", err)
	}

	if req.BatchID != "" {
		s.attachBatch(ctx, itemID, req.BatchID, requestID)
	}

	if signature != nil {
		scratch = s.writeSignatureScratch(signature, requestID)
		if err := s.Records.UploadAttachment(ctx, itemID, signatureAttachmentName, signature); err != nil {
			telemetry.Error("submit.attach.signature_failed", map[string]any{
				"request_id": requestID,
				"item_id":    itemID,
				"err":        err.Error(),
			})
		}
	}

	return itemID, nil
}

// attachBatch uploads every stored batch file to the created record. A batch
// that no longer exists means nothing to attach, not an error; individual
// attachment failures are logged and do not fail the submission.
func (s *Service) attachBatch(ctx context.Context, itemID, batchID, requestID string) {
	paths, err := s.Batches.List(batchID)
	if err != nil {
		if errors.Is(err, batch.ErrNotFound) {
			telemetry.Info("submit.attach.no_batch", map[string]any{
				"request_id": requestID,
				"batch_id":   batchID,
			})
			return
		}
		telemetry.Error("submit.attach.list_failed", map[string]any{
			"request_id": requestID,
			"batch_id":   batchID,
			"err":        err.Error(),
		})
		return
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			telemetry.Error("submit.attach.read_failed", map[string]any{
				"request_id": requestID,
				"file":       filepath.Base(path),
				"err":        err.Error(),
			})
			continue
		}
		if err := s.Records.UploadAttachment(ctx, itemID, filepath.Base(path), data); err != nil {
			telemetry.Error("submit.attach.upload_failed", map[string]any{
				"request_id": requestID,
				"item_id":    itemID,
				"file":       filepath.Base(path),
				"err":        err.Error(),
			})
		}
	}
}

// writeSignatureScratch persists the decoded signature to an isolated
// per-request scratch file. A write failure is logged and does not block the
// attachment upload, which works from the in-memory payload.
func (s *Service) writeSignatureScratch(signature []byte, requestID string) string {
	dir := s.ScratchDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, "signature-*.png")
	if err != nil {
		telemetry.Error("submit.signature.scratch_failed", map[string]any{
			"request_id": requestID,
			"err":        err.Error(),
		})
		return ""
	}
	defer f.Close()
	if _, err := f.Write(signature); err != nil {
		telemetry.Error("submit.signature.scratch_failed", map[string]any{
			"request_id": requestID,
			"err":        err.Error(),
		})
	}
	return f.Name()
}

// decodeSignature enforces the exact data-URI shape and the size ceiling.
// An empty input means no signature was captured.
func decodeSignature(dataURL string) ([]byte, error) {
	if dataURL == "" {
		return nil, nil
	}
	if !strings.HasPrefix(dataURL, signaturePrefix) {
		return nil, fmt.Errorf("%w: unexpected encoding", ErrInvalidSignature)
	}
	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURL, signaturePrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed payload", ErrInvalidSignature)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidSignature)
	}
	if len(payload) > maxSignatureBytes {
		return nil, fmt.Errorf("%w: payload too large", ErrInvalidSignature)
	}
	return payload, nil
}
