package submit

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts-backend/internal/batch"
	"receipts-backend/internal/fields"
)

type attachment struct {
	itemID string
	name   string
	data   []byte
}

// fakeRecordStore records calls and can be scripted to fail.
type fakeRecordStore struct {
	createErr   error
	attachErr   error
	created     []fields.Record
	attachments []attachment
}

func (f *fakeRecordStore) CreateItem(ctx context.Context, rec fields.Record) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, rec)
	return "item-1", nil
}

func (f *fakeRecordStore) UploadAttachment(ctx context.Context, itemID, name string, data []byte) error {
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attachments = append(f.attachments, attachment{itemID: itemID, name: name, data: data})
	return nil
}

func newService(t *testing.T) (*Service, *fakeRecordStore) {
	t.Helper()
	store, err := batch.NewStore(t.TempDir())
	require.NoError(t, err)
	records := &fakeRecordStore{}
	return &Service{Batches: store, Records: records, ScratchDir: t.TempDir()}, records
}

func signatureURL(size int) string {
	payload := make([]byte, size)
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)
}

func attachmentNames(records *fakeRecordStore) []string {
	names := make([]string, 0, len(records.attachments))
	for _, a := range records.attachments {
		names = append(names, a.name)
	}
	return names
}

func TestSubmitCreatesRecordAndAttachesBatch(t *testing.T) {
	svc, records := newService(t)

	batchID, err := svc.Batches.Create()
	require.NoError(t, err)
	_, err = svc.Batches.Put(batchID, "aaaa.png", []byte("receipt bytes"))
	require.NoError(t, err)

	itemID, err := svc.Submit(context.Background(), Request{
		Fields:           map[string]any{"vendor": "Corner Cafe", "total": "18.20"},
		SignatureDataURL: signatureURL(64),
		BatchID:          batchID,
	}, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "item-1", itemID)

	require.Len(t, records.created, 1)
	assert.Equal(t, "Corner Cafe", records.created[0].Vendor)

	names := attachmentNames(records)
	assert.Contains(t, names, "aaaa.png")
	assert.Contains(t, names, "signature.png")

	// Batch removed by the cleanup phase.
	_, err = svc.Batches.List(batchID)
	assert.ErrorIs(t, err, batch.ErrNotFound)
}

func TestSubmitWithoutBatchOrSignature(t *testing.T) {
	svc, records := newService(t)

	itemID, err := svc.Submit(context.Background(), Request{
		Fields: map[string]any{"vendor": "Corner Cafe"},
	}, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "item-1", itemID)
	assert.Empty(t, records.attachments)
}

func TestSubmitRejectsUnknownFieldBeforeRecordCreation(t *testing.T) {
	svc, records := newService(t)

	_, err := svc.Submit(context.Background(), Request{
		Fields: map[string]any{"vendor": "Corner Cafe", "notes": "extra"},
	}, "req-1")
	assert.ErrorIs(t, err, ErrInvalidField)
	assert.Empty(t, records.created)
}

func TestSubmitRejectsBadSignatures(t *testing.T) {
	svc, records := newService(t)

	cases := []struct {
		name string
		url  string
	}{
		{"wrong mime", "data:image/jpeg;base64,aGVsbG8="},
		{"not base64", "data:image/png;base64,%%%%"},
		{"empty payload", "data:image/png;base64,"},
		{"oversize payload", signatureURL(200 << 10)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), Request{
				Fields:           map[string]any{"vendor": "Corner Cafe"},
				SignatureDataURL: tc.url,
			}, "req-1")
			assert.ErrorIs(t, err, ErrInvalidSignature)
		})
	}
	assert.Empty(t, records.created)

	entries, err := os.ReadDir(svc.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected signatures must leave no scratch files")
}

func TestSubmitRejectsMalformedBatchID(t *testing.T) {
	svc, records := newService(t)

	_, err := svc.Submit(context.Background(), Request{
		Fields:  map[string]any{"vendor": "Corner Cafe"},
		BatchID: "../../etc",
	}, "req-1")
	assert.ErrorIs(t, err, ErrInvalidBatch)
	assert.Empty(t, records.created)
}

func TestSubmitSucceedsWhenBatchAlreadyDestroyed(t *testing.T) {
	svc, records := newService(t)

	batchID, err := svc.Batches.Create()
	require.NoError(t, err)
	require.NoError(t, svc.Batches.Destroy(batchID))

	itemID, err := svc.Submit(context.Background(), Request{
		Fields:  map[string]any{"vendor": "Corner Cafe"},
		BatchID: batchID,
	}, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "item-1", itemID)
	assert.Empty(t, records.attachments)
}

func TestSubmitCleansUpWhenRecordCreationFails(t *testing.T) {
	svc, records := newService(t)
	records.createErr = errors.New("store down")

	batchID, err := svc.Batches.Create()
	require.NoError(t, err)
	_, err = svc.Batches.Put(batchID, "aaaa.png", []byte("x"))
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), Request{
		Fields:  map[string]any{"vendor": "Corner Cafe"},
		BatchID: batchID,
	}, "req-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidField)

	// Cleanup runs even on failure.
	_, err = svc.Batches.List(batchID)
	assert.ErrorIs(t, err, batch.ErrNotFound)
}

func TestSubmitSurvivesAttachmentFailures(t *testing.T) {
	svc, records := newService(t)
	records.attachErr = errors.New("upload refused")

	batchID, err := svc.Batches.Create()
	require.NoError(t, err)
	_, err = svc.Batches.Put(batchID, "aaaa.png", []byte("x"))
	require.NoError(t, err)

	itemID, err := svc.Submit(context.Background(), Request{
		Fields:           map[string]any{"vendor": "Corner Cafe"},
		SignatureDataURL: signatureURL(64),
		BatchID:          batchID,
	}, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "item-1", itemID)
}

func TestSubmitRemovesSignatureScratchFile(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Submit(context.Background(), Request{
		Fields:           map[string]any{"vendor": "Corner Cafe"},
		SignatureDataURL: signatureURL(64),
	}, "req-1")
	require.NoError(t, err)

	entries, err := os.ReadDir(svc.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
