// Package intake validates uploaded files before any byte reaches durable
// storage and assigns each accepted file an opaque storage name.
package intake

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
)

const (
	// MaxFiles is the maximum number of files accepted per upload request.
	MaxFiles = 5
	// MaxFileBytes is the maximum declared size per file.
	MaxFileBytes = 10 << 20
)

// Rejection classifications.
const (
	ClassTooMany         = "too-many"
	ClassTooLarge        = "too-large"
	ClassEmpty           = "empty"
	ClassUnsupportedType = "unsupported-type"
	ClassUnsafeName      = "unsafe-name"
)

// allowedTypes maps accepted declared content types to their media family.
var allowedTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"application/pdf": {},
}

// allowedExts maps accepted extensions to the content type they must declare.
var allowedExts = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
}

// File describes one uploaded file as declared by the client. Nothing here is
// trusted beyond the checks in Validate.
type File struct {
	Name        string
	ContentType string
	Size        int64
}

// Validated is a file that passed all checks, carrying its generated storage
// name. The storage name derives only from random bytes and the allow-listed
// extension, never from the original name.
type Validated struct {
	OriginalName string
	StorageName  string
	ContentType  string
	Size         int64
}

// Error is a classified intake rejection.
type Error struct {
	Class   string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Validate checks the whole file set. Any single violation rejects the entire
// batch; partial acceptance is not permitted.
func Validate(files []File) ([]Validated, error) {
	if len(files) > MaxFiles {
		return nil, &Error{Class: ClassTooMany, Message: "too many files"}
	}

	out := make([]Validated, 0, len(files))
	for _, f := range files {
		if err := checkName(f.Name); err != nil {
			return nil, err
		}
		contentType := normalizeContentType(f.ContentType)
		if _, ok := allowedTypes[contentType]; !ok {
			return nil, &Error{Class: ClassUnsupportedType, Message: "unsupported file type"}
		}
		ext := strings.ToLower(filepath.Ext(f.Name))
		if allowedExts[ext] != contentType {
			return nil, &Error{Class: ClassUnsupportedType, Message: "unsupported file extension"}
		}
		if f.Size > MaxFileBytes {
			return nil, &Error{Class: ClassTooLarge, Message: "file too large"}
		}
		if f.Size <= 0 {
			return nil, &Error{Class: ClassEmpty, Message: "empty file"}
		}
		out = append(out, Validated{
			OriginalName: f.Name,
			StorageName:  uuid.NewString() + ext,
			ContentType:  contentType,
			Size:         f.Size,
		})
	}
	return out, nil
}

// ProbePDF rejects payloads that declare application/pdf but cannot be parsed
// as one.
func ProbePDF(data []byte) error {
	if _, err := pdf.NewReader(bytes.NewReader(data), int64(len(data))); err != nil {
		return &Error{Class: ClassUnsupportedType, Message: "unreadable pdf"}
	}
	return nil
}

func checkName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return &Error{Class: ClassUnsafeName, Message: "missing file name"}
	}
	if strings.Contains(trimmed, "../") || strings.Contains(trimmed, `..\`) {
		return &Error{Class: ClassUnsafeName, Message: "unsafe file name"}
	}
	if strings.HasPrefix(trimmed, ".") {
		return &Error{Class: ClassUnsafeName, Message: "unsafe file name"}
	}
	return nil
}

func normalizeContentType(raw string) string {
	return strings.ToLower(strings.TrimSpace(strings.Split(raw, ";")[0]))
}
