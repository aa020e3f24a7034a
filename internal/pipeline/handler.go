package pipeline

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"receipts-backend/internal/intake"
	"receipts-backend/internal/shared/metrics"
	"receipts-backend/internal/shared/server/middleware"
	"receipts-backend/internal/shared/server/respond"
	"receipts-backend/internal/shared/telemetry"
)

// uploadField is the fixed multipart field name clients must use.
const uploadField = "receipts"

// maxRequestBytes bounds the whole multipart body: all parts plus form
// overhead. Anything larger is rejected while reading.
const maxRequestBytes = intake.MaxFiles*intake.MaxFileBytes + (1 << 20)

// Handler exposes the upload route.
type Handler struct {
	svc *Service
}

// NewHandler constructs the upload handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the pipeline routes on the given group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/upload", h.upload)
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes)

	form, err := c.MultipartForm()
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respond.Error(c, http.StatusRequestEntityTooLarge, intake.ClassTooLarge, "request body too large", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "invalid-form", "invalid multipart form", nil)
		return
	}

	headers := form.File[uploadField]
	if len(headers) == 0 {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		respond.Error(c, http.StatusBadRequest, "no-files", "no files uploaded", nil)
		return
	}

	declared := make([]intake.File, 0, len(headers))
	for _, fh := range headers {
		declared = append(declared, intake.File{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
		})
	}

	// The whole batch is validated against declared metadata before any
	// byte is read, so an oversize member rejects the request with no
	// batch directory created.
	validated, err := intake.Validate(declared)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("rejected").Inc()
		var intakeErr *intake.Error
		if errors.As(err, &intakeErr) {
			respond.Error(c, intakeStatus(intakeErr.Class), intakeErr.Class, intakeErr.Message, nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, "invalid-input", "invalid upload", nil)
		return
	}

	uploads := make([]Upload, len(validated))
	for i, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			metrics.UploadsTotal.WithLabelValues("rejected").Inc()
			respond.Error(c, http.StatusBadRequest, "invalid-input", "failed to read uploaded file", nil)
			return
		}
		if len(data) == 0 {
			metrics.UploadsTotal.WithLabelValues("rejected").Inc()
			respond.Error(c, http.StatusBadRequest, intake.ClassEmpty, "empty file", nil)
			return
		}
		if len(data) > intake.MaxFileBytes {
			metrics.UploadsTotal.WithLabelValues("rejected").Inc()
			respond.Error(c, http.StatusRequestEntityTooLarge, intake.ClassTooLarge, "file too large", nil)
			return
		}
		if validated[i].ContentType == "application/pdf" {
			if err := intake.ProbePDF(data); err != nil {
				metrics.UploadsTotal.WithLabelValues("rejected").Inc()
				respond.Error(c, http.StatusBadRequest, intake.ClassUnsupportedType, "unreadable pdf", nil)
				return
			}
		}
		uploads[i] = Upload{
			OriginalName: validated[i].OriginalName,
			StorageName:  validated[i].StorageName,
			ContentType:  validated[i].ContentType,
			Data:         data,
		}
	}

	res, err := h.svc.Process(c.Request.Context(), uploads)
	if err != nil {
		if errors.Is(err, ErrNoFiles) {
			metrics.UploadsTotal.WithLabelValues("rejected").Inc()
			respond.Error(c, http.StatusBadRequest, "no-files", "no files uploaded", nil)
			return
		}
		metrics.UploadsTotal.WithLabelValues("error").Inc()
		telemetry.Error("upload.failed", map[string]any{
			"request_id": middleware.RequestIDFromContext(c),
			"err":        err.Error(),
		})
		respond.Error(c, http.StatusInternalServerError, "internal", "Unexpected server error", nil)
		return
	}

	c.Set("batchId", res.BatchID)
	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	respond.OK(c, res)
}

func intakeStatus(class string) int {
	switch class {
	case intake.ClassTooMany, intake.ClassTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusBadRequest
	}
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, intake.MaxFileBytes+1))
}
