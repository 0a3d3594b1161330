package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"filevault-backend/internal/files"
	"filevault-backend/internal/shared/server/middleware"
	"filevault-backend/internal/shared/server/respond"
	"filevault-backend/internal/shared/storage/blob"
	"filevault-backend/internal/shared/telemetry"
	"filevault-backend/internal/shared/util"
)

const (
	defaultMaxUploadBytes = 10 << 20
	fileFormField         = "file"
	duplicateWarning      = "File already exists. Returning existing file reference."
)

var errNoFilePart = errors.New("no file provided")

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
	// MaxUploadBytes caps the request body; zero uses the default.
	MaxUploadBytes int64
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{Svc: svc, MaxUploadBytes: maxUploadBytes}
}

// RegisterRoutes attaches file routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/files", h.upload)
	rg.GET("/files", h.list)
	rg.GET("/files/file_types", h.fileTypes)
	rg.GET("/files/:id", h.get)
	rg.GET("/files/:id/download", h.download)
	rg.DELETE("/files/:id", h.delete)
	rg.GET("/storage_stats", h.stats)
}

func (h *Handler) upload(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)

	mr, err := c.Request.MultipartReader()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "multipart form with a file field is required", nil)
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		h.writeError(c, err, "failed to read upload")
		return
	}
	defer part.Close()

	contentType := part.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	res, err := h.Svc.Upload(c.Request.Context(), UploadInput{
		OwnerID:     userID,
		Filename:    part.FileName(),
		ContentType: contentType,
		Size:        declaredSize(part),
		Body:        part,
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			c.Set(middleware.UploadOutcomeKey, "quota_exceeded")
			respond.Error(c, http.StatusTooManyRequests, "quota_exceeded", "Storage Quota Exceeded", gin.H{
				"storage_limit": res.Profile.StorageLimitBytes,
				"logical_used":  res.Profile.LogicalUsed,
				"available":     res.Profile.Available(),
			})
			return
		}
		h.writeError(c, err, "failed to upload file")
		return
	}

	c.Set(middleware.FileIDKey, res.File.ID)
	c.Set(middleware.UploadOutcomeKey, string(res.Outcome))
	if res.Outcome == OutcomeDuplicate {
		existing := toFileResponse(*res.Original)
		respond.OK(c, DuplicateResponse{
			FileResponse: toFileResponse(res.File),
			Warning:      duplicateWarning,
			ExistingFile: existing,
		})
		return
	}
	respond.Created(c, toFileResponse(res.File))
}

// nextFilePart skips to the "file" part; other form fields are discarded.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, errNoFilePart)
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == fileFormField && part.FileName() != "" {
			return part, nil
		}
		_, _ = io.Copy(io.Discard, part)
		part.Close()
	}
}

// declaredSize reads an optional Content-Length on the part; -1 when absent.
func declaredSize(part *multipart.Part) int64 {
	n, err := strconv.ParseInt(part.Header.Get("Content-Length"), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	filters := files.ParseFilters(c.Request.URL.Query())

	records, err := h.Svc.List(c.Request.Context(), userID, filters)
	if err != nil {
		h.writeError(c, err, "failed to list files")
		return
	}
	out := make([]FileResponse, 0, len(records))
	for _, f := range records {
		out = append(out, toFileResponse(f))
	}
	respond.OK(c, listResponse{Files: out, Count: len(out)})
}

func (h *Handler) fileTypes(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	types, err := h.Svc.ContentTypes(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "failed to list file types")
		return
	}
	if types == nil {
		types = []string{}
	}
	respond.OK(c, fileTypesResponse{FileTypes: types})
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	f, err := h.Svc.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to fetch file")
		return
	}
	c.Set(middleware.FileIDKey, f.ID)
	respond.OK(c, toFileResponse(f))
}

func (h *Handler) download(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	f, reader, err := h.Svc.Open(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to load file")
		return
	}
	defer reader.Close()
	c.Set(middleware.FileIDKey, f.ID)

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Length", strconv.FormatInt(f.Size, 10))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", util.SanitizeFileName(f.OriginalFilename)))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		telemetry.Warn("files.download.interrupted", map[string]any{
			"file_id":    f.ID,
			"request_id": c.GetString("requestId"),
			"error":      err,
		})
	}
}

func (h *Handler) delete(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	fileID := c.Param("id")
	c.Set(middleware.FileIDKey, fileID)
	if _, err := h.Svc.Delete(c.Request.Context(), userID, fileID); err != nil {
		h.writeError(c, err, "failed to delete file")
		return
	}
	respond.NoContent(c)
}

func (h *Handler) stats(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	s, err := h.Svc.Stats(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "failed to compute storage stats")
		return
	}
	respond.OK(c, toStatsResponse(s))
}

func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		respond.Error(c, http.StatusRequestEntityTooLarge, "payload_too_large", fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), nil)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, files.ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, ErrForbidden):
		respond.Error(c, http.StatusForbidden, "forbidden", "access denied", nil)
	case errors.Is(err, files.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "file not found", nil)
	case errors.Is(err, files.ErrConflictingReferences):
		respond.Error(c, http.StatusConflict, "conflicting_references", "file has duplicates that reference it; delete those first", nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
	default:
		telemetry.Error("files.request.failed", map[string]any{
			"request_id": c.GetString("requestId"),
			"error":      err,
		})
		respond.Error(c, http.StatusInternalServerError, "internal_error", msg, nil)
	}
}
