package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"courier/internal/server/config"
	"courier/internal/server/database"
	"courier/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the Courier API.
type Handler struct {
	svc *service.TransferService
	db  *database.DB
	cfg *config.Config
}

// NewHandler creates a new handler with its dependencies.
func NewHandler(svc *service.TransferService, db *database.DB, cfg *config.Config) *Handler {
	return &Handler{svc: svc, db: db, cfg: cfg}
}

// HandleUpload handles POST /upload.
// Accepts a multipart form with one or more "files" fields plus optional
// "expiryDays", "requireCode", and "email" form fields.
func (h *Handler) HandleUpload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "multipart form required (use form field 'files')",
		})
	}

	headers := form.File["files"]

	opts := service.CreateOptions{
		ExpiryDays:  h.cfg.DefaultExpiryDays,
		RequireCode: true,
		OwnerEmail:  c.FormValue("email"),
	}
	if v := c.FormValue("expiryDays"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days >= 1 {
			opts.ExpiryDays = days
		}
	}
	if v := c.FormValue("requireCode"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.RequireCode = b
		}
	}

	files := make([]service.UploadFile, 0, len(headers))
	for _, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{
				"error": "failed to read uploaded file",
			})
		}
		defer src.Close()

		files = append(files, service.UploadFile{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        src,
		})
	}

	result, err := h.svc.CreateTransfer(c.Request().Context(), files, opts)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, result)
}

// HandleVerify handles POST /verify/:id.
// Checks the access code and returns the sanitized file listing.
func (h *Handler) HandleVerify(c echo.Context) error {
	var body struct {
		Code string `json:"code"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.svc.Verify(c.Request().Context(), c.Param("id"), body.Code)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// HandleDownload handles GET /download/:id/:filename.
// Streams one file as an attachment under its original name, with range
// support. The download is billed against the quota only after the body
// has been sent to a client that did not disconnect.
func (h *Handler) HandleDownload(c echo.Context) error {
	transfer, stream, err := h.svc.OpenFile(
		c.Request().Context(),
		c.Param("id"),
		c.Param("filename"),
		c.QueryParam("code"),
	)
	if err != nil {
		return mapServiceError(c, err)
	}
	defer stream.Content.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, stream.ContentType)
	res.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename=%q`, stream.Name))

	// ServeContent handles Content-Length, range requests, and
	// If-Modified-Since against the seekable stream.
	http.ServeContent(res, c.Request(), stream.Name, stream.ModTime, stream.Content)

	// Bill only when file content was actually served: not on a canceled
	// request context (client went away mid-stream) and not when
	// ServeContent answered without a body (304 Not Modified, 416 Range
	// Not Satisfiable).
	if c.Request().Context().Err() == nil && res.Status < 300 {
		h.svc.FinishDownload(context.WithoutCancel(c.Request().Context()), transfer)
	}

	return nil
}

// HandleDownloadAll handles GET /download-all/:id.
// Streams all files of the transfer as one zip archive.
func (h *Handler) HandleDownloadAll(c echo.Context) error {
	ctx := c.Request().Context()

	transfer, archiveName, err := h.svc.PrepareArchive(ctx, c.Param("id"), c.QueryParam("code"))
	if err != nil {
		return mapServiceError(c, err)
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "application/zip")
	res.Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename=%q`, archiveName))
	res.Header().Set("X-Archive-Filename", archiveName)
	res.Header().Set(echo.HeaderAccessControlExposeHeaders, "X-Archive-Filename")
	res.WriteHeader(http.StatusOK)

	if err := h.svc.WriteArchive(ctx, res, transfer); err != nil {
		// Headers are committed; abandoning the stream leaves the client a
		// truncated archive it can detect. The attempt is not billed.
		return err
	}

	if ctx.Err() == nil {
		h.svc.FinishDownload(context.WithoutCancel(ctx), transfer)
	}

	return nil
}

// HandleSummary handles GET /transfer/:id.
// Returns the public summary without requiring an access code.
func (h *Handler) HandleSummary(c echo.Context) error {
	summary, err := h.svc.GetSummary(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, summary)
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including database connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_transfers":    stats.TotalTransfers,
		"active_transfers":   stats.ActiveTransfers,
		"total_downloads":    stats.TotalDownloads,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": humanizeBytes(stats.StorageUsed),
	})
}

// mapServiceError translates service-layer errors into HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "transfer or file not found"})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, echo.Map{"error": "transfer has expired"})
	case errors.Is(err, service.ErrQuotaExhausted):
		return c.JSON(http.StatusGone, echo.Map{"error": "download limit reached"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid access code"})
	case errors.Is(err, service.ErrEmptyBatch):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no files in upload batch"})
	case errors.Is(err, service.ErrTotalTooLarge):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "batch exceeds total size limit"})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
