package http

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/skylens-geo/photogrammetry-backend/internal/auth"
	"github.com/skylens-geo/photogrammetry-backend/internal/processing"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
)

// internalError logs the failure server-side and answers with a stable
// message. Raw collaborator errors carry infrastructure detail that must
// not reach clients.
func internalError(c *gin.Context, op string, err error) {
	log.Printf("http: %s failed project=%s err=%v", op, c.Param("project_id"), err)
	c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "internal error"})
}

type createReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) create(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	ownerID := auth.UserFirebaseUID(c)
	p, err := h.projects.Create(c.Request.Context(), req.Name, req.Description, ownerID)
	if err != nil {
		internalError(c, "create project", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "project": p})
}

func (h *Handler) list(c *gin.Context) {
	ownerID := c.Query("user_id")
	if ownerID == "" {
		ownerID = auth.UserFirebaseUID(c)
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.projects.List(c.Request.Context(), ownerID, limit)
	if err != nil {
		internalError(c, "list projects", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "projects": items})
}

func (h *Handler) get(c *gin.Context) {
	p, err := h.projects.Get(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "project not found"})
			return
		}
		internalError(c, "get project", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "project": p})
}

type uploadURLReq struct {
	Filename    string `json:"filename"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
	Resumable   *bool  `json:"resumable"`
}

func (h *Handler) uploadURL(c *gin.Context) {
	var req uploadURLReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Filename) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}
	resumable := req.Resumable == nil || *req.Resumable

	reg, err := h.uploads.RegisterUpload(c.Request.Context(),
		c.Param("project_id"), req.Filename, req.ContentType, req.FileSize, resumable)
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "project not found"})
			return
		}
		internalError(c, "register upload", err)
		return
	}

	resp := gin.H{
		"ok":          true,
		"upload_url":  reg.Upload.URL,
		"file_id":     reg.FileID,
		"object_path": reg.ObjectPath,
		"upload_type": reg.Upload.UploadType,
		"expires_in":  int(reg.Upload.ExpiresIn.Seconds()),
	}
	if reg.Upload.ChunkSize > 0 {
		resp["chunk_size"] = reg.Upload.ChunkSize
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) confirmUpload(c *gin.Context) {
	err := h.uploads.ConfirmUpload(c.Request.Context(), c.Param("project_id"), c.Param("file_id"))
	switch {
	case errors.Is(err, domain.ErrProjectNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "project not found"})
	case errors.Is(err, domain.ErrFileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "file not found"})
	case err != nil:
		internalError(c, "confirm upload", err)
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true, "file_id": c.Param("file_id"), "status": domain.FileUploaded})
	}
}

func (h *Handler) finalizeUpload(c *gin.Context) {
	result, err := h.uploads.Finalize(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "project not found"})
			return
		}
		if errors.Is(err, domain.ErrNoFiles) {
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "no files uploaded"})
			return
		}
		if current, rejected := domain.IsRejected(err); rejected {
			c.JSON(http.StatusConflict, gin.H{
				"ok":             false,
				"error":          "upload can no longer be finalized",
				"current_status": current,
			})
			return
		}
		internalError(c, "finalize uploads", err)
		return
	}

	h.projects.InvalidateStatus(c.Request.Context(), result.ProjectID)
	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"project_id":  result.ProjectID,
		"files_count": result.FilesCount,
		"status":      result.Status,
	})
}

type processReq struct {
	Options domain.ProcessingOptions `json:"options"`
}

func (h *Handler) process(c *gin.Context) {
	// Options are optional; an empty body means defaults.
	var req processReq
	_ = c.ShouldBindJSON(&req)

	p, err := h.dispatcher.StartProcessing(c.Request.Context(), c.Param("project_id"), req.Options)
	if err != nil {
		var rejection *processing.RejectionError
		switch {
		case errors.Is(err, domain.ErrProjectNotFound):
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "project not found"})
		case errors.Is(err, processing.ErrNoImages):
			c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "no images found for project"})
		case errors.As(err, &rejection):
			c.JSON(http.StatusConflict, gin.H{
				"ok":             false,
				"error":          rejection.Reason,
				"current_status": rejection.Current,
			})
		default:
			internalError(c, "start processing", err)
		}
		return
	}

	h.projects.InvalidateStatus(c.Request.Context(), p.ProjectID)
	c.JSON(http.StatusAccepted, gin.H{
		"ok":         true,
		"project_id": p.ProjectID,
		"status":     p.Status,
		"job_id":     p.BatchJob.JobID,
	})
}

func (h *Handler) result(c *gin.Context) {
	result, err := h.projects.Results(c.Request.Context(), c.Param("project_id"))
	if err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "project not found"})
			return
		}
		internalError(c, "fetch results", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"project_id":    result.ProjectID,
		"status":        result.Status,
		"outputs":       result.Outputs,
		"download_urls": result.DownloadURLs,
	})
}
