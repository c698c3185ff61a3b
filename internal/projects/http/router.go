package http

import "github.com/gin-gonic/gin"

// Register attaches project routes to the given router group.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("", h.create)
	rg.GET("", h.list)
	rg.GET("/:project_id", h.get)
	rg.POST("/:project_id/upload-url", h.uploadURL)
	rg.POST("/:project_id/uploads/:file_id/confirm", h.confirmUpload)
	rg.POST("/:project_id/finalize-upload", h.finalizeUpload)
	rg.POST("/:project_id/process", h.process)
	rg.GET("/:project_id/result", h.result)
}
