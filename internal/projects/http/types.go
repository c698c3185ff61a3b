package http

import (
	"github.com/skylens-geo/photogrammetry-backend/internal/processing"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/service"
)

// Handler bundles the dependencies for project HTTP endpoints.
type Handler struct {
	projects   *service.ProjectService
	uploads    *service.UploadService
	dispatcher *processing.Dispatcher
}

func New(projects *service.ProjectService, uploads *service.UploadService, dispatcher *processing.Dispatcher) *Handler {
	return &Handler{projects: projects, uploads: uploads, dispatcher: dispatcher}
}
