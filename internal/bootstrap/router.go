package bootstrap

import (
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	httpapi "github.com/skylens-geo/photogrammetry-backend/internal/api/http"
	"github.com/skylens-geo/photogrammetry-backend/internal/api/http/middleware"
	authmw "github.com/skylens-geo/photogrammetry-backend/internal/auth/middleware"
	"github.com/skylens-geo/photogrammetry-backend/internal/cache"
	"github.com/skylens-geo/photogrammetry-backend/internal/events"
	"github.com/skylens-geo/photogrammetry-backend/internal/processing"
	projecthttp "github.com/skylens-geo/photogrammetry-backend/internal/projects/http"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/service"
)

type RouterDeps struct {
	ServiceName    string
	Version        string
	AllowedOrigins []string
	Clients        *Clients
	StatusCache    *cache.StatusCache
	Emitter        *events.Emitter
	Projects       *service.ProjectService
	Uploads        *service.UploadService
	Dispatcher     *processing.Dispatcher
	AuthClient     *fbauth.Client
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.Default()

	r.Use(corsMiddleware(dep.AllowedOrigins))

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.Clients.Firestore, dep.Clients.Redis)
	healthHandler.RegisterRoutes(r)

	api := r.Group("/api/v1")
	api.Use(middleware.RequestIDMiddleware())
	api.Use(authmw.OptionalFirebaseAuth(dep.AuthClient))

	projectHandler := projecthttp.New(dep.Projects, dep.Uploads, dep.Dispatcher)
	projectHandler.Register(api.Group("/projects"))

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-Id"},
		ExposeHeaders: []string{"X-Request-Id"},
		MaxAge:        12 * time.Hour,
	}
	// A single wildcard means a public API with no credentials;
	// explicit origins get credentialed requests.
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}
