package main

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/skylens-geo/photogrammetry-backend/config"
	"github.com/skylens-geo/photogrammetry-backend/internal/auth"
	"github.com/skylens-geo/photogrammetry-backend/internal/batch"
	"github.com/skylens-geo/photogrammetry-backend/internal/bootstrap"
	"github.com/skylens-geo/photogrammetry-backend/internal/cache"
	"github.com/skylens-geo/photogrammetry-backend/internal/events"
	"github.com/skylens-geo/photogrammetry-backend/internal/processing"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/repository"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/service"
	"github.com/skylens-geo/photogrammetry-backend/internal/storage"
)

const serviceName = "photogrammetry-api"

// reconcileSchedule drives the sweep of in-flight jobs.
const reconcileSchedule = "@every 5m"

// reconcilePollsPerSecond caps job status polls against the batch API.
const reconcilePollsPerSecond = 5.0

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	bootstrap.SetGinMode(cfg.App.Environment)

	ctx := context.Background()
	clients, err := bootstrap.NewClients(ctx, cfg)
	if err != nil {
		log.Fatalf("clients: %v", err)
	}
	defer clients.Close()

	store := repository.NewFirestoreStore(clients.Firestore)
	objects := storage.NewGCSStore(clients.Storage)
	emitter := events.NewEmitter(events.NewPubSubPublisher(clients.PubSub, cfg.GCP.PubSubTopic))
	defer emitter.Close()
	statusCache := cache.NewStatusCache(clients.Redis, cfg.Cache.StatusTTL)
	runner := batch.NewGCPRunner(clients.Batch, cfg.GCP, cfg.Batch)

	authClient, err := auth.InitializeFirebase(ctx, cfg.GCP.ProjectID)
	if err != nil {
		log.Printf("firebase auth unavailable, requests run anonymous: %v", err)
		authClient = nil
	}

	projectSvc := service.NewProjectService(store, objects, statusCache, emitter, cfg.GCP.OutputsBucket)
	uploadSvc := service.NewUploadService(store, objects, cfg.GCP.UploadsBucket)
	dispatcher := processing.NewDispatcher(store, objects, runner, emitter, cfg.GCP, cfg.Batch)

	reconciler := processing.NewReconciler(store, runner, emitter, cfg.Batch.QueueStaleAfter, reconcilePollsPerSecond)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(reconcileSchedule, func() {
		if err := reconciler.Run(ctx); err != nil {
			log.Printf("reconcile sweep: %v", err)
		}
	}); err != nil {
		log.Fatalf("schedule reconciler: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	router := bootstrap.BuildRouter(bootstrap.RouterDeps{
		ServiceName:    serviceName,
		Version:        cfg.App.Version,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Clients:        clients,
		StatusCache:    statusCache,
		Emitter:        emitter,
		Projects:       projectSvc,
		Uploads:        uploadSvc,
		Dispatcher:     dispatcher,
		AuthClient:     authClient,
	})

	log.Printf("%s listening on :%s project=%s region=%s", serviceName, cfg.Server.Port, cfg.GCP.ProjectID, cfg.GCP.Region)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}
