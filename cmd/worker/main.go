package main

import (
	"context"
	"log"
	"os"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"

	"github.com/skylens-geo/photogrammetry-backend/config"
	"github.com/skylens-geo/photogrammetry-backend/internal/events"
	"github.com/skylens-geo/photogrammetry-backend/internal/projects/repository"
	"github.com/skylens-geo/photogrammetry-backend/internal/storage"
	"github.com/skylens-geo/photogrammetry-backend/internal/worker"
)

const workDir = "/work"

// The worker runs once per batch task: process the project named by
// PROJECT_ID (or the first argument) and exit. The exit code is what
// the batch collaborator reports back.
func main() {
	projectID := os.Getenv("PROJECT_ID")
	if projectID == "" && len(os.Args) > 1 {
		projectID = os.Args[1]
	}
	if projectID == "" {
		log.Println("PROJECT_ID not defined")
		log.Println("usage: worker <project_id>, or set the PROJECT_ID environment variable")
		os.Exit(1)
	}

	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	fs, err := firestore.NewClient(ctx, cfg.GCPProject)
	if err != nil {
		log.Fatalf("firestore client: %v", err)
	}
	defer fs.Close()

	st, err := gcs.NewClient(ctx)
	if err != nil {
		log.Fatalf("storage client: %v", err)
	}
	defer st.Close()

	ps, err := pubsub.NewClient(ctx, cfg.GCPProject)
	if err != nil {
		log.Fatalf("pubsub client: %v", err)
	}
	defer ps.Close()

	emitter := events.NewEmitter(events.NewPubSubPublisher(ps, cfg.PubSubTopic))
	defer emitter.Close()

	pipeline := worker.NewPipeline(
		repository.NewFirestoreStore(fs),
		storage.NewGCSStore(st),
		emitter,
		worker.ExecRunner{},
		cfg,
		workDir,
	)

	if err := pipeline.Process(ctx, projectID); err != nil {
		os.Exit(1)
	}
}
