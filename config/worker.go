package config

import (
	"os"
	"strings"

	"github.com/skylens-geo/photogrammetry-backend/internal/projects/domain"
)

// WorkerConfig is the environment contract between the dispatched
// batch job and the worker binary. Processing options arrive as plain
// env vars set on the job by the dispatcher.
type WorkerConfig struct {
	GCPProject    string
	UploadsBucket string
	OutputsBucket string
	PubSubTopic   string
	Options       domain.ProcessingOptions
}

// LoadWorker reads the worker environment. Only GCP_PROJECT is
// required; bucket names fall back to the conventional
// "<project>-photogrammetry-*" pair.
func LoadWorker() (*WorkerConfig, error) {
	gcpProject, err := requireEnv("GCP_PROJECT")
	if err != nil {
		return nil, err
	}
	cfg := &WorkerConfig{
		GCPProject:    gcpProject,
		UploadsBucket: getEnv("UPLOADS_BUCKET", gcpProject+"-photogrammetry-uploads"),
		OutputsBucket: getEnv("OUTPUTS_BUCKET", gcpProject+"-photogrammetry-outputs"),
		PubSubTopic:   getEnv("PUBSUB_TOPIC", "photogrammetry-status"),
		Options: domain.ProcessingOptions{
			OrthoQuality:  getEnv("ORTHO_QUALITY", domain.QualityMedium),
			GenerateDTM:   boolEnv("GENERATE_DTM"),
			Multispectral: boolEnv("MULTISPECTRAL"),
		}.Normalize(),
	}
	return cfg, nil
}

func boolEnv(key string) bool {
	return strings.EqualFold(os.Getenv(key), "true")
}
