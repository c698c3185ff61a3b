package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/skylens-geo/photogrammetry-backend/internal/capacity"
)

// Provisioning models accepted for batch VMs.
const (
	ProvisioningStandard = "STANDARD"
	ProvisioningSpot     = "SPOT"
)

// Batch log destinations.
const (
	LogDestCloudLogging = "CLOUD_LOGGING"
	LogDestPath         = "PATH"
)

type Config struct {
	Server ServerConfig
	GCP    GCPConfig
	Batch  BatchConfig
	Cache  CacheConfig
	App    AppConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

type GCPConfig struct {
	ProjectID     string
	Region        string
	UploadsBucket string
	OutputsBucket string
	PubSubTopic   string
}

type BatchConfig struct {
	WorkerImage          string
	WorkerServiceAccount string
	WorkerCommand        []string
	AllowedZones         []string
	MaxRunDuration       time.Duration
	MaxRetryCount        int
	ProvisioningModel    string
	LogDestination       string
	Tiers                []capacity.MachineTier
	MinBootDiskMiB       int64
	DiskSafetyMargin     float64
	AvgImageSizeMB       float64
	WorkingSetFactor     float64
	QueueStaleAfter      time.Duration
}

type CacheConfig struct {
	RedisAddr string
	StatusTTL time.Duration
}

type AppConfig struct {
	Environment string
	Version     string
}

// Load reads all API configuration from the environment, failing fast
// on anything missing or malformed. Infrastructure parameters (tier
// table, disk sizing, zones, retry policy) are injected by the deploy
// stack and are all required.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	gcpProject, err := requireEnv("GCP_PROJECT")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		GCP: GCPConfig{
			ProjectID:     gcpProject,
			UploadsBucket: getEnv("UPLOADS_BUCKET", gcpProject+"-photogrammetry-uploads"),
			OutputsBucket: getEnv("OUTPUTS_BUCKET", gcpProject+"-photogrammetry-outputs"),
			PubSubTopic:   getEnv("PUBSUB_TOPIC", "photogrammetry-status"),
		},
		Cache: CacheConfig{
			RedisAddr: os.Getenv("REDIS_ADDR"),
			StatusTTL: getEnvAsDuration("STATUS_CACHE_TTL", 3*time.Second),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
	}

	if cfg.GCP.Region, err = requireEnv("GCP_REGION"); err != nil {
		return nil, err
	}
	if cfg.Server.AllowedOrigins, err = parseAllowedOrigins(); err != nil {
		return nil, err
	}
	if err := loadBatch(&cfg.Batch); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBatch(b *BatchConfig) error {
	var err error
	if b.WorkerImage, err = requireEnv("WORKER_IMAGE"); err != nil {
		return err
	}
	if b.WorkerServiceAccount, err = requireEnv("WORKER_SERVICE_ACCOUNT"); err != nil {
		return err
	}
	rawCmd, err := requireEnv("BATCH_WORKER_COMMAND")
	if err != nil {
		return err
	}
	b.WorkerCommand = splitAndTrim(rawCmd)

	rawZones, err := requireEnv("BATCH_ALLOWED_ZONES")
	if err != nil {
		return err
	}
	if b.AllowedZones, err = ParseAllowedZones(rawZones); err != nil {
		return err
	}

	rawDur, err := requireEnv("BATCH_MAX_RUN_DURATION")
	if err != nil {
		return err
	}
	if b.MaxRunDuration, err = time.ParseDuration(rawDur); err != nil {
		return fmt.Errorf("BATCH_MAX_RUN_DURATION must be a duration, got %q: %w", rawDur, err)
	}

	if b.MaxRetryCount, err = parseIntEnv("BATCH_MAX_RETRY_COUNT"); err != nil {
		return err
	}

	rawModel, err := requireEnv("BATCH_PROVISIONING_MODEL")
	if err != nil {
		return err
	}
	if b.ProvisioningModel, err = parseProvisioningModel(rawModel); err != nil {
		return err
	}

	rawDest, err := requireEnv("BATCH_LOG_DESTINATION")
	if err != nil {
		return err
	}
	if b.LogDestination, err = parseLogDestination(rawDest); err != nil {
		return err
	}

	rawTiers, err := requireEnv("BATCH_MACHINE_TIERS")
	if err != nil {
		return err
	}
	if b.Tiers, err = capacity.ParseTiers(rawTiers); err != nil {
		return fmt.Errorf("BATCH_MACHINE_TIERS: %w", err)
	}

	minDisk, err := parseIntEnv("BATCH_MIN_BOOT_DISK_MB")
	if err != nil {
		return err
	}
	b.MinBootDiskMiB = int64(minDisk)

	if b.DiskSafetyMargin, err = parseFloatEnv("BATCH_DISK_SAFETY_MARGIN"); err != nil {
		return err
	}
	if b.DiskSafetyMargin <= 1 {
		return fmt.Errorf("BATCH_DISK_SAFETY_MARGIN must be > 1, got %v", b.DiskSafetyMargin)
	}
	if b.AvgImageSizeMB, err = parseFloatEnv("BATCH_AVG_IMAGE_SIZE_MB"); err != nil {
		return err
	}
	if b.WorkingSetFactor, err = parseFloatEnv("BATCH_WORKING_SET_FACTOR"); err != nil {
		return err
	}
	b.QueueStaleAfter = getEnvAsDuration("BATCH_QUEUE_STALE_AFTER", 30*time.Minute)
	return nil
}

// ParseAllowedZones normalizes a comma-separated zone list into the
// "zones/<name>" form the batch collaborator expects.
func ParseAllowedZones(raw string) ([]string, error) {
	zones := splitAndTrim(raw)
	if len(zones) == 0 {
		return nil, fmt.Errorf("BATCH_ALLOWED_ZONES must contain at least one zone")
	}
	out := make([]string, 0, len(zones))
	for _, z := range zones {
		if !strings.HasPrefix(z, "zones/") {
			z = "zones/" + z
		}
		out = append(out, z)
	}
	return out, nil
}

func parseProvisioningModel(raw string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case ProvisioningStandard:
		return ProvisioningStandard, nil
	case ProvisioningSpot:
		return ProvisioningSpot, nil
	}
	return "", fmt.Errorf("BATCH_PROVISIONING_MODEL invalid value %q, allowed: SPOT, STANDARD", raw)
}

func parseLogDestination(raw string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case LogDestCloudLogging:
		return LogDestCloudLogging, nil
	case LogDestPath:
		return LogDestPath, nil
	}
	return "", fmt.Errorf("BATCH_LOG_DESTINATION invalid value %q, allowed: CLOUD_LOGGING, PATH", raw)
}

func parseAllowedOrigins() ([]string, error) {
	raw, err := requireEnv("ALLOWED_ORIGINS")
	if err != nil {
		return nil, err
	}
	origins := splitAndTrim(raw)
	if len(origins) == 0 {
		return nil, fmt.Errorf("ALLOWED_ORIGINS must contain at least one origin")
	}
	for _, o := range origins {
		if o == "*" && len(origins) > 1 {
			return nil, fmt.Errorf("ALLOWED_ORIGINS cannot mix '*' with specific origins")
		}
	}
	return origins, nil
}

func requireEnv(key string) (string, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", fmt.Errorf("%s environment variable is required", key)
	}
	return value, nil
}

func parseIntEnv(key string) (int, error) {
	raw, err := requireEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s must be >= 0, got %d", key, value)
	}
	return value, nil
}

func parseFloatEnv(key string) (float64, error) {
	raw, err := requireEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, raw)
	}
	return value, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Warning: invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
