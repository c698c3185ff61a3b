package batch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	gcpbatch "cloud.google.com/go/batch/apiv1"
	"cloud.google.com/go/batch/apiv1/batchpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/skylens-geo/photogrammetry-backend/config"
)

const labelFileCountCap = 9999

// GCPRunner submits jobs to Google Cloud Batch, one VM per project.
type GCPRunner struct {
	client *gcpbatch.Client
	gcp    config.GCPConfig
	cfg    config.BatchConfig
}

// NewGCPRunner wraps an existing Cloud Batch client.
func NewGCPRunner(client *gcpbatch.Client, gcp config.GCPConfig, cfg config.BatchConfig) *GCPRunner {
	return &GCPRunner{client: client, gcp: gcp, cfg: cfg}
}

// JobID builds the submission id for a project: a project-id prefix
// plus a timestamp, unique enough in practice for retries minutes
// apart.
func JobID(projectID string, now time.Time) string {
	short := projectID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("photogrammetry-%s-%s", short, now.Format("20060102150405"))
}

func (r *GCPRunner) SubmitJob(ctx context.Context, spec JobSpec) (*JobRef, error) {
	now := time.Now().UTC()
	jobID := JobID(spec.ProjectID, now)

	taskSpec := &batchpb.TaskSpec{
		Runnables: []*batchpb.Runnable{{
			Executable: &batchpb.Runnable_Container_{
				Container: &batchpb.Runnable_Container{
					ImageUri:   r.cfg.WorkerImage,
					Commands:   r.cfg.WorkerCommand,
					Entrypoint: "",
				},
			},
		}},
		ComputeResource: &batchpb.ComputeResource{
			CpuMilli:    spec.Tier.CPUMilli,
			MemoryMib:   spec.Tier.MemoryMiB,
			BootDiskMib: spec.DiskMiB,
		},
		MaxRetryCount:  int32(r.cfg.MaxRetryCount),
		MaxRunDuration: durationpb.New(r.cfg.MaxRunDuration),
		Environment: &batchpb.Environment{
			Variables: r.workerEnv(spec),
		},
	}

	job := &batchpb.Job{
		TaskGroups: []*batchpb.TaskGroup{{
			TaskCount: 1,
			TaskSpec:  taskSpec,
		}},
		AllocationPolicy: &batchpb.AllocationPolicy{
			Instances: []*batchpb.AllocationPolicy_InstancePolicyOrTemplate{{
				PolicyTemplate: &batchpb.AllocationPolicy_InstancePolicyOrTemplate_Policy{
					Policy: &batchpb.AllocationPolicy_InstancePolicy{
						MachineType:       spec.Tier.MachineType,
						ProvisioningModel: provisioningModel(r.cfg.ProvisioningModel),
					},
				},
			}},
			Location: &batchpb.AllocationPolicy_LocationPolicy{
				AllowedLocations: r.cfg.AllowedZones,
			},
			ServiceAccount: &batchpb.ServiceAccount{
				Email: r.cfg.WorkerServiceAccount,
			},
		},
		Labels: map[string]string{
			"project-id":   labelValue(spec.ProjectID),
			"type":         "photogrammetry",
			"file-count":   strconv.Itoa(min(spec.FileCount, labelFileCountCap)),
			"machine-type": strings.ReplaceAll(spec.Tier.MachineType, "-", "_"),
		},
		LogsPolicy: &batchpb.LogsPolicy{
			Destination: logDestination(r.cfg.LogDestination),
		},
	}

	created, err := r.client.CreateJob(ctx, &batchpb.CreateJobRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s", r.gcp.ProjectID, r.gcp.Region),
		JobId:  jobID,
		Job:    job,
	})
	if err != nil {
		return nil, fmt.Errorf("create batch job %s: %w", jobID, err)
	}

	return &JobRef{Name: created.GetName(), ID: jobID, SubmittedAt: now}, nil
}

func (r *GCPRunner) JobStatus(ctx context.Context, name string) (*JobStatus, error) {
	job, err := r.client.GetJob(ctx, &batchpb.GetJobRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("get batch job %s: %w", name, err)
	}

	state, err := mapState(job.GetStatus().GetState())
	if err != nil {
		return nil, err
	}

	status := &JobStatus{State: state}
	for _, e := range job.GetStatus().GetStatusEvents() {
		ev := StatusEvent{Type: e.GetType(), Description: e.GetDescription()}
		if ts := e.GetEventTime(); ts != nil {
			ev.Time = ts.AsTime()
		}
		status.Events = append(status.Events, ev)
	}
	return status, nil
}

func (r *GCPRunner) workerEnv(spec JobSpec) map[string]string {
	return map[string]string{
		"PROJECT_ID":     spec.ProjectID,
		"GCP_PROJECT":    r.gcp.ProjectID,
		"UPLOADS_BUCKET": r.gcp.UploadsBucket,
		"OUTPUTS_BUCKET": r.gcp.OutputsBucket,
		"PUBSUB_TOPIC":   r.gcp.PubSubTopic,
		"ORTHO_QUALITY":  spec.Options.OrthoQuality,
		"GENERATE_DTM":   strconv.FormatBool(spec.Options.GenerateDTM),
		"MULTISPECTRAL":  strconv.FormatBool(spec.Options.Multispectral),
	}
}

func mapState(raw batchpb.JobStatus_State) (JobState, error) {
	switch raw {
	case batchpb.JobStatus_QUEUED:
		return StateQueued, nil
	case batchpb.JobStatus_SCHEDULED:
		return StateScheduled, nil
	case batchpb.JobStatus_RUNNING:
		return StateRunning, nil
	case batchpb.JobStatus_SUCCEEDED:
		return StateSucceeded, nil
	case batchpb.JobStatus_FAILED:
		return StateFailed, nil
	}
	return "", &UnknownStateError{Raw: raw.String()}
}

func provisioningModel(model string) batchpb.AllocationPolicy_ProvisioningModel {
	if model == config.ProvisioningSpot {
		return batchpb.AllocationPolicy_SPOT
	}
	return batchpb.AllocationPolicy_STANDARD
}

func logDestination(dest string) batchpb.LogsPolicy_Destination {
	if dest == config.LogDestPath {
		return batchpb.LogsPolicy_PATH
	}
	return batchpb.LogsPolicy_CLOUD_LOGGING
}

func labelValue(v string) string {
	if len(v) > 60 {
		return v[:60]
	}
	return v
}
