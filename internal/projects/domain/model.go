package domain

import "time"

// Status is the lifecycle state of a project. Transitions follow
// created -> uploading -> pending -> processing -> completed|failed.
type Status string

const (
	StatusCreated    Status = "created"
	StatusUploading  Status = "uploading"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Project is the single shared mutable record for a photogrammetry job.
// All writes go through the repository Store; no other component may
// mutate it directly.
type Project struct {
	ProjectID    string       `json:"project_id" firestore:"project_id"`
	Name         string       `json:"name" firestore:"name"`
	Description  string       `json:"description,omitempty" firestore:"description"`
	OwnerID      string       `json:"owner_id,omitempty" firestore:"owner_id"`
	Status       Status       `json:"status" firestore:"status"`
	Progress     int          `json:"progress" firestore:"progress"`
	Files        []FileEntry  `json:"files" firestore:"files"`
	FilesCount   int          `json:"files_count" firestore:"files_count"`
	Outputs      []Output     `json:"outputs" firestore:"outputs"`
	BatchJob     *BatchJobRef `json:"batch_job,omitempty" firestore:"batch_job"`
	ErrorMessage string       `json:"error_message,omitempty" firestore:"error_message"`
	CreatedAt    time.Time    `json:"created_at" firestore:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" firestore:"updated_at"`
}

// FileEntry tracks one registered upload slot. It is appended when an
// upload URL is issued and flipped to uploaded only after the backing
// object is verified to exist.
type FileEntry struct {
	FileID      string     `json:"file_id" firestore:"file_id"`
	Filename    string     `json:"filename" firestore:"filename"`
	SafeName    string     `json:"safe_filename" firestore:"safe_filename"`
	ObjectPath  string     `json:"object_path" firestore:"object_path"`
	Size        int64      `json:"size" firestore:"size"`
	ContentType string     `json:"content_type" firestore:"content_type"`
	Status      string     `json:"status" firestore:"status"`
	UploadedAt  *time.Time `json:"uploaded_at,omitempty" firestore:"uploaded_at"`
}

// FileEntry upload states.
const (
	FilePending  = "pending"
	FileUploaded = "uploaded"
)

// Output is one artifact produced by a successful processing run.
type Output struct {
	Type      string    `json:"type" firestore:"type"`
	Filename  string    `json:"filename" firestore:"filename"`
	SizeMB    float64   `json:"size_mb" firestore:"size_mb"`
	Path      string    `json:"path" firestore:"path"`
	CreatedAt time.Time `json:"created_at" firestore:"created_at"`
}

// BatchJobRef records the compute job submitted for a processing
// attempt. At most one is attached to a project; a retry overwrites it.
type BatchJobRef struct {
	JobName     string    `json:"job_name" firestore:"job_name"`
	JobID       string    `json:"job_id" firestore:"job_id"`
	MachineType string    `json:"machine_type" firestore:"machine_type"`
	CPUMilli    int64     `json:"cpu_milli" firestore:"cpu_milli"`
	MemoryMiB   int64     `json:"memory_mib" firestore:"memory_mib"`
	DiskMiB     int64     `json:"disk_mib" firestore:"disk_mib"`
	FileCount   int       `json:"file_count" firestore:"file_count"`
	SubmittedAt time.Time `json:"submitted_at" firestore:"submitted_at"`
}
