package model

// Stage is one step of the submission pipeline.
type Stage string

const (
	StageIdle         Stage = "idle"
	StageFileSelected Stage = "file_selected"
	StageUploading    Stage = "uploading"
	StageAnalyzing    Stage = "analyzing"
	StagePersisting   Stage = "persisting"
	StageSucceeded    Stage = "succeeded"
	StageFailed       Stage = "failed"
)

// MaxImageBytes is the largest photo a submission accepts (5 MiB).
const MaxImageBytes = 5 << 20

// ImageFile is a photo picked for submission.
type ImageFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size is the declared size of the file in bytes.
func (f ImageFile) Size() int64 { return int64(len(f.Data)) }

// Analysis is what the inference service says about a photo.
type Analysis struct {
	Species      string `json:"species,omitempty"`
	SuccessRate  int    `json:"successRate"`
	HealthStatus string `json:"healthStatus"`
	Feedback     string `json:"feedback,omitempty"`
}

// AnalysisRequest is sent to the inference service.
type AnalysisRequest struct {
	ImageURL        string
	DaysPropagating int
}

// Failure records where a submission stopped and why.
type Failure struct {
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

// SubmissionJob is the ephemeral state of one photo moving through the
// pipeline. It is never persisted; the Cutting it produces is.
type SubmissionJob struct {
	Stage          Stage     `json:"stage"`
	FileName       string    `json:"fileName,omitempty"`
	FileSize       int64     `json:"fileSize,omitempty"`
	ContentType    string    `json:"contentType,omitempty"`
	RemoteImageRef string    `json:"remoteImageRef,omitempty"`
	Result         *Analysis `json:"result,omitempty"`
	StatusMessage  string    `json:"statusMessage,omitempty"`
	Failure        *Failure  `json:"failure,omitempty"`
	Cutting        *Cutting  `json:"cutting,omitempty"`
}
