package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sakif/propability/internal/apperror"
	"github.com/sakif/propability/internal/blob"
	"github.com/sakif/propability/internal/clock"
	"github.com/sakif/propability/internal/inference"
	"github.com/sakif/propability/internal/metrics"
	"github.com/sakif/propability/internal/model"
	"github.com/sakif/propability/internal/repository"
	"github.com/sakif/propability/internal/session"
)

// Status messages shown while a submission moves through the pipeline.
const (
	StatusReady      = "Ready to analyze."
	StatusUploading  = "Uploading image to cloud..."
	StatusAnalyzing  = "AI is analyzing root potential..."
	StatusPersisting = "Saving results..."
	StatusSucceeded  = "Analysis complete."
	StatusFailed     = "Analysis failed."
)

// SubmissionDeps are the collaborators an Orchestrator drives.
//
// OnPersisted, when set, receives every record the pipeline inserts. The
// workspace wires it to Registry.Merge so a new cutting shows up without a
// full reload.
type SubmissionDeps struct {
	Session     session.Source
	Blobs       blob.Store
	Analyzer    inference.Analyzer
	Cuttings    repository.CuttingRepository
	Clock       clock.Clock
	Metrics     metrics.Recorder
	Logger      *slog.Logger
	OnPersisted func(model.Cutting)
}

// Orchestrator runs one photo at a time through
// Idle → FileSelected → Uploading → Analyzing → Persisting → Succeeded,
// stopping in Failed at the first network stage that errors.
//
// CONCURRENCY:
// Only one run is in flight per Orchestrator. A second Run while one is
// active returns SubmissionInProgress instead of queueing. Reset may be called
// at any time; it bumps a generation counter so a run started before the reset
// stops at its next stage boundary and never writes into the new job.
type Orchestrator struct {
	deps     SubmissionDeps
	nickname func() string

	mu      sync.Mutex
	job     model.SubmissionJob
	file    *model.ImageFile
	running bool
	gen     uint64
}

// NewOrchestrator returns an Orchestrator with an Idle job.
func NewOrchestrator(deps SubmissionDeps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		deps:     deps,
		nickname: randomNickname,
		job:      model.SubmissionJob{Stage: model.StageIdle},
	}
}

// randomNickname is the default label for a new cutting, "Experiment #0"
// through "Experiment #999".
func randomNickname() string {
	return fmt.Sprintf("Experiment #%d", rand.IntN(1000))
}

// Job returns a copy of the current job.
func (o *Orchestrator) Job() model.SubmissionJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyJob(o.job)
}

// Select validates a picked photo and moves the job to FileSelected.
//
// Picking a file is allowed from any state except while a run is in flight;
// it always starts a fresh job. On rejection the job is Idle and nothing is
// sent anywhere.
func (o *Orchestrator) Select(file model.ImageFile) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return apperror.SubmissionInProgress()
	}

	if err := validateImage(file); err != nil {
		o.job = model.SubmissionJob{Stage: model.StageIdle}
		o.file = nil
		return err
	}

	f := file
	o.file = &f
	o.job = model.SubmissionJob{
		Stage:         model.StageFileSelected,
		FileName:      file.Name,
		FileSize:      file.Size(),
		ContentType:   file.ContentType,
		StatusMessage: StatusReady,
	}
	return nil
}

// validateImage enforces the size limit and checks that both the declared
// type and the sniffed content look like an image.
func validateImage(file model.ImageFile) error {
	if file.Size() == 0 {
		return apperror.ValidationFailed("file", "the selected file is empty")
	}
	if file.Size() > model.MaxImageBytes {
		return apperror.ValidationFailed("file", "File is too large! Please choose an image under 5MB.")
	}

	declared := strings.ToLower(strings.TrimSpace(file.ContentType))
	if !strings.HasPrefix(declared, "image/") {
		return apperror.ValidationFailed("file", "only image files can be analyzed")
	}

	// DetectContentType falls back to application/octet-stream for formats it
	// does not know (HEIC, for example), so only a definite non-image is refused.
	sniffed := http.DetectContentType(file.Data)
	if !strings.HasPrefix(sniffed, "image/") && !strings.HasPrefix(sniffed, "application/octet-stream") {
		return apperror.ValidationFailed("file", "the file content is not an image")
	}
	return nil
}

// Submit selects file and runs the pipeline in one call. ownerID must be the
// signed-in user.
func (o *Orchestrator) Submit(ctx context.Context, file model.ImageFile, ownerID string) (*model.Cutting, error) {
	sess, ok := o.deps.Session.Current()
	if !ok {
		return nil, apperror.Unauthenticated("submit")
	}
	if ownerID != sess.UserID {
		return nil, apperror.Forbidden("cannot submit a cutting for another user")
	}

	if err := o.Select(file); err != nil {
		return nil, err
	}
	return o.Run(ctx)
}

// Run uploads, analyzes and persists the selected photo.
//
// Each stage runs only after the previous one succeeded. A failure leaves the
// job in Failed with the stage recorded and returns a stage error
// (ErrUpload, ErrInference or ErrPersist). Nothing is retried and an uploaded
// blob is not removed when a later stage fails.
func (o *Orchestrator) Run(ctx context.Context) (*model.Cutting, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, apperror.SubmissionInProgress()
	}
	sess, ok := o.deps.Session.Current()
	if !ok {
		o.mu.Unlock()
		return nil, apperror.Unauthenticated("run submission")
	}
	if o.job.Stage != model.StageFileSelected || o.file == nil {
		o.mu.Unlock()
		return nil, apperror.ValidationFailed("file", "select a photo before starting the analysis")
	}
	o.running = true
	gen := o.gen
	file := *o.file
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		if o.gen == gen {
			o.running = false
		}
		o.mu.Unlock()
	}()

	ownerID := sess.UserID
	logger := o.deps.Logger.With(slog.String("userID", ownerID), slog.String("file", file.Name))
	runStart := o.deps.Clock.Now()

	// === UPLOADING ===
	if !o.advance(gen, func(j *model.SubmissionJob) {
		j.Stage = model.StageUploading
		j.StatusMessage = StatusUploading
	}) {
		return nil, apperror.Superseded()
	}
	if err := o.requireOwner(ownerID); err != nil {
		return nil, o.fail(gen, model.StageUploading, err, logger)
	}

	key := blob.NewKey(ownerID, o.deps.Clock.Now(), file.ContentType)
	start := o.deps.Clock.Now()
	ref, err := o.deps.Blobs.Put(ctx, key, bytes.NewReader(file.Data), file.Size(), file.ContentType)
	o.recordStage(model.StageUploading, err, start)
	if err != nil {
		return nil, o.fail(gen, model.StageUploading, err, logger)
	}
	logger.Info("image uploaded", slog.String("key", key), slog.String("ref", ref))

	// === ANALYZING ===
	if !o.advance(gen, func(j *model.SubmissionJob) {
		j.Stage = model.StageAnalyzing
		j.RemoteImageRef = ref
		j.StatusMessage = StatusAnalyzing
	}) {
		return nil, apperror.Superseded()
	}
	if err := o.requireOwner(ownerID); err != nil {
		return nil, o.fail(gen, model.StageAnalyzing, err, logger)
	}

	start = o.deps.Clock.Now()
	analysis, err := o.deps.Analyzer.Analyze(ctx, model.AnalysisRequest{ImageURL: ref, DaysPropagating: 0})
	o.recordStage(model.StageAnalyzing, err, start)
	if err != nil {
		return nil, o.fail(gen, model.StageAnalyzing, err, logger)
	}

	// === PERSISTING ===
	result := *analysis
	if !o.advance(gen, func(j *model.SubmissionJob) {
		j.Stage = model.StagePersisting
		j.Result = &result
		j.StatusMessage = StatusPersisting
	}) {
		return nil, apperror.Superseded()
	}
	if err := o.requireOwner(ownerID); err != nil {
		return nil, o.fail(gen, model.StagePersisting, err, logger)
	}

	species := strings.TrimSpace(analysis.Species)
	if species == "" {
		species = model.DefaultSpecies
	}
	cutting := &model.Cutting{
		OwnerID:      ownerID,
		Nickname:     o.nickname(),
		ImageURL:     ref,
		SuccessRate:  analysis.SuccessRate,
		HealthStatus: analysis.HealthStatus,
		Species:      species,
		Feedback:     analysis.Feedback,
		CreatedAt:    o.deps.Clock.Now(),
	}

	start = o.deps.Clock.Now()
	err = o.deps.Cuttings.Create(ctx, cutting)
	o.recordStage(model.StagePersisting, err, start)
	if err != nil {
		return nil, o.fail(gen, model.StagePersisting, err, logger)
	}

	// The record exists now whatever happens to the job, so the registry
	// hears about it even if the job was reset meanwhile.
	if o.deps.OnPersisted != nil {
		o.deps.OnPersisted(*cutting)
	}

	// === SUCCEEDED ===
	saved := *cutting
	if !o.advance(gen, func(j *model.SubmissionJob) {
		j.Stage = model.StageSucceeded
		j.Cutting = &saved
		j.StatusMessage = StatusSucceeded
	}) {
		return nil, apperror.Superseded()
	}

	o.deps.Metrics.RecordSubmission(metrics.OutcomeOK)
	logger.Info("cutting analyzed",
		slog.String("cuttingID", cutting.ID),
		slog.Int("successRate", cutting.SuccessRate),
		slog.String("healthStatus", cutting.HealthStatus),
		slog.Duration("duration", o.deps.Clock.Now().Sub(runStart)),
	)
	return cutting, nil
}

// Reset drops the current job and returns to Idle. A run still in flight
// keeps its network call but its result is no longer applied.
//
// Reset clears running, so a fresh Select and Run may overlap the abandoned
// run's upload or analysis. Single-flight holds per generation, not per
// session. A stale run that already reached Create still inserts its row.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	o.running = false
	o.file = nil
	o.job = model.SubmissionJob{Stage: model.StageIdle}
}

// advance applies update to the job if it still belongs to generation gen.
func (o *Orchestrator) advance(gen uint64, update func(*model.SubmissionJob)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		return false
	}
	update(&o.job)
	return true
}

// requireOwner fails when the session went away or changed hands mid-run.
func (o *Orchestrator) requireOwner(ownerID string) error {
	sess, ok := o.deps.Session.Current()
	if !ok || sess.UserID != ownerID {
		return apperror.Unauthenticated("run submission")
	}
	return nil
}

// fail moves the job to Failed(stage) and returns the stage error.
func (o *Orchestrator) fail(gen uint64, stage model.Stage, cause error, logger *slog.Logger) error {
	stageErr := apperror.StageFailed(stage, cause)

	o.deps.Metrics.RecordSubmission(metrics.OutcomeError)
	logger.Error("submission failed",
		slog.String("stage", string(stage)),
		slog.String("error", cause.Error()),
	)

	if !o.advance(gen, func(j *model.SubmissionJob) {
		j.Stage = model.StageFailed
		j.StatusMessage = StatusFailed
		j.Failure = &model.Failure{Stage: stage, Reason: cause.Error()}
	}) {
		return apperror.Superseded()
	}
	return stageErr
}

func (o *Orchestrator) recordStage(stage model.Stage, err error, start time.Time) {
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	o.deps.Metrics.RecordStage(stage, outcome, o.deps.Clock.Now().Sub(start))
}

func copyJob(j model.SubmissionJob) model.SubmissionJob {
	if j.Result != nil {
		r := *j.Result
		j.Result = &r
	}
	if j.Failure != nil {
		f := *j.Failure
		j.Failure = &f
	}
	if j.Cutting != nil {
		c := *j.Cutting
		j.Cutting = &c
	}
	return j
}
