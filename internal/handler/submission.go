package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/propability/internal/apperror"
	"github.com/sakif/propability/internal/auth"
	"github.com/sakif/propability/internal/model"
	"github.com/sakif/propability/internal/workspace"
)

const (
	// fileField is the multipart field carrying the photo.
	fileField = "file"
	// multipartOverhead covers boundaries and headers around the photo.
	multipartOverhead = 1 << 20
	tooLargeMessage   = "File is too large! Please choose an image under 5MB."
)

// SubmissionHandler drives the caller's submission pipeline: pick a photo,
// run it through upload, analysis and persistence, or reset.
type SubmissionHandler struct {
	logger *slog.Logger
}

// NewSubmissionHandler creates a SubmissionHandler.
func NewSubmissionHandler(logger *slog.Logger) *SubmissionHandler {
	return &SubmissionHandler{logger: logger}
}

type submissionResponse struct {
	Job     model.SubmissionJob `json:"job"`
	Cutting *cuttingView        `json:"cutting,omitempty"`
}

// HandleGet returns the current job.
//
// HTTP: GET /api/submission
func (h *SubmissionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ws, ok := requireWorkspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, submissionResponse{Job: ws.Orchestrator.Job()})
}

// HandleSelect picks the photo for the next run. Nothing leaves the server.
//
// HTTP: PUT /api/submission/file (multipart/form-data, field "file")
func (h *SubmissionHandler) HandleSelect(w http.ResponseWriter, r *http.Request) {
	ws, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	file, err := readImage(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := ws.Orchestrator.Select(file); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submissionResponse{Job: ws.Orchestrator.Job()})
}

// HandleRun starts the pipeline for the selected photo and waits for it.
//
// HTTP: POST /api/submission/run
// Response: 201 with the finished job and the new cutting. A failed stage
// answers 502 with "stage" naming where it stopped.
func (h *SubmissionHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	ws, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	c, err := ws.Orchestrator.Run(r.Context())
	h.respondRun(w, ws, c, err)
}

// HandleSubmit selects and runs in one request.
//
// HTTP: POST /api/submissions (multipart/form-data, fields "file" and
// optional "ownerId", which must match the signed-in user)
func (h *SubmissionHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ws, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	file, err := readImage(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	ownerID := r.FormValue("ownerId")
	if ownerID == "" {
		ownerID, _ = auth.UserIDFromContext(r.Context())
	}

	c, err := ws.Orchestrator.Submit(r.Context(), file, ownerID)
	h.respondRun(w, ws, c, err)
}

// HandleReset abandons the current job. A run still in flight finishes in
// the background but its result is not applied to the new job.
//
// HTTP: DELETE /api/submission
func (h *SubmissionHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ws, ok := requireWorkspace(w, r)
	if !ok {
		return
	}
	ws.Orchestrator.Reset()
	writeJSON(w, http.StatusOK, submissionResponse{Job: ws.Orchestrator.Job()})
}

func (h *SubmissionHandler) respondRun(w http.ResponseWriter, ws *workspace.Workspace, c *model.Cutting, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	view := toView(ws, *c)
	writeJSON(w, http.StatusCreated, submissionResponse{Job: ws.Orchestrator.Job(), Cutting: &view})
}

// readImage pulls the photo out of a multipart request. At most one byte
// past the size limit is read so the orchestrator can reject oversized
// files with its own message.
func readImage(w http.ResponseWriter, r *http.Request) (model.ImageFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, model.MaxImageBytes+multipartOverhead)
	if err := r.ParseMultipartForm(model.MaxImageBytes + multipartOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return model.ImageFile{}, apperror.ValidationFailed(fileField, tooLargeMessage)
		}
		return model.ImageFile{}, apperror.ValidationFailed(fileField, "expected a multipart form with a file field")
	}

	f, header, err := r.FormFile(fileField)
	if err != nil {
		return model.ImageFile{}, apperror.ValidationFailed(fileField, "no file was attached")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, model.MaxImageBytes+1))
	if err != nil {
		return model.ImageFile{}, apperror.ValidationFailed(fileField, "could not read the uploaded file")
	}

	return model.ImageFile{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
