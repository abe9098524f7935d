package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/propability/internal/apperror"
	"github.com/sakif/propability/internal/checkin"
	"github.com/sakif/propability/internal/model"
	"github.com/sakif/propability/internal/workspace"
)

// CuttingHandler serves the dashboard: the signed-in user's tracked
// cuttings, renames, deletes and check-in feedback.
//
// Every route runs behind workspace.Middleware, so each request reaches the
// caller's own registry; the handler never touches a store directly.
type CuttingHandler struct {
	logger *slog.Logger
}

// NewCuttingHandler creates a CuttingHandler.
func NewCuttingHandler(logger *slog.Logger) *CuttingHandler {
	return &CuttingHandler{logger: logger}
}

// cuttingView is a cutting plus what the dashboard derives from it.
type cuttingView struct {
	model.Cutting
	DaysActive  int            `json:"daysActive"`
	CheckIn     checkin.Window `json:"checkIn"`
	SuccessBand string         `json:"successBand"`
}

func toView(ws *workspace.Workspace, c model.Cutting) cuttingView {
	w := ws.Scheduler.Window(c)
	return cuttingView{
		Cutting:     c,
		DaysActive:  w.ElapsedDays,
		CheckIn:     w,
		SuccessBand: model.SuccessBand(c.SuccessRate),
	}
}

type listResponse struct {
	Cuttings []cuttingView `json:"cuttings"`
	Count    int           `json:"count"`
}

type renameRequest struct {
	Nickname string `json:"nickname"`
}

type feedbackRequest struct {
	Rooted *bool `json:"rooted"`
}

// HandleList reloads the caller's cuttings from the record store.
//
// HTTP: GET /api/cuttings
// Response: 200 {"cuttings": [...], "count": N}, newest first.
func (h *CuttingHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ws, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	items, err := ws.Registry.Load(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]cuttingView, 0, len(items))
	for _, c := range items {
		views = append(views, toView(ws, c))
	}
	writeJSON(w, http.StatusOK, listResponse{Cuttings: views, Count: len(views)})
}

// HandleGet returns one cutting. A cold registry is loaded first.
//
// HTTP: GET /api/cuttings/{id}
func (h *CuttingHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ws, ok := requireWorkspace(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	c, found := ws.Registry.Get(id)
	if !found {
		if _, err := ws.Registry.Load(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		if c, found = ws.Registry.Get(id); !found {
			writeError(w, apperror.NotFound("cutting", id))
			return
		}
	}
	writeJSON(w, http.StatusOK, toView(ws, c))
}

// HandleRename changes a cutting's nickname.
//
// HTTP: PATCH /api/cuttings/{id}
// Request body: {"nickname": "Pothos by the window"}
func (h *CuttingHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	ws, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	var req renameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	updated, err := ws.Registry.Rename(r.Context(), chi.URLParam(r, "id"), req.Nickname)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(ws, *updated))
}

// HandleDelete permanently removes a cutting. The client must confirm with
// ?confirm=true; deletion cannot be undone.
//
// HTTP: DELETE /api/cuttings/{id}?confirm=true
// Response: 204 No Content
func (h *CuttingHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ws, ok := requireWorkspace(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, apperror.ValidationFailed("confirm",
			"Permanently delete this experiment? Repeat the request with confirm=true."))
		return
	}

	if err := ws.Registry.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleFeedback records whether an eligible cutting rooted.
//
// HTTP: POST /api/cuttings/{id}/feedback
// Request body: {"rooted": true}
// Response: 200 {"message": "..."}
func (h *CuttingHandler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	ws, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Rooted == nil {
		writeError(w, apperror.ValidationFailed("rooted", "rooted is required"))
		return
	}

	msg, err := ws.Registry.RecordFeedback(r.Context(), chi.URLParam(r, "id"), *req.Rooted)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// requireWorkspace fetches the caller's workspace or answers 401.
func requireWorkspace(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	ws, ok := workspace.FromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthenticated(r.Method+" "+r.URL.Path))
		return nil, false
	}
	return ws, true
}
