package api

import (
	"net/http"

	"github.com/mattmanj17/msgindex/internal/datastore"
)

// StatusHandler reports the index's folder-level state.
type StatusHandler struct {
	ds *datastore.Store
}

// NewStatusHandler creates a StatusHandler instance.
func NewStatusHandler(ds *datastore.Store) *StatusHandler {
	return &StatusHandler{ds: ds}
}

type folderStatus struct {
	URI         string `json:"uri"`
	DirtyStatus string `json:"dirtyStatus"`
	Priority    int    `json:"priority"`
	Indexing    bool   `json:"indexing"`
}

// Status handles status requests.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	folders := make([]folderStatus, 0)
	for _, rec := range h.ds.Folders() {
		folders = append(folders, folderStatus{
			URI:         rec.URI,
			DirtyStatus: rec.DirtyStatus.String(),
			Priority:    rec.Priority,
			Indexing:    rec.Indexing,
		})
	}
	WriteJSONResponse(w, map[string]any{"folders": folders})
}
