package api

import (
	"log"
	"net/http"
	"time"

	"github.com/mattmanj17/msgindex/internal/datastore"
)

// SearchHandler serves fulltext search over the index.
type SearchHandler struct {
	ds *datastore.Store
}

// NewSearchHandler creates a SearchHandler instance.
func NewSearchHandler(ds *datastore.Store) *SearchHandler {
	return &SearchHandler{ds: ds}
}

type searchResult struct {
	ID              int64     `json:"id"`
	ConversationID  int64     `json:"conversationId"`
	HeaderMessageID string    `json:"headerMessageId"`
	Date            time.Time `json:"date"`
}

// Search handles search requests.  An empty query is a 400; FTS has no
// meaningful "everything" result.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "query parameter q is required", http.StatusBadRequest)
		return
	}
	limit := ParseLimitParam(r, 100)

	msgs, err := h.ds.SearchMessageText(query)
	if err != nil {
		log.Printf("SearchHandler: Failed to search: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}

	results := make([]searchResult, 0, len(msgs))
	for _, m := range msgs {
		results = append(results, searchResult{
			ID:              m.ID,
			ConversationID:  m.ConversationID,
			HeaderMessageID: m.HeaderMessageID,
			Date:            m.Date,
		})
	}
	WriteJSONResponse(w, map[string]any{
		"results":    results,
		"totalCount": len(results),
	})
}
