package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mattmanj17/msgindex/internal/api"
	"github.com/mattmanj17/msgindex/internal/datastore"
	"github.com/mattmanj17/msgindex/internal/models"
	"github.com/mattmanj17/msgindex/internal/testutil"
	"github.com/stretchr/testify/require"
)

// seedMessage creates an indexed message with a fulltext row.
func seedMessage(t *testing.T, ds *datastore.Store, folderID int64, key uint32, messageID, body string) *models.Message {
	t.Helper()
	conv, err := ds.CreateConversation("seed")
	require.NoError(t, err)
	m, err := ds.CreateMessage(folderID, key, true, conv.ID, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), messageID)
	require.NoError(t, err)
	m.Subject = "seed"
	m.BodyLines = []string{body}
	require.NoError(t, ds.InsertMessageText(m))
	return m
}

func TestSearchRequiresQuery(t *testing.T) {
	ds := testutil.NewTestDatastore(t)
	h := api.NewSearchHandler(ds)

	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchReturnsMatches(t *testing.T) {
	ds := testutil.NewTestDatastore(t)
	folder, err := ds.MapFolder("mem://a/INBOX", 1)
	require.NoError(t, err)

	m := seedMessage(t, ds, folder.ID, 1, "<a@x>", "wombat sighting")
	seedMessage(t, ds, folder.ID, 2, "<b@x>", "nothing relevant")

	h := api.NewSearchHandler(ds)
	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=wombat", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Results []struct {
			ID              int64  `json:"id"`
			HeaderMessageID string `json:"headerMessageId"`
		} `json:"results"`
		TotalCount int `json:"totalCount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.TotalCount)
	require.Len(t, resp.Results, 1)
	require.Equal(t, m.ID, resp.Results[0].ID)
	require.Equal(t, "<a@x>", resp.Results[0].HeaderMessageID)
}

func TestSearchHonorsLimit(t *testing.T) {
	ds := testutil.NewTestDatastore(t)
	folder, err := ds.MapFolder("mem://a/INBOX", 1)
	require.NoError(t, err)

	for n := uint32(1); n <= 3; n++ {
		seedMessage(t, ds, folder.ID, n, "<m"+string(rune('0'+n))+"@x>", "wombat")
	}

	h := api.NewSearchHandler(ds)
	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=wombat&limit=2", nil))

	var resp struct {
		Results    []json.RawMessage `json:"results"`
		TotalCount int               `json:"totalCount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	require.Equal(t, 2, resp.TotalCount)
}

func TestSearchIgnoresBadLimit(t *testing.T) {
	ds := testutil.NewTestDatastore(t)
	folder, err := ds.MapFolder("mem://a/INBOX", 1)
	require.NoError(t, err)
	seedMessage(t, ds, folder.ID, 1, "<a@x>", "wombat")

	h := api.NewSearchHandler(ds)
	rec := httptest.NewRecorder()
	h.Search(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=wombat&limit=banana", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		TotalCount int `json:"totalCount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.TotalCount)
}

func TestStatusListsFolders(t *testing.T) {
	ds := testutil.NewTestDatastore(t)
	_, err := ds.MapFolder("mem://a/INBOX", 1)
	require.NoError(t, err)

	h := api.NewStatusHandler(ds)
	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Folders []struct {
			URI         string `json:"uri"`
			DirtyStatus string `json:"dirtyStatus"`
			Priority    int    `json:"priority"`
			Indexing    bool   `json:"indexing"`
		} `json:"folders"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Folders, 1)
	require.Equal(t, "mem://a/INBOX", resp.Folders[0].URI)
	require.Equal(t, models.Filthy.String(), resp.Folders[0].DirtyStatus)
	require.Equal(t, 1, resp.Folders[0].Priority)
	require.False(t, resp.Folders[0].Indexing)
}

func TestStatusEmptyIndex(t *testing.T) {
	ds := testutil.NewTestDatastore(t)

	h := api.NewStatusHandler(ds)
	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"folders":[]}`, rec.Body.String())
}
