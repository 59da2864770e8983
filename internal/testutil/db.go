package testutil

import (
	"path/filepath"
	"testing"

	"github.com/mattmanj17/msgindex/internal/config"
	"github.com/mattmanj17/msgindex/internal/datastore"
)

// NewTestDatastore opens a fresh SQLite index database in a temp
// directory.  The file is cleaned up with the test.
func NewTestDatastore(t *testing.T) *datastore.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "index.db")
	ds, err := datastore.Open(path, config.DefaultIndexer().FirstValidID)
	if err != nil {
		t.Fatalf("Failed to open test datastore: %v", err)
	}
	t.Cleanup(func() {
		if err := ds.Close(); err != nil {
			t.Errorf("Failed to close test datastore: %v", err)
		}
	})
	return ds
}
