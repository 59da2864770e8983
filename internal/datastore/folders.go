package datastore

import (
	"fmt"

	"github.com/mattmanj17/msgindex/internal/models"
)

func (s *Store) loadFolders() error {
	rows, err := s.db.Query(
		"SELECT id, folder_uri, dirty_status, indexing_priority FROM folder_locations")
	if err != nil {
		return fmt.Errorf("load folders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		f := &models.Folder{}
		var dirty int
		if err := rows.Scan(&f.ID, &f.URI, &dirty, &f.Priority); err != nil {
			return fmt.Errorf("scan folder: %w", err)
		}
		f.DirtyStatus = models.DirtyState(dirty)
		s.folderByURI[f.URI] = f
		s.folderByID[f.ID] = f
	}
	return rows.Err()
}

// FolderByURI returns the cached folder record for a URI, if known.
func (s *Store) FolderByURI(uri string) (*models.Folder, bool) {
	f, ok := s.folderByURI[uri]
	return f, ok
}

// FolderByID returns the cached folder record by id, if known.
func (s *Store) FolderByID(id int64) (*models.Folder, bool) {
	f, ok := s.folderByID[id]
	return f, ok
}

// Folders returns every known folder record.
func (s *Store) Folders() []*models.Folder {
	out := make([]*models.Folder, 0, len(s.folderByURI))
	for _, f := range s.folderByURI {
		out = append(out, f)
	}
	return out
}

// MapFolder returns the folder record for a URI, creating it with the
// given priority on first sight.  New folders start filthy; nothing in
// them has been indexed yet.
func (s *Store) MapFolder(uri string, priority int) (*models.Folder, error) {
	if f, ok := s.folderByURI[uri]; ok {
		return f, nil
	}
	res, err := s.db.Exec(`
		INSERT INTO folder_locations (folder_uri, dirty_status, indexing_priority)
		VALUES (?, ?, ?)`, uri, int(models.Filthy), priority)
	if err != nil {
		return nil, fmt.Errorf("map folder %s: %w", uri, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("map folder %s: %w", uri, err)
	}
	f := &models.Folder{
		ID:          id,
		URI:         uri,
		DirtyStatus: models.Filthy,
		Priority:    priority,
	}
	s.folderByURI[uri] = f
	s.folderByID[id] = f
	return f, nil
}

// UpdateFolderDirtyStatus persists the folder's current dirty status.
func (s *Store) UpdateFolderDirtyStatus(f *models.Folder) error {
	_, err := s.db.Exec(
		"UPDATE folder_locations SET dirty_status = ? WHERE id = ?",
		int(f.DirtyStatus), f.ID)
	if err != nil {
		return fmt.Errorf("update folder %s dirty status: %w", f.URI, err)
	}
	return nil
}

// UpdateFolderIndexingPriority persists the folder's current priority.
func (s *Store) UpdateFolderIndexingPriority(f *models.Folder) error {
	_, err := s.db.Exec(
		"UPDATE folder_locations SET indexing_priority = ? WHERE id = ?",
		f.Priority, f.ID)
	if err != nil {
		return fmt.Errorf("update folder %s priority: %w", f.URI, err)
	}
	return nil
}

// RenameFolder rewrites the URI of a known folder record.
func (s *Store) RenameFolder(f *models.Folder, newURI string) error {
	_, err := s.db.Exec(
		"UPDATE folder_locations SET folder_uri = ? WHERE id = ?", newURI, f.ID)
	if err != nil {
		return fmt.Errorf("rename folder %s: %w", f.URI, err)
	}
	delete(s.folderByURI, f.URI)
	f.URI = newURI
	s.folderByURI[newURI] = f
	return nil
}

// DeleteFolderByID removes a folder record.  The caller is responsible
// for the messages that referenced it.
func (s *Store) DeleteFolderByID(id int64) error {
	f, ok := s.folderByID[id]
	if !ok {
		return nil
	}
	if _, err := s.db.Exec("DELETE FROM folder_locations WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete folder %s: %w", f.URI, err)
	}
	delete(s.folderByURI, f.URI)
	delete(s.folderByID, id)
	return nil
}
