package indexer

// Progress is a point-in-time snapshot of the active job, sent to
// listeners after every unit of work.
type Progress struct {
	JobKind    string `json:"jobKind"`
	FolderURI  string `json:"folderUri,omitempty"`
	Offset     int    `json:"offset"`
	Goal       int    `json:"goal"`
	QueueDepth int    `json:"queueDepth"`
}

// ProgressListener receives progress snapshots on the indexing goroutine;
// implementations that fan out elsewhere must not block.
type ProgressListener interface {
	IndexingProgress(p Progress)
}
