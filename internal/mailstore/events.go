package mailstore

// Listener receives store lifecycle notifications.  All methods are called
// synchronously from the mutation that caused them.
type Listener interface {
	// MsgsClassified fires after junk/trait classification and filtering
	// have had their shot at newly appeared messages.  This — not message
	// addition — is the signal that a message exists and may be indexed.
	MsgsClassified(hdrs []Header)
	// MsgsJunkStatusChanged fires when a user or filter flips junk status.
	MsgsJunkStatusChanged(hdrs []Header)
	// MsgsDeleted fires just before messages are removed forever.
	MsgsDeleted(hdrs []Header)
	// MsgsMoveCopyCompleted fires after a move or copy.  destHdrs is empty
	// for moves where the destination headers are not known (server-side
	// moves without offline copies).
	MsgsMoveCopyCompleted(move bool, srcHdrs []Header, dest Folder, destHdrs []Header)
	// MsgKeyChanged fires when a single message's key changes in place
	// (an offline placeholder header becoming real).
	MsgKeyChanged(oldKey uint32, newHdr Header)

	FolderAdded(folder Folder)
	// FolderDeleted fires once per deleted folder; the store calls it for
	// a deleted folder and again for each descendant.
	FolderDeleted(folder Folder)
	// FolderMoveCopyCompleted fires for whole-folder moves and copies.
	FolderMoveCopyCompleted(move bool, srcURI string, folder Folder)
	// FolderRenamed fires after a folder's URI changes; descendants keep
	// their relative paths under the new URI.
	FolderRenamed(oldURI string, folder Folder)
	// FolderCompactStart/Finish bracket a compaction that renumbers the
	// folder's message keys.  The folder database is discarded at start.
	FolderCompactStart(folder Folder)
	FolderCompactFinish(folder Folder)
	// FolderReindexTriggered fires when an external repair (summary
	// rebuild) begins; a FolderLoaded follows when it completes.
	FolderReindexTriggered(folder Folder)
	// FolderLoaded fires when a folder that required asynchronous work
	// before it could be opened becomes readable.
	FolderLoaded(folder Folder)
	// FolderIntPropertyChanged fires for integer folder property changes;
	// the indexer cares about "FolderFlag".
	FolderIntPropertyChanged(folder Folder, property string, oldValue, newValue uint32)
	// FolderPropertyFlagChanged fires for per-message property changes
	// ("Keywords", "Status", "Flagged").
	FolderPropertyFlagChanged(hdr Header, property string, oldValue, newValue uint32)
}
