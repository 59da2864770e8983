package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/mattmanj17/msgindex/internal/api"
	"github.com/mattmanj17/msgindex/internal/config"
	"github.com/mattmanj17/msgindex/internal/datastore"
	"github.com/mattmanj17/msgindex/internal/indexer"
	"github.com/mattmanj17/msgindex/internal/ingest"
	"github.com/mattmanj17/msgindex/internal/mailstore"
	ws "github.com/mattmanj17/msgindex/internal/websocket"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ds, err := datastore.Open(cfg.DBPath, cfg.Indexer.FirstValidID)
	if err != nil {
		log.Fatalf("Failed to open datastore: %v", err)
	}
	defer ds.Close()

	log.Printf("Successfully opened index database at %s", ds.Path())

	store := mailstore.NewMemStore()
	idx := indexer.New(store, ds, cfg.Indexer)

	wsHub := ws.NewHub(10)
	idx.AddProgressListener(wsHub)

	// All store mutations and all indexing run on one goroutine; the rest
	// of the process feeds it closures.
	work := make(chan func(), 64)
	go func() {
		for fn := range work {
			fn()
			idx.Drain()
		}
	}()
	work <- func() { idx.Enable() }

	if cfg.IMAPAddr() != "" {
		startIngest(cfg, store, work)
	} else {
		log.Printf("No IMAP server configured; serving the existing index only")
	}

	server := NewServer(ds, wsHub)
	address := ":" + cfg.Port
	log.Printf("Message index server starting on %s (environment: %s)", address, cfg.Environment)

	if err := http.ListenAndServe(address, server); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// startIngest connects the IMAP syncer and the IDLE watcher.  Sync runs
// on its own goroutine; store mutations are funneled through work.
func startIngest(cfg *config.Config, store *mailstore.MemStore, work chan func()) {
	syncer := ingest.NewSyncer(store, cfg.IMAPUsername, cfg.IMAPAddr(), cfg.IMAPUsername, cfg.IMAPPassword, true)
	syncer.Apply = func(fn func()) { work <- fn }

	syncRequests := make(chan struct{}, 1)
	go func() {
		if err := syncer.Connect(); err != nil {
			log.Printf("Warning: IMAP connect failed: %v", err)
			return
		}
		defer syncer.Close()
		if err := syncer.SyncAll(); err != nil {
			log.Printf("Warning: initial sync failed: %v", err)
		}
		for range syncRequests {
			if err := syncer.SyncAll(); err != nil {
				log.Printf("Warning: sync failed: %v", err)
			}
		}
	}()

	watcher := ingest.NewWatcher(cfg.IMAPAddr(), cfg.IMAPUsername, cfg.IMAPPassword, true)
	go watcher.Watch(context.Background(), func() {
		select {
		case syncRequests <- struct{}{}:
		default:
		}
	})
}

// NewServer creates the HTTP handler for the index API.
func NewServer(ds *datastore.Store, wsHub *ws.Hub) http.Handler {
	searchHandler := api.NewSearchHandler(ds)
	statusHandler := api.NewStatusHandler(ds)
	wsHandler := api.NewWebSocketHandler(wsHub)

	mux := http.NewServeMux()
	mux.HandleFunc("/", handleRoot)
	mux.Handle("/api/v1/search", http.HandlerFunc(searchHandler.Search))
	mux.Handle("/api/v1/status", http.HandlerFunc(statusHandler.Status))
	mux.Handle("/api/v1/ws", http.HandlerFunc(wsHandler.Handle))
	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Message index API is running")
}
