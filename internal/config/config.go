package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries everything the indexer daemon needs from the environment,
// plus the tuning knobs for the indexing engine itself.  The engine knobs
// have defaults that match years of production tuning; override them only
// for tests.
type Config struct {
	Environment string
	Port        string
	DBPath      string
	Timezone    string

	// IMAP ingest settings.
	IMAPHost     string
	IMAPPort     string
	IMAPUsername string
	IMAPPassword string

	Indexer IndexerConfig
}

// IndexerConfig tunes the indexing engine.
type IndexerConfig struct {
	// FirstValidID is the lowest id ever assigned to a message record.
	// Ids below it are sentinels written to headers of messages that
	// could not be indexed.
	FirstValidID int64
	// BadIDSentinel marks a header whose message failed indexing in this
	// schema generation; OldBadIDSentinel is the pre-migration marker that
	// earns one retry.
	BadIDSentinel    uint32
	OldBadIDSentinel uint32

	// HeaderCheckBlockSize is how many headers a marking or counting pass
	// touches per unit of work.
	HeaderCheckBlockSize int
	// MessagesPerFolderCommit is how many indexed messages accumulate
	// before pending header writes are committed.
	MessagesPerFolderCommit int
	// CompactionBlockSize is how many durable location tuples a
	// compaction reconciliation pass fetches at a time.
	CompactionBlockSize int
	// DeletionBlockSize is how many tombstoned records a delete sweep
	// processes per unit of work.
	DeletionBlockSize int
	// EventCoalesceLimit caps how many individual messages an event
	// handler re-dirties before giving up and scheduling a folder sweep.
	EventCoalesceLimit int
}

// DefaultIndexer returns the production engine tuning.
func DefaultIndexer() IndexerConfig {
	return IndexerConfig{
		FirstValidID:            32,
		BadIDSentinel:           2,
		OldBadIDSentinel:        1,
		HeaderCheckBlockSize:    25,
		MessagesPerFolderCommit: 200,
		CompactionBlockSize:     512,
		DeletionBlockSize:       32,
		EventCoalesceLimit:      20,
	}
}

func NewConfig() (*Config, error) {
	env := os.Getenv("MSGINDEX_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:  env,
		Port:         getEnvOrDefault("PORT", "8080"),
		DBPath:       getEnvOrDefault("MSGINDEX_DB_PATH", "data/index.db"),
		Timezone:     getEnvOrDefault("TZ", "UTC"),
		IMAPHost:     os.Getenv("MSGINDEX_IMAP_HOST"),
		IMAPPort:     getEnvOrDefault("MSGINDEX_IMAP_PORT", "993"),
		IMAPUsername: os.Getenv("MSGINDEX_IMAP_USER"),
		IMAPPassword: os.Getenv("MSGINDEX_IMAP_PASSWORD"),
		Indexer:      DefaultIndexer(),
	}

	if v := os.Getenv("MSGINDEX_COMMIT_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("MSGINDEX_COMMIT_EVERY must be a positive integer, got %q", v)
		}
		config.Indexer.MessagesPerFolderCommit = n
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("MSGINDEX_DB_PATH is required")
	}

	if c.IMAPHost != "" && c.IMAPUsername == "" {
		return fmt.Errorf("MSGINDEX_IMAP_USER is required when MSGINDEX_IMAP_HOST is set")
	}

	return nil
}

// IMAPAddr returns the host:port of the configured IMAP server, or ""
// when ingest is not configured.
func (c *Config) IMAPAddr() string {
	if c.IMAPHost == "" {
		return ""
	}
	return c.IMAPHost + ":" + c.IMAPPort
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
