package storage

import (
	"fmt"
)

// Storage backends
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Options selects and configures a storage backend
type Options struct {
	Backend      string
	DatabasePath string

	// DynamoDB backend only. Run history and API call logs stay in SQLite
	// (or memory when DatabasePath is empty).
	DynamoClient DynamoDBAPI
	DynamoTable  string
}

// Open creates the repository for the configured backend
func Open(opts Options) (Repository, error) {
	switch opts.Backend {
	case BackendSQLite, "":
		if opts.DatabasePath == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		return NewStorage(opts.DatabasePath)

	case BackendMemory:
		return NewMockRepository(), nil

	case BackendDynamoDB:
		if opts.DynamoClient == nil || opts.DynamoTable == "" {
			return nil, fmt.Errorf("dynamodb backend requires a client and table name")
		}
		var history Repository = NewMockRepository()
		if opts.DatabasePath != "" {
			s, err := NewStorage(opts.DatabasePath)
			if err != nil {
				return nil, err
			}
			history = s
		}
		return WithStateStore(history, NewDynamoStore(opts.DynamoClient, opts.DynamoTable)), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

// composite serves sync state from one store and history from another
type composite struct {
	StateStore
	SyncRunRepository
	APICallRepository
	history Repository
}

// WithStateStore returns a Repository whose StateStore methods go to state
// and everything else to history.
func WithStateStore(history Repository, state StateStore) Repository {
	return &composite{
		StateStore:        state,
		SyncRunRepository: history,
		APICallRepository: history,
		history:           history,
	}
}

// Close closes the history repository
func (c *composite) Close() error {
	return c.history.Close()
}
