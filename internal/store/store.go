// Package store persists the execution log.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contractml/internal/model"
)

// Drivers.
const (
	DriverNone     = "none"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	Domain string                `json:"domain,omitempty"`
	Status model.ExecutionStatus `json:"status,omitempty"`
	Since  time.Time             `json:"since,omitempty"`
	Limit  int                   `json:"limit,omitempty"`
	Offset int                   `json:"offset,omitempty"`
}

// Store records contract executions.
type Store interface {
	RecordExecution(ctx context.Context, rec *model.ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*model.ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.ExecutionRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the configured driver and applies the schema. The
// "none" driver (or an empty one) returns a nil Store and no error.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "", DriverNone:
		return nil, nil
	case DriverSQLite:
		if dsn == "" {
			dsn = "contractml.db"
		}
		s, err = NewSQLite(dsn)
	case DriverPostgres:
		s, err = NewPostgres(ctx, dsn, nil)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

const defaultListLimit = 100

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}
