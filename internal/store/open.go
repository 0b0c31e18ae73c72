package store

import (
	"context"
	"fmt"
	"strings"
)

// Open returns the job store selected by driver, which is "memory" or
// "postgres". The returned store also implements UsageStore. close
// releases its resources.
func Open(ctx context.Context, driver, dsn string) (JobStore, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		return NewMemoryJobStore(), func() error { return nil }, nil
	case "postgres":
		pg, err := NewPostgresJobStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported job store driver: %s", driver)
	}
}
