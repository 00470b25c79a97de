package clips

import (
	"context"
	"strings"
)

// NewStore picks a backend from the database URL: empty is in-memory,
// "sqlite:" or "file:" is SQLite, anything else is PostgreSQL.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	switch {
	case databaseURL == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(databaseURL, "sqlite:"))
	case strings.HasPrefix(databaseURL, "file:"):
		return NewSQLiteStore(ctx, databaseURL)
	default:
		return NewPostgresStore(ctx, databaseURL)
	}
}
