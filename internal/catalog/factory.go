package catalog

import (
	"context"
	"strings"
)

// NewSource creates a postgres-backed catalog when configured, otherwise the
// static demo catalog.
func NewSource(ctx context.Context, databaseURL string) (Source, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewStaticSource(nil), nil
	}
	return NewPostgresSource(ctx, databaseURL)
}
