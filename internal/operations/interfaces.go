package operations

import (
	"context"

	"eduetl/internal/config"
	"eduetl/internal/dataprocessing"
	"eduetl/pkg/contracts/domain"
)

// WebSocketHub interface for sending WebSocket messages
type WebSocketHub interface {
	BroadcastUpdate(eventType, step, status string, metadata interface{})
}

// YearExtractor produces the raw subject tables of one year.
type YearExtractor interface {
	Extract(ctx context.Context, year int, yp config.YearPaths) ([]dataprocessing.SubjectTable, error)
}

// Normalizer turns raw subject tables into a long table.
type Normalizer interface {
	Normalize(ctx context.Context, year int, tables []dataprocessing.SubjectTable) (domain.LongTable, error)
}

// StagingStore persists yearly long tables between the two stages.
type StagingStore interface {
	Write(ctx context.Context, year int, table domain.LongTable) (string, error)
	ReadAll(ctx context.Context, years []int) (domain.LongTable, error)
}

// WideTransformer derives the two relations from the staged union.
type WideTransformer interface {
	Transform(ctx context.Context, table domain.LongTable) (domain.Relations, error)
}

// RelationLoader writes the relations to the warehouse.
type RelationLoader interface {
	Load(ctx context.Context, rel domain.Relations) error
}
