package indexing

import (
	"context"

	"github.com/google/uuid"

	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

// ResourceIndexer runs the per-resource knowledge-graph extraction.
// Implementations must be idempotent: re-running a resource merges
// rather than duplicates.
type ResourceIndexer interface {
	IndexResourceGraph(ctx context.Context, resourceID uuid.UUID, thoroughness string, log *logger.Logger) error
}

// SessionCrossLinker connects related concepts across all resources
// of a session and returns summary stats for the phase payload.
type SessionCrossLinker interface {
	CrossLinkSession(ctx context.Context, sessionID uuid.UUID, log *logger.Logger) (map[string]any, error)
}

// GraphCleaner prunes the session graph. CleanupGraph is the
// deterministic pass; CleanupGraphLLM is the model-assisted pass and
// is best-effort on top of it.
type GraphCleaner interface {
	CleanupGraph(ctx context.Context, sessionID uuid.UUID, log *logger.Logger) (map[string]any, error)
	CleanupGraphLLM(ctx context.Context, sessionID uuid.UUID, log *logger.Logger) (map[string]any, error)
}

// MetadataExtractor derives display metadata for a single resource.
type MetadataExtractor interface {
	ExtractResourceMetadata(ctx context.Context, resourceID uuid.UUID, log *logger.Logger) error
}

// ResourceProcessor normalizes a freshly created resource before it
// is eligible for indexing.
type ResourceProcessor interface {
	ProcessResource(ctx context.Context, resourceID uuid.UUID, log *logger.Logger) error
}

// Steps bundles the extraction collaborators a Service drives. All
// fields are required.
type Steps struct {
	Indexer     ResourceIndexer
	CrossLinker SessionCrossLinker
	Cleaner     GraphCleaner
	Metadata    MetadataExtractor
	Processor   ResourceProcessor
}
