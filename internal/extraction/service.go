package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/gong8/cramkit-sub000/internal/data/graph"
	"github.com/gong8/cramkit-sub000/internal/data/repos"
	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/indexing"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
	"github.com/gong8/cramkit-sub000/internal/platform/neo4jdb"
	"github.com/gong8/cramkit-sub000/internal/platform/openai"
)

/*
Service turns study materials into the session concept graph. It is the
concrete implementation of every step the indexing orchestrator drives:
per-resource concept extraction, session-wide cross-linking, graph
cleanup (deterministic and model-assisted), metadata extraction, and
the pre-indexing normalization pass.

Every write is a MERGE keyed on stable identifiers, so re-running any
step against the same resource converges instead of duplicating.
*/
type Service interface {
	IndexResourceGraph(ctx context.Context, resourceID uuid.UUID, thoroughness string, log *logger.Logger) error
	CrossLinkSession(ctx context.Context, sessionID uuid.UUID, log *logger.Logger) (map[string]any, error)
	CleanupGraph(ctx context.Context, sessionID uuid.UUID, log *logger.Logger) (map[string]any, error)
	CleanupGraphLLM(ctx context.Context, sessionID uuid.UUID, log *logger.Logger) (map[string]any, error)
	ExtractResourceMetadata(ctx context.Context, resourceID uuid.UUID, log *logger.Logger) error
	ProcessResource(ctx context.Context, resourceID uuid.UUID, log *logger.Logger) error
}

type service struct {
	log *logger.Logger

	sessions  repos.SessionRepo
	resources repos.ResourceRepo

	ai    openai.Client
	graph *neo4jdb.Client
}

func NewService(
	baseLog *logger.Logger,
	sessions repos.SessionRepo,
	resources repos.ResourceRepo,
	ai openai.Client,
	graphClient *neo4jdb.Client,
) Service {
	return &service{
		log:       baseLog.With("service", "ExtractionService"),
		sessions:  sessions,
		resources: resources,
		ai:        ai,
		graph:     graphClient,
	}
}

// Steps bundles the service for the orchestrator's collaborator slots.
func Steps(s Service) indexing.Steps {
	return indexing.Steps{
		Indexer:     s,
		CrossLinker: s,
		Cleaner:     s,
		Metadata:    s,
		Processor:   s,
	}
}

// Thoroughness levels accepted on batch enqueue.
const (
	ThoroughnessFast       = "fast"
	ThoroughnessBalanced   = "balanced"
	ThoroughnessExhaustive = "exhaustive"
)

// extractionBudget caps prompt size and concept count per level.
func extractionBudget(thoroughness string) (maxChars, maxConcepts int) {
	switch strings.ToLower(strings.TrimSpace(thoroughness)) {
	case ThoroughnessFast:
		return 6000, 8
	case ThoroughnessExhaustive:
		return 24000, 30
	default:
		return 12000, 15
	}
}

// classifyUpstream wraps rate limits, 5xx, and timeouts so the
// orchestrator's breaker counts them; everything else passes through.
// Cancellation is never reclassified.
func classifyUpstream(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var sc interface{ HTTPStatusCode() int }
	if errors.As(err, &sc) {
		if code := sc.HTTPStatusCode(); code == http.StatusTooManyRequests || code >= 500 {
			return indexing.NewAPIFailure(err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return indexing.NewAPIFailure(err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return indexing.NewAPIFailure(err)
	}
	return err
}

func (s *service) stepLog(log *logger.Logger) *logger.Logger {
	if log != nil {
		return log
	}
	return s.log
}

func (s *service) loadResource(ctx context.Context, resourceID uuid.UUID) (*types.Resource, error) {
	resource, err := s.resources.GetByID(dbctx.New(ctx), resourceID)
	if err != nil {
		return nil, fmt.Errorf("load resource: %w", err)
	}
	if resource == nil {
		return nil, fmt.Errorf("resource %s: %w", resourceID, indexing.ErrResourceNotFound)
	}
	return resource, nil
}

func (s *service) IndexResourceGraph(ctx context.Context, resourceID uuid.UUID, thoroughness string, log *logger.Logger) error {
	log = s.stepLog(log)

	resource, err := s.loadResource(ctx, resourceID)
	if err != nil {
		return err
	}

	maxChars, maxConcepts := extractionBudget(thoroughness)
	excerpt := truncateText(resource.TextContent, maxChars)
	if strings.TrimSpace(excerpt) == "" {
		// Nothing to extract from; the title still seeds a node so
		// cross-linking can reference the resource.
		excerpt = resource.Title
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"concepts": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":       map[string]any{"type": "string"},
						"summary":    map[string]any{"type": "string"},
						"importance": map[string]any{"type": "number"},
					},
					"required":             []string{"name", "summary", "importance"},
					"additionalProperties": false,
				},
			},
			"links": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"from": map[string]any{"type": "string"},
						"to":   map[string]any{"type": "string"},
						"kind": map[string]any{"type": "string"},
					},
					"required":             []string{"from", "to", "kind"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"concepts", "links"},
		"additionalProperties": false,
	}

	obj, err := s.ai.GenerateJSON(ctx,
		"You extract the key concepts a student must master from one study material. Concepts are short noun phrases; summaries are one sentence; importance is 0..1.",
		fmt.Sprintf("Material %q (type: %s). Extract at most %d concepts and the relationships between them.\n\n%s",
			resource.Title, resource.Type, maxConcepts, excerpt),
		"resource_concepts",
		schema,
	)
	if err != nil {
		return classifyUpstream(err)
	}

	concepts := parseConcepts(obj["concepts"], maxConcepts)
	links := parseLinks(obj["links"])

	if err := graph.UpsertResourceConcepts(ctx, s.graph, log, resource.SessionID, resource.ID, resource.Title, resource.Type, concepts); err != nil {
		return fmt.Errorf("upsert concepts: %w", err)
	}
	if len(links) > 0 {
		if _, err := graph.MergeConceptLinks(ctx, s.graph, log, resource.SessionID, links); err != nil {
			return fmt.Errorf("merge resource links: %w", err)
		}
	}

	log.Info("Resource graph indexed",
		"resource_id", resource.ID,
		"concepts", len(concepts),
		"links", len(links),
	)
	return nil
}

func (s *service) CrossLinkSession(ctx context.Context, sessionID uuid.UUID, log *logger.Logger) (map[string]any, error) {
	log = s.stepLog(log)

	session, err := s.sessions.GetByID(dbctx.New(ctx), sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, indexing.ErrSessionNotFound)
	}

	concepts, err := graph.SessionConcepts(ctx, s.graph, log, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session concepts: %w", err)
	}
	if len(concepts) < 2 {
		return map[string]any{"concepts_considered": len(concepts), "links_added": 0}, nil
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"links": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"from":     map[string]any{"type": "string"},
						"to":       map[string]any{"type": "string"},
						"kind":     map[string]any{"type": "string"},
						"strength": map[string]any{"type": "number"},
					},
					"required":             []string{"from", "to", "kind", "strength"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"links"},
		"additionalProperties": false,
	}

	obj, err := s.ai.GenerateJSON(ctx,
		"You connect related concepts across the study materials of one session. Use the concept keys verbatim. kind is one of: prerequisite, related, contrast. strength is 0..1.",
		fmt.Sprintf("Concepts:\n%s\nReturn the cross-material relationships worth surfacing to a student.", conceptInventory(concepts)),
		"session_links",
		schema,
	)
	if err != nil {
		return nil, classifyUpstream(err)
	}

	links := parseLinks(obj["links"])
	added, err := graph.MergeConceptLinks(ctx, s.graph, log, sessionID, links)
	if err != nil {
		return nil, fmt.Errorf("merge session links: %w", err)
	}

	log.Info("Session cross-linked",
		"session_id", sessionID,
		"concepts", len(concepts),
		"links_suggested", len(links),
		"links_added", added,
	)
	return map[string]any{
		"concepts_considered": len(concepts),
		"links_suggested":     len(links),
		"links_added":         added,
	}, nil
}

func (s *service) CleanupGraph(ctx context.Context, sessionID uuid.UUID, log *logger.Logger) (map[string]any, error) {
	log = s.stepLog(log)

	merged, err := graph.MergeDuplicateConcepts(ctx, s.graph, log, sessionID)
	if err != nil {
		return nil, fmt.Errorf("merge duplicates: %w", err)
	}
	orphans, err := graph.RemoveOrphanConcepts(ctx, s.graph, log, sessionID)
	if err != nil {
		return nil, fmt.Errorf("remove orphans: %w", err)
	}
	concepts, links, err := graph.SessionStats(ctx, s.graph, log, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}

	log.Info("Session graph cleaned",
		"session_id", sessionID,
		"duplicates_merged", merged,
		"orphans_removed", orphans,
		"concepts", concepts,
		"links", links,
	)
	return map[string]any{
		"duplicates_merged": merged,
		"orphans_removed":   orphans,
		"concepts":          concepts,
		"links":             links,
	}, nil
}

func (s *service) CleanupGraphLLM(ctx context.Context, sessionID uuid.UUID, log *logger.Logger) (map[string]any, error) {
	log = s.stepLog(log)

	concepts, err := graph.SessionConcepts(ctx, s.graph, log, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session concepts: %w", err)
	}
	if len(concepts) < 2 {
		return map[string]any{"merges_applied": 0}, nil
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"merges": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"keep": map[string]any{"type": "string"},
						"drop": map[string]any{"type": "string"},
					},
					"required":             []string{"keep", "drop"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"merges"},
		"additionalProperties": false,
	}

	obj, err := s.ai.GenerateJSON(ctx,
		"You find concepts that mean the same thing despite different wording. Only merge true synonyms; use the concept keys verbatim.",
		fmt.Sprintf("Concepts:\n%s\nReturn the synonym pairs to merge.", conceptInventory(concepts)),
		"concept_merges",
		schema,
	)
	if err != nil {
		return nil, classifyUpstream(err)
	}

	pairs := parseMergePairs(obj["merges"])
	applied, err := graph.MergeConceptPairs(ctx, s.graph, log, sessionID, pairs)
	if err != nil {
		return nil, fmt.Errorf("apply merges: %w", err)
	}

	log.Info("Session graph LLM cleanup applied",
		"session_id", sessionID,
		"merges_suggested", len(pairs),
		"merges_applied", applied,
	)
	return map[string]any{
		"merges_suggested": len(pairs),
		"merges_applied":   applied,
	}, nil
}

func (s *service) ExtractResourceMetadata(ctx context.Context, resourceID uuid.UUID, log *logger.Logger) error {
	log = s.stepLog(log)

	resource, err := s.loadResource(ctx, resourceID)
	if err != nil {
		return err
	}
	if resource.MetadataExtractedAt != nil {
		return nil
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":           map[string]any{"type": "string"},
			"difficulty":        map[string]any{"type": "string"},
			"estimated_minutes": map[string]any{"type": "integer"},
			"topics":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
		"required":             []string{"summary", "difficulty", "estimated_minutes", "topics"},
		"additionalProperties": false,
	}

	excerpt := truncateText(resource.TextContent, 8000)
	if strings.TrimSpace(excerpt) == "" {
		excerpt = resource.Title
	}

	obj, err := s.ai.GenerateJSON(ctx,
		"You produce study metadata for one material: a two-sentence summary, difficulty (introductory|intermediate|advanced), estimated study minutes, and 3-6 topic tags.",
		fmt.Sprintf("Material %q (type: %s):\n\n%s", resource.Title, resource.Type, excerpt),
		"resource_metadata",
		schema,
	)
	if err != nil {
		return classifyUpstream(err)
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	now := time.Now()
	if err := s.resources.UpdateFields(dbctx.New(ctx), resource.ID, map[string]interface{}{
		"metadata":              datatypes.JSON(raw),
		"metadata_extracted_at": now,
	}); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}

	log.Info("Resource metadata extracted", "resource_id", resource.ID)
	return nil
}

func (s *service) ProcessResource(ctx context.Context, resourceID uuid.UUID, log *logger.Logger) error {
	log = s.stepLog(log)

	resource, err := s.loadResource(ctx, resourceID)
	if err != nil {
		return err
	}

	normalized := normalizeText(resource.TextContent)
	if normalized == resource.TextContent {
		return nil
	}
	if err := s.resources.UpdateFields(dbctx.New(ctx), resource.ID, map[string]interface{}{
		"text_content": normalized,
	}); err != nil {
		return fmt.Errorf("save normalized text: %w", err)
	}

	log.Info("Resource text normalized",
		"resource_id", resource.ID,
		"chars_before", len(resource.TextContent),
		"chars_after", len(normalized),
	)
	return nil
}

// -------------------- model output parsing --------------------

func parseConcepts(raw any, limit int) []graph.ConceptNode {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	concepts := make([]graph.ConceptNode, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := strings.TrimSpace(asString(obj["name"]))
		key := graph.ConceptKey(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		concepts = append(concepts, graph.ConceptNode{
			Key:        key,
			Name:       name,
			Summary:    strings.TrimSpace(asString(obj["summary"])),
			Importance: clamp01(asFloat(obj["importance"])),
		})
		if limit > 0 && len(concepts) >= limit {
			break
		}
	}
	return concepts
}

func parseLinks(raw any) []graph.ConceptLink {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	links := make([]graph.ConceptLink, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		from := asString(obj["from"])
		to := asString(obj["to"])
		if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			continue
		}
		strength := clamp01(asFloat(obj["strength"]))
		if strength == 0 {
			strength = 0.5
		}
		links = append(links, graph.ConceptLink{
			FromKey:  from,
			ToKey:    to,
			Kind:     asString(obj["kind"]),
			Strength: strength,
		})
	}
	return links
}

func parseMergePairs(raw any) [][2]string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	pairs := make([][2]string, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		keep := asString(obj["keep"])
		drop := asString(obj["drop"])
		if strings.TrimSpace(keep) == "" || strings.TrimSpace(drop) == "" {
			continue
		}
		pairs = append(pairs, [2]string{keep, drop})
	}
	return pairs
}

func conceptInventory(concepts []graph.ConceptNode) string {
	var b strings.Builder
	for _, c := range concepts {
		b.WriteString("- ")
		b.WriteString(c.Key)
		b.WriteString(": ")
		b.WriteString(c.Name)
		if c.Summary != "" {
			b.WriteString(" (")
			b.WriteString(truncateText(c.Summary, 160))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// -------------------- text handling --------------------

// truncateText cuts on a rune boundary and marks the cut.
func truncateText(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "\n[truncated]"
}

// normalizeText makes extracted text stable input for the prompts:
// unix newlines, no trailing-space lines, at most one blank line in a
// row, single spaces inside lines.
func normalizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
