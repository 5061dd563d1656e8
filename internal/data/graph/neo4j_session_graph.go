package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/gong8/cramkit-sub000/internal/platform/logger"
	"github.com/gong8/cramkit-sub000/internal/platform/neo4jdb"
)

/*
The session graph holds one concept subgraph per study session:

  (:SessionResource {id, session_id}) -[:MENTIONS]-> (:SessionConcept {session_id, key})
  (:SessionConcept) -[:RELATES_TO {kind, strength}]-> (:SessionConcept)

Concepts are keyed by (session_id, key) where key is a normalized slug
of the concept name, so repeated indexing of the same resource MERGEs
onto the same nodes instead of duplicating them.
*/

type ConceptNode struct {
	Key        string
	Name       string
	Summary    string
	Importance float64
}

type ConceptLink struct {
	FromKey  string
	ToKey    string
	Kind     string
	Strength float64
}

// ConceptKey normalizes a concept name into the merge key.
func ConceptKey(name string) string {
	k := strings.ToLower(strings.TrimSpace(name))
	k = strings.Join(strings.Fields(k), "_")
	return k
}

// Create schema helpers (best-effort; may fail for restricted users).
func ensureSchema(ctx context.Context, session neo4j.SessionWithContext, log *logger.Logger) {
	stmts := []string{
		`CREATE CONSTRAINT session_concept_key_unique IF NOT EXISTS FOR (c:SessionConcept) REQUIRE (c.session_id, c.key) IS UNIQUE`,
		`CREATE INDEX session_resource_session_idx IF NOT EXISTS FOR (r:SessionResource) ON (r.session_id)`,
	}
	for _, stmt := range stmts {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			if log != nil {
				log.Warn("neo4j schema init failed (continuing)", "error", err)
			}
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

func UpsertResourceConcepts(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, sessionID, resourceID uuid.UUID, resourceTitle, resourceType string, concepts []ConceptNode) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	if sessionID == uuid.Nil || resourceID == uuid.Nil {
		return fmt.Errorf("session graph upsert: missing sessionID or resourceID")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	nodes := make([]map[string]any, 0, len(concepts))
	for _, c := range concepts {
		key := c.Key
		if key == "" {
			key = ConceptKey(c.Name)
		}
		if key == "" {
			continue
		}
		nodes = append(nodes, map[string]any{
			"session_id": sessionID.String(),
			"key":        key,
			"name":       strings.TrimSpace(c.Name),
			"summary":    strings.TrimSpace(c.Summary),
			"importance": c.Importance,
			"synced_at":  now,
		})
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	ensureSchema(ctx, session, log)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MERGE (r:SessionResource {id: $resource_id})
SET r.session_id = $session_id,
    r.title = $title,
    r.type = $type,
    r.synced_at = $synced_at
`, map[string]any{
			"resource_id": resourceID.String(),
			"session_id":  sessionID.String(),
			"title":       resourceTitle,
			"type":        resourceType,
			"synced_at":   now,
		})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}

		if len(nodes) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (c:SessionConcept {session_id: n.session_id, key: n.key})
SET c += n
WITH c, n
MATCH (r:SessionResource {id: $resource_id})
MERGE (r)-[m:MENTIONS]->(c)
SET m.synced_at = n.synced_at
`, map[string]any{"nodes": nodes, "resource_id": resourceID.String()})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// MergeConceptLinks records cross-resource relationships and reports
// how many were newly created. Links whose endpoints are not in the
// session subgraph are dropped by the MATCH.
func MergeConceptLinks(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, sessionID uuid.UUID, links []ConceptLink) (int64, error) {
	if client == nil || client.Driver == nil {
		return 0, nil
	}
	if sessionID == uuid.Nil {
		return 0, fmt.Errorf("session graph link merge: missing sessionID")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(links) == 0 {
		return 0, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	rels := make([]map[string]any, 0, len(links))
	for _, l := range links {
		from, to := ConceptKey(l.FromKey), ConceptKey(l.ToKey)
		if from == "" || to == "" || from == to {
			continue
		}
		kind := strings.TrimSpace(l.Kind)
		if kind == "" {
			kind = "related"
		}
		rels = append(rels, map[string]any{
			"from_key":  from,
			"to_key":    to,
			"kind":      kind,
			"strength":  l.Strength,
			"synced_at": now,
		})
	}
	if len(rels) == 0 {
		return 0, nil
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	created, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $rels AS r
MATCH (a:SessionConcept {session_id: $session_id, key: r.from_key})
MATCH (b:SessionConcept {session_id: $session_id, key: r.to_key})
MERGE (a)-[e:RELATES_TO {kind: r.kind}]->(b)
SET e.strength = r.strength,
    e.synced_at = r.synced_at
`, map[string]any{"rels": rels, "session_id": sessionID.String()})
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return int64(summary.Counters().RelationshipsCreated()), nil
	})
	if err != nil {
		return 0, err
	}
	return created.(int64), nil
}

// SessionConcepts lists the session's concept nodes for the
// cross-linking and cleanup prompts.
func SessionConcepts(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, sessionID uuid.UUID) ([]ConceptNode, error) {
	if client == nil || client.Driver == nil {
		return nil, nil
	}
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("session graph concepts: missing sessionID")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: client.Database})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (c:SessionConcept {session_id: $session_id})
RETURN c.key AS key, c.name AS name, c.summary AS summary, c.importance AS importance
ORDER BY c.key
`, map[string]any{"session_id": sessionID.String()})
		if err != nil {
			return nil, err
		}
		var concepts []ConceptNode
		for res.Next(ctx) {
			record := res.Record()
			node := ConceptNode{}
			if v, ok := record.Get("key"); ok {
				node.Key, _ = v.(string)
			}
			if v, ok := record.Get("name"); ok {
				node.Name, _ = v.(string)
			}
			if v, ok := record.Get("summary"); ok {
				node.Summary, _ = v.(string)
			}
			if v, ok := record.Get("importance"); ok {
				node.Importance, _ = v.(float64)
			}
			if node.Key != "" {
				concepts = append(concepts, node)
			}
		}
		return concepts, res.Err()
	})
	if err != nil {
		return nil, err
	}
	return out.([]ConceptNode), nil
}

// MergeConceptPairs folds each dupe concept into its keep concept:
// MENTIONS and RELATES_TO edges move over, then the dupe is deleted.
// Returns the number of nodes removed.
func MergeConceptPairs(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, sessionID uuid.UUID, pairs [][2]string) (int64, error) {
	if client == nil || client.Driver == nil {
		return 0, nil
	}
	if sessionID == uuid.Nil {
		return 0, fmt.Errorf("session graph merge: missing sessionID")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows := make([]map[string]any, 0, len(pairs))
	for _, p := range pairs {
		keep, dupe := ConceptKey(p[0]), ConceptKey(p[1])
		if keep == "" || dupe == "" || keep == dupe {
			continue
		}
		rows = append(rows, map[string]any{"keep": keep, "dupe": dupe})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	return mergePairs(ctx, session, sessionID, rows)
}

func mergePairs(ctx context.Context, session neo4j.SessionWithContext, sessionID uuid.UUID, pairs []map[string]any) (int64, error) {
	removed, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{"pairs": pairs, "session_id": sessionID.String()}

		// Moves before deletes so no edge is lost when the dupe goes.
		stmts := []string{`
UNWIND $pairs AS p
MATCH (keep:SessionConcept {session_id: $session_id, key: p.keep})
MATCH (dupe:SessionConcept {session_id: $session_id, key: p.dupe})
MATCH (src:SessionResource)-[m:MENTIONS]->(dupe)
MERGE (src)-[nm:MENTIONS]->(keep)
SET nm.synced_at = m.synced_at
DELETE m
`, `
UNWIND $pairs AS p
MATCH (keep:SessionConcept {session_id: $session_id, key: p.keep})
MATCH (dupe:SessionConcept {session_id: $session_id, key: p.dupe})
MATCH (dupe)-[r:RELATES_TO]->(other:SessionConcept)
WHERE other <> keep
MERGE (keep)-[nr:RELATES_TO {kind: r.kind}]->(other)
SET nr.strength = r.strength, nr.synced_at = r.synced_at
DELETE r
`, `
UNWIND $pairs AS p
MATCH (keep:SessionConcept {session_id: $session_id, key: p.keep})
MATCH (dupe:SessionConcept {session_id: $session_id, key: p.dupe})
MATCH (other:SessionConcept)-[r:RELATES_TO]->(dupe)
WHERE other <> keep
MERGE (other)-[nr:RELATES_TO {kind: r.kind}]->(keep)
SET nr.strength = r.strength, nr.synced_at = r.synced_at
DELETE r
`}
		for _, stmt := range stmts {
			res, err := tx.Run(ctx, stmt, params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		res, err := tx.Run(ctx, `
UNWIND $pairs AS p
MATCH (dupe:SessionConcept {session_id: $session_id, key: p.dupe})
DETACH DELETE dupe
`, params)
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return int64(summary.Counters().NodesDeleted()), nil
	})
	if err != nil {
		return 0, err
	}
	return removed.(int64), nil
}

// MergeDuplicateConcepts collapses concepts whose normalized names
// collide, keeping the lexicographically first key in each group.
// Returns the number of duplicate nodes removed.
func MergeDuplicateConcepts(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, sessionID uuid.UUID) (int64, error) {
	if client == nil || client.Driver == nil {
		return 0, nil
	}
	if sessionID == uuid.Nil {
		return 0, fmt.Errorf("session graph dedupe: missing sessionID")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	groups, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (c:SessionConcept {session_id: $session_id})
WITH toLower(trim(c.name)) AS norm, collect(c.key) AS keys
WHERE size(keys) > 1
RETURN keys
`, map[string]any{"session_id": sessionID.String()})
		if err != nil {
			return nil, err
		}
		var all [][]string
		for res.Next(ctx) {
			raw, ok := res.Record().Get("keys")
			if !ok {
				continue
			}
			keys := make([]string, 0)
			if list, ok := raw.([]any); ok {
				for _, k := range list {
					if s, ok := k.(string); ok {
						keys = append(keys, s)
					}
				}
			}
			if len(keys) > 1 {
				all = append(all, keys)
			}
		}
		return all, res.Err()
	})
	if err != nil {
		return 0, err
	}

	pairs := make([]map[string]any, 0)
	for _, keys := range groups.([][]string) {
		sort.Strings(keys)
		for _, dupe := range keys[1:] {
			pairs = append(pairs, map[string]any{"keep": keys[0], "dupe": dupe})
		}
	}
	if len(pairs) == 0 {
		return 0, nil
	}

	return mergePairs(ctx, session, sessionID, pairs)
}

// RemoveOrphanConcepts drops concepts no resource mentions anymore and
// returns how many were deleted.
func RemoveOrphanConcepts(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, sessionID uuid.UUID) (int64, error) {
	if client == nil || client.Driver == nil {
		return 0, nil
	}
	if sessionID == uuid.Nil {
		return 0, fmt.Errorf("session graph orphan sweep: missing sessionID")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	deleted, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (c:SessionConcept {session_id: $session_id})
WHERE NOT (:SessionResource)-[:MENTIONS]->(c)
DETACH DELETE c
`, map[string]any{"session_id": sessionID.String()})
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return int64(summary.Counters().NodesDeleted()), nil
	})
	if err != nil {
		return 0, err
	}
	return deleted.(int64), nil
}

// SessionStats counts the session's concepts and relationships.
func SessionStats(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, sessionID uuid.UUID) (concepts int64, links int64, err error) {
	if client == nil || client.Driver == nil {
		return 0, 0, nil
	}
	if sessionID == uuid.Nil {
		return 0, 0, fmt.Errorf("session graph stats: missing sessionID")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: client.Database})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (c:SessionConcept {session_id: $session_id})
OPTIONAL MATCH (c)-[r:RELATES_TO]->(:SessionConcept {session_id: $session_id})
RETURN count(DISTINCT c) AS concepts, count(r) AS links
`, map[string]any{"session_id": sessionID.String()})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		counts := [2]int64{}
		if v, ok := record.Get("concepts"); ok {
			if n, ok := v.(int64); ok {
				counts[0] = n
			}
		}
		if v, ok := record.Get("links"); ok {
			if n, ok := v.(int64); ok {
				counts[1] = n
			}
		}
		return counts, nil
	})
	if err != nil {
		return 0, 0, err
	}
	counts := out.([2]int64)
	return counts[0], counts[1], nil
}
