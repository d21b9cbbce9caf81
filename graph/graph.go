// Package graph maintains the Neo4j projection of entities and
// relationships.
//
// The projection is derived data: writes here are best-effort and the
// relational store remains authoritative. Traversal-shaped reads have no
// relational fallback, so a failed read surfaces as a backend-unavailable
// error rather than degrading silently.
package graph

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/tenancy"
	"github.com/BaSui01/memflow/types"
)

// maxTraversalDepth bounds variable-length path expansion.
const maxTraversalDepth = 5

var relTypePattern = regexp.MustCompile(`[^A-Z0-9_]+`)

// Graph wraps a Neo4j driver with the projection's node and edge shapes.
type Graph struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// New connects a Graph to the configured Neo4j instance. The driver connects
// lazily; a down server surfaces on first use, not here.
func New(cfg config.Neo4jConfig, logger *zap.Logger) (*Graph, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	return &Graph{
		driver:   driver,
		database: cfg.Database,
		logger:   logger.With(zap.String("component", "graph_store")),
	}, nil
}

// Close releases the underlying driver's connection pool.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// Ping verifies connectivity to the server.
func (g *Graph) Ping(ctx context.Context) error {
	if err := g.driver.VerifyConnectivity(ctx); err != nil {
		return types.NewError(types.ErrBackendUnavailable, "neo4j is unreachable").
			WithBackend("neo4j").WithRetryable(true).WithCause(err)
	}
	return nil
}

// UpsertEntity merges an entity node keyed by normalized name and tenant.
func (g *Graph) UpsertEntity(ctx context.Context, scope tenancy.Scope, name string, props map[string]any) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.database,
	})
	defer session.Close(ctx)

	now := time.Now().UTC().Format(time.RFC3339)
	tenantID, orgID, _ := scope.Stamp()

	// Properties merge additively onto the node; Neo4j rejects a map
	// assigned as a single property value.
	query := `
		MERGE (e:Entity {name: $name, tenant_id: $tenantID})
		ON CREATE SET
			e.org_id = $orgID,
			e.first_seen = datetime($now)
		SET
			e += $props,
			e.last_seen = datetime($now)
	`

	_, err := session.Run(ctx, query, map[string]any{
		"name":     normalizeName(name),
		"tenantID": tenantID,
		"orgID":    orgID,
		"props":    flattenProps(props),
		"now":      now,
	})
	if err != nil {
		return types.NewError(types.ErrBackendUnavailable, "entity projection failed").
			WithBackend("neo4j").WithRetryable(true).WithCause(err)
	}
	return nil
}

// UpsertRelationship merges both endpoint entities and the edge between them.
// Re-asserting an edge adds the new weight to the stored weight, mirroring
// the relational copy.
func (g *Graph) UpsertRelationship(ctx context.Context, scope tenancy.Scope, rel *types.EntityRelationship) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.database,
	})
	defer session.Close(ctx)

	now := time.Now().UTC().Format(time.RFC3339)
	tenantID, orgID, _ := scope.Stamp()
	weight := rel.Weight
	if weight <= 0 {
		weight = 1.0
	}

	// Relationship types cannot be parameterized in Cypher; the predicate is
	// sanitized to an identifier before interpolation.
	query := fmt.Sprintf(`
		MERGE (s:Entity {name: $subject, tenant_id: $tenantID})
		ON CREATE SET s.org_id = $orgID, s.first_seen = datetime($now), s.last_seen = datetime($now)
		ON MATCH SET s.last_seen = datetime($now)
		MERGE (o:Entity {name: $object, tenant_id: $tenantID})
		ON CREATE SET o.org_id = $orgID, o.first_seen = datetime($now), o.last_seen = datetime($now)
		ON MATCH SET o.last_seen = datetime($now)
		MERGE (s)-[r:%s]->(o)
		ON CREATE SET
			r.weight = $weight,
			r.predicate = $predicate,
			r.created_at = datetime($now)
		ON MATCH SET
			r.weight = r.weight + $weight,
			r.updated_at = datetime($now)
	`, RelationshipType(rel.Predicate))

	_, err := session.Run(ctx, query, map[string]any{
		"subject":   normalizeName(rel.Subject),
		"object":    normalizeName(rel.Object),
		"predicate": rel.Predicate,
		"tenantID":  tenantID,
		"orgID":     orgID,
		"weight":    weight,
		"now":       now,
	})
	if err != nil {
		return types.NewError(types.ErrBackendUnavailable, "relationship projection failed").
			WithBackend("neo4j").WithRetryable(true).WithCause(err)
	}
	return nil
}

// Connected returns entities reachable from the given entity within depth
// hops, closest first. Served exclusively by the graph: a down backend is an
// error, never an empty result.
func (g *Graph) Connected(ctx context.Context, scope tenancy.Scope, entity string, depth int) ([]types.GraphEntity, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: g.database,
	})
	defer session.Close(ctx)

	if depth < 1 {
		depth = 1
	}
	if depth > maxTraversalDepth {
		depth = maxTraversalDepth
	}
	tenantID, _, _ := scope.Stamp()

	query := fmt.Sprintf(`
		MATCH path = (start:Entity {name: $name, tenant_id: $tenantID})-[*1..%d]-(related:Entity)
		WHERE related.name <> $name AND related.tenant_id = $tenantID
		RETURN related.name AS name, min(length(path)) AS distance, properties(related) AS props
		ORDER BY distance ASC, name ASC
		LIMIT 50
	`, depth)

	result, err := session.Run(ctx, query, map[string]any{
		"name":     normalizeName(entity),
		"tenantID": tenantID,
	})
	if err != nil {
		return nil, types.NewError(types.ErrBackendUnavailable, "graph traversal failed").
			WithBackend("neo4j").WithRetryable(true).WithCause(err)
	}

	var entities []types.GraphEntity
	for result.Next(ctx) {
		record := result.Record()
		entities = append(entities, types.GraphEntity{
			Name:       recordString(record, "name"),
			Distance:   recordInt(record, "distance"),
			Properties: recordMap(record, "props"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, types.NewError(types.ErrBackendUnavailable, "graph traversal failed").
			WithBackend("neo4j").WithRetryable(true).WithCause(err)
	}

	g.logger.Debug("graph traversal",
		zap.String("entity", entity),
		zap.Int("depth", depth),
		zap.Int("results", len(entities)))
	return entities, nil
}

// RemoveTenant detaches and deletes every node belonging to a tenant. Used
// by offboarding; not part of the regular write path.
func (g *Graph) RemoveTenant(ctx context.Context, tenantID string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: g.database,
	})
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MATCH (e:Entity {tenant_id: $tenantID})
		DETACH DELETE e
	`, map[string]any{"tenantID": tenantID})
	if err != nil {
		return types.NewError(types.ErrBackendUnavailable, "tenant removal failed").
			WithBackend("neo4j").WithRetryable(true).WithCause(err)
	}
	return nil
}

// RelationshipType converts a free-form predicate into a Cypher-safe
// relationship type: uppercased, spaces and punctuation collapsed to
// underscores. An empty predicate becomes RELATED_TO.
func RelationshipType(predicate string) string {
	t := strings.ToUpper(strings.TrimSpace(predicate))
	t = strings.ReplaceAll(t, " ", "_")
	t = relTypePattern.ReplaceAllString(t, "_")
	t = strings.Trim(t, "_")
	if t == "" {
		return "RELATED_TO"
	}
	return t
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// flattenProps keeps only primitive property values; Neo4j properties cannot
// hold nested maps.
func flattenProps(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		switch v.(type) {
		case string, bool, int, int64, float64:
			out[k] = v
		}
	}
	return out
}

func recordString(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}

func recordInt(record *neo4j.Record, key string) int {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func recordMap(record *neo4j.Record, key string) map[string]any {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	if m, ok := val.(map[string]any); ok {
		return m
	}
	return nil
}
