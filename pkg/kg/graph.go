package kg

import (
	"log/slog"
	"strings"
	"sync"

	avterrors "github.com/avt-project/avt/pkg/errors"
)

// Graph is the in-memory, tier-protected knowledge graph backed by an
// append-only JSONL store. All mutating operations are serialized by mu;
// readers also take the lock since maps are not otherwise safe for
// concurrent access.
type Graph struct {
	mu      sync.Mutex
	storage *jsonlStorage

	entities    map[string]*Entity
	order       []string // insertion order, for compaction and deterministic iteration
	relations   []Relation

	writeCount          int
	compactionThreshold int
}

// NewGraph loads path (if it exists) and returns a ready-to-use Graph.
func NewGraph(path string, compactEveryN int) (*Graph, error) {
	if compactEveryN <= 0 {
		compactEveryN = 1000
	}
	st := newJSONLStorage(path)
	entities, relations, err := st.load()
	if err != nil {
		return nil, err
	}
	order := make([]string, 0, len(entities))
	for name := range entities {
		order = append(order, name)
	}
	return &Graph{
		storage:             st,
		entities:            entities,
		order:               order,
		relations:           relations,
		compactionThreshold: compactEveryN,
	}, nil
}

// CreateEntities inserts entities that don't already exist, appending each
// to the JSONL store. Returns the number created.
func (g *Graph) CreateEntities(entities []Entity) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	created := 0
	for i := range entities {
		e := entities[i]
		if _, exists := g.entities[e.Name]; exists {
			continue
		}
		stored := &Entity{Name: e.Name, EntityType: e.EntityType, Observations: append([]string(nil), e.Observations...)}
		g.entities[e.Name] = stored
		g.order = append(g.order, e.Name)
		if err := g.storage.appendEntity(stored); err != nil {
			return created, err
		}
		created++
	}
	g.maybeCompact()
	return created, nil
}

// CreateRelations appends new relations. Dangling endpoints are permitted.
func (g *Graph) CreateRelations(relations []Relation) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	created := 0
	for _, r := range relations {
		g.relations = append(g.relations, r)
		if err := g.storage.appendRelation(r); err != nil {
			return created, err
		}
		created++
	}
	g.maybeCompact()
	return created, nil
}

// AddObservations appends new observation strings to an existing entity,
// subject to tier protection. Deduplication is the curator's job, not this
// primitive's — repeated calls may add repeated observations.
func (g *Graph) AddObservations(name string, observations []string, role CallerRole, changeApproved bool) (int, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entities[name]
	if !ok {
		return 0, notFoundReason(name)
	}

	tier, hasTier := tierOf(e.Observations)
	allowed, reason := checkWriteAccess(tier, hasTier, role, changeApproved)
	if !allowed {
		return 0, reason
	}

	e.Observations = append(e.Observations, observations...)
	if err := g.storage.compact(g.order, g.entities, g.relations); err != nil {
		slog.Error("kg compaction after add_observations failed", "entity", name, "error", err)
	}
	return len(observations), ""
}

// DeleteObservations removes matching observation strings from an entity,
// subject to tier protection. Returns the count actually removed.
func (g *Graph) DeleteObservations(name string, observations []string, role CallerRole, changeApproved bool) (int, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entities[name]
	if !ok {
		return 0, notFoundReason(name)
	}

	tier, hasTier := tierOf(e.Observations)
	allowed, reason := checkWriteAccess(tier, hasTier, role, changeApproved)
	if !allowed {
		return 0, reason
	}

	toRemove := make(map[string]int)
	for _, o := range observations {
		toRemove[o]++
	}
	deleted := 0
	kept := e.Observations[:0:0]
	for _, o := range e.Observations {
		if toRemove[o] > 0 {
			toRemove[o]--
			deleted++
			continue
		}
		kept = append(kept, o)
	}
	e.Observations = kept

	if deleted > 0 {
		if err := g.storage.compact(g.order, g.entities, g.relations); err != nil {
			slog.Error("kg compaction after delete_observations failed", "entity", name, "error", err)
		}
	}
	return deleted, ""
}

// DeleteEntity removes an entity and every relation touching it, subject to
// tier protection (agents may only delete quality-tier entities).
func (g *Graph) DeleteEntity(name string, role CallerRole) (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entities[name]
	if !ok {
		return false, notFoundReason(name)
	}

	tier, hasTier := tierOf(e.Observations)
	allowed, reason := checkDeleteAccess(tier, hasTier, role)
	if !allowed {
		return false, reason
	}

	delete(g.entities, name)
	for i, n := range g.order {
		if n == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	kept := g.relations[:0:0]
	for _, r := range g.relations {
		if r.From != name && r.To != name {
			kept = append(kept, r)
		}
	}
	g.relations = kept

	if err := g.storage.compact(g.order, g.entities, g.relations); err != nil {
		slog.Error("kg compaction after delete_entity failed", "entity", name, "error", err)
	}
	return true, ""
}

// DeleteRelations removes matching (from, to, kind) triples, one occurrence
// per matching input entry.
func (g *Graph) DeleteRelations(relations []Relation) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	deleted := 0
	for _, target := range relations {
		for i, r := range g.relations {
			if r.From == target.From && r.To == target.To && r.RelationType == target.RelationType {
				g.relations = append(g.relations[:i], g.relations[i+1:]...)
				deleted++
				break
			}
		}
	}
	if deleted > 0 {
		if err := g.storage.compact(g.order, g.entities, g.relations); err != nil {
			slog.Error("kg compaction after delete_relations failed", "error", err)
		}
	}
	return deleted
}

// GetEntity returns an entity plus every relation touching it, or
// ErrNotFound.
func (g *Graph) GetEntity(name string) (*EntityWithRelations, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entities[name]
	if !ok {
		return nil, avterrors.ErrNotFound
	}
	return g.withRelations(e), nil
}

// SearchNodes performs a case-insensitive substring search over entity
// names and observations.
func (g *Graph) SearchNodes(query string) []*EntityWithRelations {
	g.mu.Lock()
	defer g.mu.Unlock()

	q := strings.ToLower(query)
	var results []*EntityWithRelations
	for _, name := range g.order {
		e, ok := g.entities[name]
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(e.Name), q) || observationsContain(e.Observations, q) {
			results = append(results, g.withRelations(e))
		}
	}
	return results
}

// GetEntitiesByTier returns every entity whose tier observation matches
// tier exactly (untiered entities are never returned by this query).
func (g *Graph) GetEntitiesByTier(tier Tier) []*EntityWithRelations {
	g.mu.Lock()
	defer g.mu.Unlock()

	var results []*EntityWithRelations
	for _, name := range g.order {
		e, ok := g.entities[name]
		if !ok {
			continue
		}
		if t, has := tierOf(e.Observations); has && t == tier {
			results = append(results, g.withRelations(e))
		}
	}
	return results
}

func (g *Graph) withRelations(e *Entity) *EntityWithRelations {
	var rels []Relation
	for _, r := range g.relations {
		if r.From == e.Name || r.To == e.Name {
			rels = append(rels, r)
		}
	}
	return &EntityWithRelations{
		Entity:    Entity{Name: e.Name, EntityType: e.EntityType, Observations: append([]string(nil), e.Observations...)},
		Relations: rels,
	}
}

func (g *Graph) maybeCompact() {
	g.writeCount++
	if g.writeCount >= g.compactionThreshold {
		if err := g.storage.compact(g.order, g.entities, g.relations); err != nil {
			slog.Error("periodic kg compaction failed", "error", err)
		}
		g.writeCount = 0
	}
}

func observationsContain(observations []string, q string) bool {
	for _, o := range observations {
		if strings.Contains(strings.ToLower(o), q) {
			return true
		}
	}
	return false
}

func notFoundReason(name string) string {
	return "Entity '" + name + "' not found"
}
