package runner

import (
	"context"
	"sync"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/internal/transport"
	"github.com/agentstation/riskmap/pkg/constants"
)

// memCatalog is a small in-memory catalog.API. When forbidMetadata is
// set, business metadata writes answer like a 403.
type memCatalog struct {
	mu sync.Mutex

	bmDefs    []catalog.BusinessMetadataDef
	classDefs []catalog.ClassificationDef
	byType    map[string][]catalog.Entity
	entities  map[string]*catalog.Entity
	metadata  map[string]map[string]map[string]any
	upserts   []catalog.Entity
	bmWrites  int

	forbidMetadata bool
	breaker        *transport.Breaker
}

var _ catalog.API = (*memCatalog)(nil)

func newMemCatalog() *memCatalog {
	return &memCatalog{
		byType:   make(map[string][]catalog.Entity),
		entities: make(map[string]*catalog.Entity),
		metadata: make(map[string]map[string]map[string]any),
		breaker:  transport.NewBreaker(constants.AbortThreshold),
	}
}

func (m *memCatalog) add(e catalog.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byType[e.TypeName] = append(m.byType[e.TypeName], e)
	cp := e
	m.entities[e.GUID] = &cp
}

func (m *memCatalog) written(guid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.metadata[guid]
	return ok
}

func (m *memCatalog) tags(guid string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	if e, ok := m.entities[guid]; ok {
		for _, c := range e.Classifications {
			out = append(out, c.TypeName)
		}
	}
	return out
}

func (m *memCatalog) metadataWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bmWrites
}

func (m *memCatalog) BusinessMetadataDefs(context.Context) ([]catalog.BusinessMetadataDef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]catalog.BusinessMetadataDef(nil), m.bmDefs...), true
}

func (m *memCatalog) ClassificationDefs(context.Context) ([]catalog.ClassificationDef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]catalog.ClassificationDef(nil), m.classDefs...), true
}

func (m *memCatalog) CreateTypeDefs(_ context.Context, defs catalog.TypeDefs) (*catalog.TypeDefs, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bmDefs = append(m.bmDefs, defs.BusinessMetadataDefs...)
	m.classDefs = append(m.classDefs, defs.ClassificationDefs...)
	m.breaker.RecordSuccess()
	return &defs, true
}

func (m *memCatalog) UpdateTypeDefs(_ context.Context, defs catalog.TypeDefs) (*catalog.TypeDefs, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, bm := range defs.BusinessMetadataDefs {
		for i := range m.bmDefs {
			if m.bmDefs[i].Name == bm.Name {
				if bm.Options == nil {
					bm.Options = m.bmDefs[i].Options
				}
				m.bmDefs[i] = bm
			}
		}
	}
	return &defs, true
}

func (m *memCatalog) DeleteTypeDef(context.Context, string) bool { return true }

func (m *memCatalog) Search(_ context.Context, typeNames, _ []string, from, size int) (*catalog.SearchResponse, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.ofTypes(typeNames)
	resp := &catalog.SearchResponse{ApproximateCount: len(all)}
	if from < len(all) {
		resp.Entities = all[from:min(from+size, len(all))]
	}
	return resp, true
}

func (m *memCatalog) SearchAll(_ context.Context, typeNames, _ []string, _ int) ([]catalog.Entity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ofTypes(typeNames), true
}

func (m *memCatalog) ofTypes(typeNames []string) []catalog.Entity {
	var all []catalog.Entity
	for _, t := range typeNames {
		all = append(all, m.byType[t]...)
	}
	return all
}

func (m *memCatalog) Entity(_ context.Context, guid string, _ bool) (*catalog.EntityWithExt, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[guid]
	if !ok {
		return nil, false
	}
	cp := *e
	cp.Classifications = append([]catalog.Classification(nil), e.Classifications...)
	return &catalog.EntityWithExt{Entity: cp}, true
}

func (m *memCatalog) BulkUpsert(_ context.Context, entities []catalog.Entity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, entities...)
	return true
}

func (m *memCatalog) UpsertEntity(_ context.Context, entity catalog.Entity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, entity)
	return true
}

func (m *memCatalog) AddClassifications(_ context.Context, guid string, cs []catalog.Classification) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[guid]
	if !ok {
		return false
	}
	e.Classifications = append(e.Classifications, cs...)
	return true
}

func (m *memCatalog) RemoveClassification(_ context.Context, guid, typeName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entities[guid]
	if !ok {
		return false
	}
	kept := e.Classifications[:0]
	for _, c := range e.Classifications {
		if c.TypeName != typeName {
			kept = append(kept, c)
		}
	}
	e.Classifications = kept
	return true
}

func (m *memCatalog) WriteBusinessMetadata(_ context.Context, guid string, values map[string]map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bmWrites++
	if m.forbidMetadata {
		m.breaker.RecordForbidden()
		return false
	}
	m.breaker.RecordSuccess()
	m.metadata[guid] = values
	return true
}

func (m *memCatalog) UploadImage(context.Context, string, []byte) (string, bool) {
	return "", false
}
