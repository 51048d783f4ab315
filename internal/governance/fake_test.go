package governance

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentstation/riskmap/internal/catalog"
	"github.com/agentstation/riskmap/internal/transport"
	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/logging"
)

// fakeCatalog is an in-memory catalog.API. Write methods fail with a
// simulated 403 when forbidden is set.
type fakeCatalog struct {
	mu sync.Mutex

	calls []string

	bmDefs    []catalog.BusinessMetadataDef
	classDefs []catalog.ClassificationDef
	byType    map[string][]catalog.Entity
	entities  map[string]*catalog.Entity
	referred  map[string]map[string]catalog.Entity

	upserts  []catalog.Entity
	metadata map[string]map[string]map[string]any
	updates  []catalog.TypeDefs
	creates  []catalog.TypeDefs
	deleted  []string
	uploads  int

	fail      map[string]bool
	forbidden bool
	breaker   *transport.Breaker
	imageID   string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		byType:   make(map[string][]catalog.Entity),
		entities: make(map[string]*catalog.Entity),
		referred: make(map[string]map[string]catalog.Entity),
		metadata: make(map[string]map[string]map[string]any),
		fail:     make(map[string]bool),
		breaker:  transport.NewBreaker(3),
	}
}

var _ catalog.API = (*fakeCatalog)(nil)

func (f *fakeCatalog) record(method string) bool {
	f.calls = append(f.calls, method)
	return !f.fail[method]
}

// write applies breaker accounting the way the transport does.
func (f *fakeCatalog) write(method string) bool {
	if !f.record(method) {
		return false
	}
	if f.forbidden {
		f.breaker.RecordForbidden()
		return false
	}
	f.breaker.RecordSuccess()
	return true
}

func (f *fakeCatalog) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCatalog) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func (f *fakeCatalog) addEntity(e catalog.Entity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byType[e.TypeName] = append(f.byType[e.TypeName], e)
	cp := e
	f.entities[e.GUID] = &cp
}

func (f *fakeCatalog) tagsOn(guid string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entities[guid]
	if !ok {
		return nil
	}
	var out []string
	for _, c := range e.Classifications {
		out = append(out, c.TypeName)
	}
	return out
}

func (f *fakeCatalog) BusinessMetadataDefs(context.Context) ([]catalog.BusinessMetadataDef, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.record("BusinessMetadataDefs") {
		return nil, false
	}
	return append([]catalog.BusinessMetadataDef(nil), f.bmDefs...), true
}

func (f *fakeCatalog) ClassificationDefs(context.Context) ([]catalog.ClassificationDef, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.record("ClassificationDefs") {
		return nil, false
	}
	return append([]catalog.ClassificationDef(nil), f.classDefs...), true
}

// hashed mimics the catalog assigning internal names to new typedefs.
func hashed(name string) string {
	if strings.HasPrefix(name, "h_") || strings.HasPrefix(name, constants.TagPrefix) {
		return name
	}
	return "h_" + strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

func (f *fakeCatalog) CreateTypeDefs(_ context.Context, defs catalog.TypeDefs) (*catalog.TypeDefs, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, defs)
	if !f.write("CreateTypeDefs") {
		return nil, false
	}
	out := &catalog.TypeDefs{}
	for _, bm := range defs.BusinessMetadataDefs {
		bm.Name = hashed(bm.Name)
		for i := range bm.AttributeDefs {
			bm.AttributeDefs[i].Name = hashed(bm.AttributeDefs[i].Name)
		}
		f.bmDefs = append(f.bmDefs, bm)
		out.BusinessMetadataDefs = append(out.BusinessMetadataDefs, bm)
	}
	for _, c := range defs.ClassificationDefs {
		f.classDefs = append(f.classDefs, c)
		out.ClassificationDefs = append(out.ClassificationDefs, c)
	}
	return out, true
}

func (f *fakeCatalog) UpdateTypeDefs(_ context.Context, defs catalog.TypeDefs) (*catalog.TypeDefs, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, defs)
	if !f.write("UpdateTypeDefs") {
		return nil, false
	}
	for _, bm := range defs.BusinessMetadataDefs {
		for i := range bm.AttributeDefs {
			bm.AttributeDefs[i].Name = hashed(bm.AttributeDefs[i].Name)
		}
		for i := range f.bmDefs {
			if f.bmDefs[i].Name == bm.Name {
				if bm.Options == nil {
					bm.Options = f.bmDefs[i].Options
				}
				f.bmDefs[i] = bm
			}
		}
	}
	return &defs, true
}

func (f *fakeCatalog) DeleteTypeDef(_ context.Context, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.write("DeleteTypeDef") {
		return false
	}
	f.deleted = append(f.deleted, name)
	kept := f.bmDefs[:0]
	for _, bm := range f.bmDefs {
		if bm.Name != name {
			kept = append(kept, bm)
		}
	}
	f.bmDefs = kept
	return true
}

func (f *fakeCatalog) Search(_ context.Context, typeNames, _ []string, from, size int) (*catalog.SearchResponse, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.record("Search") {
		return nil, false
	}
	all := f.ofTypes(typeNames)
	resp := &catalog.SearchResponse{ApproximateCount: len(all)}
	if from < len(all) {
		end := from + size
		if end > len(all) {
			end = len(all)
		}
		resp.Entities = all[from:end]
	}
	return resp, true
}

func (f *fakeCatalog) SearchAll(_ context.Context, typeNames, _ []string, _ int) ([]catalog.Entity, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.record("SearchAll") {
		return nil, false
	}
	return f.ofTypes(typeNames), true
}

func (f *fakeCatalog) ofTypes(typeNames []string) []catalog.Entity {
	var all []catalog.Entity
	for _, t := range typeNames {
		all = append(all, f.byType[t]...)
	}
	return all
}

func (f *fakeCatalog) Entity(_ context.Context, guid string, _ bool) (*catalog.EntityWithExt, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.record("Entity") {
		return nil, false
	}
	e, ok := f.entities[guid]
	if !ok {
		return nil, false
	}
	cp := *e
	cp.Classifications = append([]catalog.Classification(nil), e.Classifications...)
	return &catalog.EntityWithExt{Entity: cp, ReferredEntities: f.referred[guid]}, true
}

func (f *fakeCatalog) BulkUpsert(_ context.Context, entities []catalog.Entity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.write("BulkUpsert") {
		return false
	}
	f.upserts = append(f.upserts, entities...)
	return true
}

func (f *fakeCatalog) UpsertEntity(_ context.Context, entity catalog.Entity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.write("UpsertEntity") {
		return false
	}
	f.upserts = append(f.upserts, entity)
	return true
}

func (f *fakeCatalog) AddClassifications(_ context.Context, guid string, cs []catalog.Classification) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.write("AddClassifications") {
		return false
	}
	e, ok := f.entities[guid]
	if !ok {
		e = &catalog.Entity{GUID: guid}
		f.entities[guid] = e
	}
	e.Classifications = append(e.Classifications, cs...)
	return true
}

func (f *fakeCatalog) RemoveClassification(_ context.Context, guid, typeName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.write("RemoveClassification") {
		return false
	}
	e, ok := f.entities[guid]
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

func (f *fakeCatalog) WriteBusinessMetadata(_ context.Context, guid string, values map[string]map[string]any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.write("WriteBusinessMetadata") {
		return false
	}
	f.metadata[guid] = values
	return true
}

func (f *fakeCatalog) UploadImage(context.Context, string, []byte) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if !f.record("UploadImage") || f.imageID == "" {
		return "", false
	}
	return f.imageID, true
}

var fixedNow = time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, api *fakeCatalog) *Engine {
	t.Helper()
	return New(api, Options{
		Breaker: api.breaker,
		Now:     func() time.Time { return fixedNow },
		Logger:  logging.NewNopLogger(),
	})
}

// resolvedDef returns a complete, current definition as the catalog
// would hold it after creation.
func resolvedDef() catalog.BusinessMetadataDef {
	def := catalog.BusinessMetadataDef{
		Category:    catalog.CategoryBusinessMetadata,
		Name:        "h_bm",
		DisplayName: "TrustLogix Governance",
		Options:     map[string]string{"logoType": "image", "logoUrl": "https://cdn.example/logo.png"},
	}
	for _, a := range Attributes {
		ad := newAttributeDef(a)
		ad.Name = hashed(a.Key)
		if overviewAttributes[a.DisplayName] {
			ad = ad.WithOption("showInOverview", "true")
		}
		def.AttributeDefs = append(def.AttributeDefs, ad)
	}
	return def
}

// readyEngine returns an engine whose schema is resolved against def.
func readyEngine(t *testing.T, api *fakeCatalog) *Engine {
	t.Helper()
	e := newTestEngine(t, api)
	e.setSchema(resolveSchema(resolvedDef()))
	e.setState(StateReady)
	return e
}
