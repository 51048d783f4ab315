package catalog

import (
	"encoding/json"
	"strings"
)

// Type names used by the sync engine.
const (
	TypeBadge      = "Badge"
	TypePersona    = "Persona"
	TypeConnection = "Connection"
	TypeAuthPolicy = "AuthPolicy"
	TypeDataDomain = "DataDomain"
	TypeTable      = "Table"

	CategoryBusinessMetadata = "BUSINESS_METADATA"
	CategoryClassification   = "CLASSIFICATION"
)

// AssetTypes are the entity types indexed for per-database sync.
var AssetTypes = []string{"Table", "View", "MaterialisedView", "Database", "Schema"}

// TypeDefs is the typedef envelope used for reads and writes.
type TypeDefs struct {
	BusinessMetadataDefs []BusinessMetadataDef `json:"businessMetadataDefs,omitempty"`
	ClassificationDefs   []ClassificationDef   `json:"classificationDefs,omitempty"`
}

// AttributeDef is one attribute of a business metadata definition.
// Fields the catalog returns that are not modelled here are kept and sent
// back unchanged on update.
type AttributeDef struct {
	Name           string            `json:"name,omitempty"`
	DisplayName    string            `json:"displayName,omitempty"`
	TypeName       string            `json:"typeName,omitempty"`
	IsOptional     bool              `json:"isOptional"`
	Cardinality    string            `json:"cardinality,omitempty"`
	ValuesMinCount *int              `json:"valuesMinCount,omitempty"`
	ValuesMaxCount *int              `json:"valuesMaxCount,omitempty"`
	Options        map[string]string `json:"options,omitempty"`

	extra map[string]json.RawMessage
}

// Option returns an option value or "".
func (a AttributeDef) Option(key string) string {
	if a.Options == nil {
		return ""
	}
	return a.Options[key]
}

// Archived reports whether the catalog flagged the attribute archived.
func (a AttributeDef) Archived() bool {
	return strings.EqualFold(a.Option("isArchived"), "true")
}

// WithOption returns a copy of a with an option set. The options map is copied.
func (a AttributeDef) WithOption(key, value string) AttributeDef {
	opts := make(map[string]string, len(a.Options)+1)
	for k, v := range a.Options {
		opts[k] = v
	}
	opts[key] = value
	a.Options = opts
	return a
}

type attributeDefAlias AttributeDef

// UnmarshalJSON implements json.Unmarshaler.
func (a *AttributeDef) UnmarshalJSON(data []byte) error {
	var alias attributeDefAlias
	extra, err := decodeWithExtra(data, &alias)
	if err != nil {
		return err
	}
	*a = AttributeDef(alias)
	a.extra = extra
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a AttributeDef) MarshalJSON() ([]byte, error) {
	return encodeWithExtra(attributeDefAlias(a), a.extra)
}

// BusinessMetadataDef is a custom attribute group definition.
type BusinessMetadataDef struct {
	Category      string            `json:"category,omitempty"`
	Name          string            `json:"name,omitempty"`
	DisplayName   string            `json:"displayName,omitempty"`
	Description   string            `json:"description"`
	GUID          string            `json:"guid,omitempty"`
	Options       map[string]string `json:"options,omitempty"`
	AttributeDefs []AttributeDef    `json:"attributeDefs"`
}

// ClassificationDef is a tag definition.
type ClassificationDef struct {
	Category    string            `json:"category,omitempty"`
	Name        string            `json:"name,omitempty"`
	DisplayName string            `json:"displayName,omitempty"`
	Description string            `json:"description,omitempty"`
	Options     map[string]string `json:"options,omitempty"`
}

// Classification is a tag attached to an entity.
type Classification struct {
	TypeName  string `json:"typeName"`
	Propagate bool   `json:"propagate,omitempty"`
}

// Entity is a catalog entity.
type Entity struct {
	TypeName               string           `json:"typeName,omitempty"`
	GUID                   string           `json:"guid,omitempty"`
	Attributes             map[string]any   `json:"attributes,omitempty"`
	RelationshipAttributes map[string]any   `json:"relationshipAttributes,omitempty"`
	Classifications        []Classification `json:"classifications,omitempty"`
}

// Str returns a string attribute or "".
func (e Entity) Str(key string) string {
	if v, ok := e.Attributes[key].(string); ok {
		return v
	}
	return ""
}

// Strings returns a list attribute. A single string is returned as a one-element list.
func (e Entity) Strings(key string) []string {
	switch v := e.Attributes[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// EntityWithExt is a single-entity read with referred entities.
type EntityWithExt struct {
	Entity           Entity            `json:"entity"`
	ReferredEntities map[string]Entity `json:"referredEntities,omitempty"`
}

// SearchRequest is an index search body.
type SearchRequest struct {
	DSL        SearchDSL `json:"dsl"`
	Attributes []string  `json:"attributes,omitempty"`
}

// SearchDSL is the search query with paging.
type SearchDSL struct {
	From  int            `json:"from"`
	Size  int            `json:"size"`
	Query map[string]any `json:"query"`
}

// NewTypeSearch returns a search over entities of the given types.
func NewTypeSearch(typeNames, attributes []string, from, size int) SearchRequest {
	return SearchRequest{
		DSL: SearchDSL{
			From: from,
			Size: size,
			Query: map[string]any{
				"bool": map[string]any{
					"filter": []any{
						map[string]any{"terms": map[string]any{"__typeName.keyword": typeNames}},
					},
				},
			},
		},
		Attributes: attributes,
	}
}

// SearchResponse is an index search result page.
type SearchResponse struct {
	Entities         []Entity `json:"entities"`
	ApproximateCount int      `json:"approximateCount"`
}

// attributeDefKeys are the JSON keys modelled by AttributeDef.
var attributeDefKeys = []string{"name", "displayName", "typeName", "isOptional", "cardinality", "valuesMinCount", "valuesMaxCount", "options"}

func decodeWithExtra(data []byte, known any) (map[string]json.RawMessage, error) {
	if err := json.Unmarshal(data, known); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range attributeDefKeys {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func encodeWithExtra(known any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(known)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return json.Marshal(out)
}
