// Package catalog is the adapter for the metadata catalog's Atlas REST API.
// Every method returns a success flag instead of an error: failures are
// classified and logged by the transport and callers degrade per item.
package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/agentstation/riskmap/internal/transport"
	"github.com/agentstation/riskmap/pkg/logging"
)

// Endpoints.
const (
	pathTypeDefs      = "/api/meta/types/typedefs"
	pathTypeDefByName = "/api/meta/types/typedef/name/"
	pathSearch        = "/api/meta/search/indexsearch"
	pathEntity        = "/api/meta/entity"
	pathEntityBulk    = "/api/meta/entity/bulk"
	pathEntityGUID    = "/api/meta/entity/guid/"
	pathImageUpload   = "/api/meta/images/upload"
)

// uploadFields are the multipart field names tried in order; catalog
// versions disagree on the name.
var uploadFields = []string{"file", "image", "logo"}

// API is the catalog surface used by the sync engine.
type API interface {
	BusinessMetadataDefs(ctx context.Context) ([]BusinessMetadataDef, bool)
	ClassificationDefs(ctx context.Context) ([]ClassificationDef, bool)
	CreateTypeDefs(ctx context.Context, defs TypeDefs) (*TypeDefs, bool)
	UpdateTypeDefs(ctx context.Context, defs TypeDefs) (*TypeDefs, bool)
	DeleteTypeDef(ctx context.Context, name string) bool

	Search(ctx context.Context, typeNames, attributes []string, from, size int) (*SearchResponse, bool)
	SearchAll(ctx context.Context, typeNames, attributes []string, pageSize int) ([]Entity, bool)

	Entity(ctx context.Context, guid string, withRelationships bool) (*EntityWithExt, bool)
	BulkUpsert(ctx context.Context, entities []Entity) bool
	UpsertEntity(ctx context.Context, entity Entity) bool

	AddClassifications(ctx context.Context, guid string, classifications []Classification) bool
	RemoveClassification(ctx context.Context, guid, typeName string) bool
	WriteBusinessMetadata(ctx context.Context, guid string, values map[string]map[string]any) bool

	UploadImage(ctx context.Context, filename string, content []byte) (string, bool)
}

// Client implements API over a transport client.
type Client struct {
	tc     *transport.Client
	logger zerolog.Logger
}

var _ API = (*Client)(nil)

// NewClient returns a catalog client.
func NewClient(tc *transport.Client, logger *zerolog.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{tc: tc, logger: logger.With().Str("component", "catalog").Logger()}
}

// BusinessMetadataDefs lists business metadata definitions.
func (c *Client) BusinessMetadataDefs(ctx context.Context) ([]BusinessMetadataDef, bool) {
	var defs TypeDefs
	if !c.tc.CallInto(ctx, http.MethodGet, pathTypeDefs, nil, url.Values{"type": {"business_metadata"}}, &defs) {
		return nil, false
	}
	return defs.BusinessMetadataDefs, true
}

// ClassificationDefs lists classification definitions.
func (c *Client) ClassificationDefs(ctx context.Context) ([]ClassificationDef, bool) {
	var defs TypeDefs
	if !c.tc.CallInto(ctx, http.MethodGet, pathTypeDefs, nil, url.Values{"type": {"classification"}}, &defs) {
		return nil, false
	}
	return defs.ClassificationDefs, true
}

// CreateTypeDefs creates typedefs and returns what the catalog created.
func (c *Client) CreateTypeDefs(ctx context.Context, defs TypeDefs) (*TypeDefs, bool) {
	var out TypeDefs
	if !c.tc.CallInto(ctx, http.MethodPost, pathTypeDefs, defs, nil, &out) {
		return nil, false
	}
	return &out, true
}

// UpdateTypeDefs updates typedefs in place.
func (c *Client) UpdateTypeDefs(ctx context.Context, defs TypeDefs) (*TypeDefs, bool) {
	var out TypeDefs
	if !c.tc.CallInto(ctx, http.MethodPut, pathTypeDefs, defs, nil, &out) {
		return nil, false
	}
	return &out, true
}

// DeleteTypeDef deletes a typedef by internal name.
func (c *Client) DeleteTypeDef(ctx context.Context, name string) bool {
	_, ok := c.tc.Call(ctx, http.MethodDelete, pathTypeDefByName+url.PathEscape(name), nil, nil)
	return ok
}

// Search returns one page of entities of the given types.
func (c *Client) Search(ctx context.Context, typeNames, attributes []string, from, size int) (*SearchResponse, bool) {
	var out SearchResponse
	if !c.tc.CallInto(ctx, http.MethodPost, pathSearch, NewTypeSearch(typeNames, attributes, from, size), nil, &out) {
		return nil, false
	}
	return &out, true
}

// SearchAll pages through every entity of the given types. It stops at the
// first failed or empty page and reports false only if no page succeeded.
func (c *Client) SearchAll(ctx context.Context, typeNames, attributes []string, pageSize int) ([]Entity, bool) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var all []Entity
	for from := 0; ; from += pageSize {
		page, ok := c.Search(ctx, typeNames, attributes, from, pageSize)
		if !ok {
			return all, from > 0
		}
		if len(page.Entities) == 0 {
			return all, true
		}
		all = append(all, page.Entities...)
		if from+pageSize >= page.ApproximateCount {
			return all, true
		}
	}
}

// Entity reads one entity. Relationships are included when withRelationships is set.
func (c *Client) Entity(ctx context.Context, guid string, withRelationships bool) (*EntityWithExt, bool) {
	params := url.Values{
		"minExtInfo":          {"false"},
		"ignoreRelationships": {boolString(!withRelationships)},
	}
	data, ok := c.tc.Call(ctx, http.MethodGet, pathEntityGUID+url.PathEscape(guid), nil, params)
	if !ok {
		return nil, false
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		c.logger.Debug().Err(err).Str("asset_guid", guid).Msg("Could not decode entity")
		return nil, false
	}
	var out EntityWithExt
	if _, wrapped := probe["entity"]; wrapped {
		if err := json.Unmarshal(data, &out); err != nil {
			c.logger.Debug().Err(err).Str("asset_guid", guid).Msg("Could not decode entity")
			return nil, false
		}
		return &out, true
	}
	if err := json.Unmarshal(data, &out.Entity); err != nil {
		c.logger.Debug().Err(err).Str("asset_guid", guid).Msg("Could not decode entity")
		return nil, false
	}
	return &out, true
}

// BulkUpsert creates or updates entities.
func (c *Client) BulkUpsert(ctx context.Context, entities []Entity) bool {
	_, ok := c.tc.Call(ctx, http.MethodPost, pathEntityBulk, map[string]any{"entities": entities}, nil)
	return ok
}

// UpsertEntity creates or updates a single entity.
func (c *Client) UpsertEntity(ctx context.Context, entity Entity) bool {
	_, ok := c.tc.Call(ctx, http.MethodPost, pathEntity, map[string]any{"entity": entity}, nil)
	return ok
}

// AddClassifications attaches tags to an entity in one call.
func (c *Client) AddClassifications(ctx context.Context, guid string, classifications []Classification) bool {
	_, ok := c.tc.Call(ctx, http.MethodPost, pathEntityGUID+url.PathEscape(guid)+"/classifications", classifications, nil)
	return ok
}

// RemoveClassification detaches one tag from an entity.
func (c *Client) RemoveClassification(ctx context.Context, guid, typeName string) bool {
	endpoint := pathEntityGUID + url.PathEscape(guid) + "/classification/" + url.PathEscape(typeName)
	_, ok := c.tc.Call(ctx, http.MethodDelete, endpoint, nil, nil)
	return ok
}

// WriteBusinessMetadata overwrites business metadata values on an entity.
// values is keyed by internal definition name, then internal attribute name.
func (c *Client) WriteBusinessMetadata(ctx context.Context, guid string, values map[string]map[string]any) bool {
	endpoint := pathEntityGUID + url.PathEscape(guid) + "/businessmetadata"
	_, ok := c.tc.Call(ctx, http.MethodPost, endpoint, values, url.Values{"isOverwrite": {"true"}})
	return ok
}

// UploadImage uploads an image and returns its catalog id.
func (c *Client) UploadImage(ctx context.Context, filename string, content []byte) (string, bool) {
	for _, field := range uploadFields {
		data, err := c.tc.Upload(ctx, pathImageUpload, field, filename, content)
		if err != nil {
			c.logger.Debug().Err(err).Str("field", field).Msg("Image upload rejected")
			continue
		}
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		for _, key := range []string{"id", "imageId", "guid", "imageGuid"} {
			if id, ok := body[key].(string); ok && id != "" {
				c.logger.Info().Str("field", field).Str("image_id", id).Msg("Uploaded image")
				return id, true
			}
		}
		c.logger.Debug().Str("field", field).Msg("Image upload returned no id")
		return "", false
	}
	return "", false
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
