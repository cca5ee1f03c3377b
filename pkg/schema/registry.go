package schema

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/scimd/pkg/scim"
)

// coreSchemaNamespace marks URNs whose schema name doubles as a resource
// type.
const coreSchemaNamespace = "urn:ietf:params:scim:schemas:core:2.0:"

// metaSchemaJSON structurally constrains schema documents accepted by
// RegisterJSON. Registration by malformed documents must fail before the
// registry state changes.
const metaSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "attributes"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "attributes": {
      "type": "array",
      "items": {"$ref": "#/definitions/attribute"}
    }
  },
  "definitions": {
    "attribute": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "type": {
          "type": "string",
          "enum": ["string", "boolean", "decimal", "integer", "dateTime", "binary", "reference", "complex"]
        },
        "required": {"type": "boolean"},
        "multiValued": {"type": "boolean"},
        "mutability": {"type": "string", "enum": ["readOnly", "readWrite", "immutable", "writeOnly"]},
        "returned": {"type": "string", "enum": ["always", "never", "default", "request"]},
        "uniqueness": {"type": "string", "enum": ["none", "server", "global"]},
        "caseExact": {"type": "boolean"},
        "canonicalValues": {"type": "array", "items": {"type": "string"}},
        "subAttributes": {"type": "array", "items": {"$ref": "#/definitions/attribute"}},
        "description": {"type": "string"}
      }
    }
  }
}`

var metaSchema = jsonschema.MustCompileString("scim-schema.json", metaSchemaJSON)

// Registry maps schema URIs to schemas and resource type names to their core
// schema. Registration is append-only per server instance; once traffic
// starts the registry is effectively immutable and safe for concurrent
// readers.
type Registry struct {
	mu         sync.RWMutex
	byURI      map[string]*Schema
	coreByType map[string]string
}

// NewRegistry builds a registry pre-loaded with the standard User and Group
// schemas.
func NewRegistry() *Registry {
	r := &Registry{
		byURI:      make(map[string]*Schema),
		coreByType: make(map[string]string),
	}
	// Standard schemas cannot collide in a fresh registry.
	_ = r.Register(UserSchema())
	_ = r.Register(GroupSchema())
	return r
}

// Register inserts a schema; it fails when the URI is already present.
// Schemas in the core 2.0 namespace also register their name as a resource
// type.
func (r *Registry) Register(s *Schema) error {
	if s == nil || s.ID == "" {
		return scim.NewError(scim.CodeInvalidRequest, "schema must have an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byURI[s.ID]; exists {
		return scim.NewError(scim.CodeInvalidRequest, "schema %q is already registered", s.ID)
	}
	r.byURI[s.ID] = s
	if strings.HasPrefix(s.ID, coreSchemaNamespace) && s.Name != "" {
		r.coreByType[s.Name] = s.ID
	}
	return nil
}

// RegisterJSON validates a schema document against the meta-schema, then
// registers it.
func (r *Registry) RegisterJSON(data []byte) (*Schema, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, scim.NewError(scim.CodeInvalidRequest, "schema document is not valid JSON: %v", err)
	}
	if err := metaSchema.Validate(generic); err != nil {
		return nil, scim.NewError(scim.CodeInvalidRequest, "schema document failed structural validation: %v", err)
	}
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, scim.NewError(scim.CodeInvalidRequest, "schema document is malformed: %v", err)
	}
	if err := r.Register(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByURI looks a schema up by URN.
func (r *Registry) GetByURI(uri string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byURI[uri]
	if !ok {
		return nil, scim.NewError(scim.CodeSchemaNotFound, "schema %q is not registered", uri)
	}
	return s, nil
}

// GetForResourceType returns the core schema of a resource type name.
func (r *Registry) GetForResourceType(resourceType string) (*Schema, error) {
	r.mu.RLock()
	uri, ok := r.coreByType[resourceType]
	r.mu.RUnlock()
	if !ok {
		return nil, scim.NewError(scim.CodeUnsupportedResourceType, "no schema registered for resource type %q", resourceType)
	}
	return r.GetByURI(uri)
}

// SupportsResourceType reports whether a core schema exists for the type.
func (r *Registry) SupportsResourceType(resourceType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.coreByType[resourceType]
	return ok
}

// ListAll returns every registered schema in stable order by URI.
func (r *Registry) ListAll() []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Schema, 0, len(r.byURI))
	for _, s := range r.byURI {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AttributeDefinition resolves a dotted attribute path for a resource type,
// searching the core schema first and then every registered extension.
func (r *Registry) AttributeDefinition(resourceType, attributePath string) (*AttributeDefinition, error) {
	core, err := r.GetForResourceType(resourceType)
	if err != nil {
		return nil, err
	}
	if attr := core.AttributeAt(attributePath); attr != nil {
		return attr, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byURI {
		if s.ID == core.ID {
			continue
		}
		if attr := s.AttributeAt(attributePath); attr != nil {
			return attr, nil
		}
	}
	return nil, scim.NewError(scim.CodeSchemaNotFound, "attribute %q is not defined for resource type %q", attributePath, resourceType)
}
