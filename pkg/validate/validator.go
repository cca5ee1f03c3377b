// Package validate implements schema-driven resource validation. One rule
// engine serves the three operation contexts (Create, Update, Patch); the
// context toggles which structural rules apply. Server-scope uniqueness is
// delegated to the caller through a lookup capability so the shape checks
// stay synchronous.
package validate

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"net/url"
	"time"

	"github.com/Mindburn-Labs/scimd/pkg/schema"
	"github.com/Mindburn-Labs/scimd/pkg/scim"
)

// OperationContext selects the rule set applied during validation.
type OperationContext int

const (
	ContextCreate OperationContext = iota
	ContextUpdate
	ContextPatch
)

func (c OperationContext) String() string {
	switch c {
	case ContextCreate:
		return "create"
	case ContextUpdate:
		return "update"
	case ContextPatch:
		return "patch"
	default:
		return fmt.Sprintf("operation-context(%d)", int(c))
	}
}

// alwaysAllowed are the top-level attributes permitted regardless of schema.
var alwaysAllowed = map[string]bool{
	"schemas":    true,
	"id":         true,
	"externalId": true,
	"meta":       true,
}

// serverManagedMeta are meta sub-attributes the client may not supply on
// create; on update/patch they are permitted but ignored by the provider.
var serverManagedMeta = []string{"created", "lastModified", "location", "version"}

// UniquenessFunc looks up an existing resource holding attribute=value in
// the caller's tenant scope, returning its id. It is only invoked for
// attributes declaring server-scope uniqueness.
type UniquenessFunc func(ctx context.Context, attribute, value string) (existingID string, found bool, err error)

// Options tune a single validation run.
type Options struct {
	uniqueness UniquenessFunc
	currentID  string
}

// Option configures a validation run.
type Option func(*Options)

// WithUniqueness supplies the server-uniqueness lookup capability.
func WithUniqueness(fn UniquenessFunc) Option {
	return func(o *Options) { o.uniqueness = fn }
}

// ExcludingID excludes the resource being updated from uniqueness matches.
func ExcludingID(id string) Option {
	return func(o *Options) { o.currentID = id }
}

// Validator checks JSON resource documents against the registered schemas.
type Validator struct {
	registry *schema.Registry
}

// New builds a validator over the given registry.
func New(registry *schema.Registry) *Validator {
	return &Validator{registry: registry}
}

// Validate runs the full rule set for the operation context against doc.
func (v *Validator) Validate(ctx context.Context, op OperationContext, resourceType string, doc map[string]any, opts ...Option) error {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	if doc == nil {
		return scim.ValidationError("", "document must not be null")
	}

	schemas, err := v.checkPreamble(op, resourceType, doc)
	if err != nil {
		return err
	}

	attached, err := v.resolveSchemas(schemas)
	if err != nil {
		return err
	}
	if err := v.checkSchemaCombination(resourceType, schemas); err != nil {
		return err
	}

	core, err := v.registry.GetForResourceType(resourceType)
	if err != nil {
		return err
	}
	if err := v.checkAttributes(resourceType, doc, core, attached); err != nil {
		return err
	}

	if options.uniqueness != nil {
		if err := v.checkUniqueness(ctx, doc, attached, options); err != nil {
			return err
		}
	}
	return nil
}

// checkPreamble applies the structural rules that run before any
// per-attribute work and returns the schema URI list.
func (v *Validator) checkPreamble(op OperationContext, resourceType string, doc map[string]any) ([]string, error) {
	rawSchemas, ok := doc["schemas"]
	if !ok {
		return nil, scim.ValidationError("schemas", "must be present")
	}
	items, ok := toAnySlice(rawSchemas)
	if !ok || len(items) == 0 {
		return nil, scim.ValidationError("schemas", "must be a non-empty array")
	}
	schemas := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, scim.ValidationError("schemas", "entries must be strings")
		}
		if seen[s] {
			return nil, scim.ValidationError("schemas", "duplicate schema URI %q", s)
		}
		seen[s] = true
		schemas = append(schemas, s)
	}

	if meta, present := doc["meta"]; present && meta != nil {
		metaObj, ok := meta.(map[string]any)
		if !ok {
			return nil, scim.ValidationError("meta", "must be an object")
		}
		rt, ok := metaObj["resourceType"].(string)
		if !ok || rt == "" {
			return nil, scim.ValidationError("meta.resourceType", "must be present")
		}
		if rt != resourceType {
			return nil, scim.ValidationError("meta.resourceType", "%q does not match resource type %q", rt, resourceType)
		}
		if op == ContextCreate {
			for _, field := range serverManagedMeta {
				if _, supplied := metaObj[field]; supplied {
					return nil, scim.ValidationError("meta."+field, "is server-managed and may not be supplied on create")
				}
			}
		}
	}

	_, hasID := doc["id"]
	switch op {
	case ContextCreate:
		if hasID {
			return nil, scim.ValidationError("id", "is server-assigned and may not be supplied on create")
		}
	case ContextUpdate, ContextPatch:
		if !hasID {
			return nil, scim.ValidationError("id", "is required for %s", op)
		}
	}
	return schemas, nil
}

// resolveSchemas looks up every attached schema in the registry.
func (v *Validator) resolveSchemas(uris []string) ([]*schema.Schema, error) {
	out := make([]*schema.Schema, 0, len(uris))
	for _, uri := range uris {
		s, err := v.registry.GetByURI(uri)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// checkSchemaCombination enforces that exactly one core schema is attached:
// the User and Group core schemas are mutually exclusive, and a resource of
// a registered type must carry its own core schema.
func (v *Validator) checkSchemaCombination(resourceType string, schemas []string) error {
	hasUser, hasGroup := false, false
	for _, s := range schemas {
		switch s {
		case scim.UserCoreSchema:
			hasUser = true
		case scim.GroupCoreSchema:
			hasGroup = true
		}
	}
	if hasUser && hasGroup {
		return scim.ValidationError("schemas", "the User and Group core schemas are mutually exclusive")
	}
	core, err := v.registry.GetForResourceType(resourceType)
	if err != nil {
		return err
	}
	found := false
	for _, s := range schemas {
		if s == core.ID {
			found = true
			break
		}
	}
	if !found {
		return scim.ValidationError("schemas", "must include the %s core schema %q", resourceType, core.ID)
	}
	return nil
}

// checkAttributes applies the per-attribute rules for every attached schema
// and rejects unknown top-level attributes. Extension attributes may appear
// either nested under their schema URN or flat at the top level.
func (v *Validator) checkAttributes(resourceType string, doc map[string]any, core *schema.Schema, attached []*schema.Schema) error {
	byURI := make(map[string]*schema.Schema, len(attached))
	declared := make(map[string]*schema.AttributeDefinition)
	for _, s := range attached {
		byURI[s.ID] = s
		for i := range s.Attributes {
			declared[s.Attributes[i].Name] = &s.Attributes[i]
		}
	}

	for name, value := range doc {
		if alwaysAllowed[name] {
			continue
		}
		// An attached extension schema URN keys its own attribute object.
		if ext, ok := byURI[name]; ok {
			if err := v.checkExtension(name, ext, value); err != nil {
				return err
			}
			continue
		}
		attr, known := declared[name]
		if !known {
			return scim.ValidationError(name, "unknown attribute for resource type %q", resourceType)
		}
		if err := v.checkValue(name, attr, value); err != nil {
			return err
		}
	}

	// Required core attributes must be present and non-null.
	for i := range core.Attributes {
		attr := &core.Attributes[i]
		if !attr.Required {
			continue
		}
		value, present := doc[attr.Name]
		if !present || value == nil {
			return scim.ValidationError(attr.Name, "is required")
		}
	}
	return nil
}

// checkExtension validates a URN-keyed extension attribute object against its
// schema, including required attributes within that namespace.
func (v *Validator) checkExtension(name string, ext *schema.Schema, value any) error {
	obj, isObj := value.(map[string]any)
	if !isObj {
		return scim.ValidationError(name, "extension attributes must be an object")
	}
	for sub, subVal := range obj {
		attr := ext.Attribute(sub)
		if attr == nil {
			return scim.ValidationError(name+"."+sub, "unknown attribute for schema %q", ext.ID)
		}
		if err := v.checkValue(name+"."+sub, attr, subVal); err != nil {
			return err
		}
	}
	for i := range ext.Attributes {
		attr := &ext.Attributes[i]
		if !attr.Required {
			continue
		}
		if subVal, present := obj[attr.Name]; !present || subVal == nil {
			return scim.ValidationError(name+"."+attr.Name, "is required")
		}
	}
	return nil
}

// checkValue validates one attribute value against its definition.
func (v *Validator) checkValue(path string, attr *schema.AttributeDefinition, value any) error {
	if value == nil {
		if attr.Required {
			return scim.ValidationError(path, "must not be null")
		}
		return nil
	}
	if attr.MultiValued {
		items, ok := toAnySlice(value)
		if !ok {
			return scim.ValidationError(path, "must be an array")
		}
		primaries := 0
		for i, item := range items {
			entryPath := fmt.Sprintf("%s[%d]", path, i)
			if err := v.checkSingleValue(entryPath, attr, item); err != nil {
				return err
			}
			if m, isObj := item.(map[string]any); isObj {
				if p, _ := m["primary"].(bool); p {
					primaries++
				}
			}
		}
		if primaries > 1 {
			return scim.ValidationError(path, "at most one entry may be marked primary")
		}
		return nil
	}
	return v.checkSingleValue(path, attr, value)
}

func (v *Validator) checkSingleValue(path string, attr *schema.AttributeDefinition, value any) error {
	switch attr.Type {
	case schema.TypeString:
		s, ok := value.(string)
		if !ok {
			return scim.ValidationError(path, "must be a string")
		}
		return v.checkCanonical(path, attr, s)
	case schema.TypeBoolean:
		if _, ok := value.(bool); !ok {
			return scim.ValidationError(path, "must be a boolean")
		}
	case schema.TypeInteger:
		switch n := value.(type) {
		case float64:
			if n != math.Trunc(n) {
				return scim.ValidationError(path, "must be an integer")
			}
		case int, int32, int64:
		default:
			return scim.ValidationError(path, "must be an integer")
		}
	case schema.TypeDecimal:
		switch value.(type) {
		case float64, int, int32, int64:
		default:
			return scim.ValidationError(path, "must be a number")
		}
	case schema.TypeDateTime:
		s, ok := value.(string)
		if !ok {
			return scim.ValidationError(path, "must be an RFC 3339 string")
		}
		if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
			return scim.ValidationError(path, "%q is not an RFC 3339 timestamp", s)
		}
	case schema.TypeBinary:
		s, ok := value.(string)
		if !ok {
			return scim.ValidationError(path, "must be a base64 string")
		}
		if _, err := base64.StdEncoding.DecodeString(s); err != nil {
			return scim.ValidationError(path, "is not valid base64")
		}
	case schema.TypeReference:
		s, ok := value.(string)
		if !ok {
			return scim.ValidationError(path, "must be a URI string")
		}
		if _, err := url.Parse(s); err != nil || s == "" {
			return scim.ValidationError(path, "%q is not a valid URI", s)
		}
	case schema.TypeComplex:
		obj, ok := value.(map[string]any)
		if !ok {
			return scim.ValidationError(path, "must be an object")
		}
		return v.checkComplex(path, attr, obj)
	default:
		return scim.ValidationError(path, "unsupported attribute type %q", attr.Type)
	}
	return nil
}

// checkComplex validates the sub-attributes of a complex value: only
// declared sub-attributes, required ones present, and no further nesting of
// complex types.
func (v *Validator) checkComplex(path string, attr *schema.AttributeDefinition, obj map[string]any) error {
	for sub, subVal := range obj {
		def := attr.SubAttribute(sub)
		if def == nil {
			return scim.ValidationError(path+"."+sub, "unknown sub-attribute")
		}
		if def.Type == schema.TypeComplex {
			return scim.ValidationError(path+"."+sub, "complex attributes may not nest")
		}
		if err := v.checkSingleValue(path+"."+sub, def, subVal); err != nil {
			return err
		}
	}
	for i := range attr.SubAttributes {
		def := &attr.SubAttributes[i]
		if !def.Required {
			continue
		}
		if value, present := obj[def.Name]; !present || value == nil {
			return scim.ValidationError(path+"."+def.Name, "is required")
		}
	}
	return nil
}

// checkCanonical matches declared canonical values case-sensitively;
// canonical values are constants regardless of caseExact.
func (v *Validator) checkCanonical(path string, attr *schema.AttributeDefinition, value string) error {
	if len(attr.CanonicalValues) == 0 {
		return nil
	}
	for _, c := range attr.CanonicalValues {
		if c == value {
			return nil
		}
	}
	return scim.ValidationError(path, "%q is not one of the canonical values %v", value, attr.CanonicalValues)
}

// checkUniqueness consults the caller-supplied lookup for every attribute
// declaring server-scope uniqueness.
func (v *Validator) checkUniqueness(ctx context.Context, doc map[string]any, attached []*schema.Schema, options Options) error {
	for _, s := range attached {
		for _, name := range s.ServerUniqueAttributes() {
			value, ok := doc[name].(string)
			if !ok || value == "" {
				continue
			}
			existingID, found, err := options.uniqueness(ctx, name, value)
			if err != nil {
				return scim.WrapProvider(err)
			}
			if found && existingID != options.currentID {
				return scim.NewError(scim.CodeDuplicateAttribute,
					"%s %q is already taken", name, value)
			}
		}
	}
	return nil
}

func toAnySlice(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, 0, len(t))
		for _, s := range t {
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
