package scim

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"github.com/Mindburn-Labs/scimd/pkg/version"
)

// timeWire is the wire format for meta timestamps.
const timeWire = time.RFC3339Nano

// coreAttributes are the JSON keys owned by typed Resource fields; anything
// else lands in the extension attribute map.
var coreAttributes = map[string]bool{
	"schemas":      true,
	"id":           true,
	"externalId":   true,
	"userName":     true,
	"name":         true,
	"emails":       true,
	"phoneNumbers": true,
	"addresses":    true,
	"members":      true,
	"meta":         true,
}

// Resource is a single SCIM resource: validated value objects for the core
// attributes plus a free-form extension map for everything else.
type Resource struct {
	ResourceType string
	ID           *ResourceID
	ExternalID   *ExternalID
	Schemas      []SchemaURI
	UserName     *UserName
	Name         *Name
	Emails       Emails
	PhoneNumbers PhoneNumbers
	Addresses    Addresses
	Members      GroupMembers
	Meta         *Meta
	Attributes   map[string]any
}

// VersionedResource pairs a resource with the version derived from its
// canonical serialization.
type VersionedResource struct {
	Resource *Resource
	Version  version.Version
}

// ComputeVersion derives the content-addressed version of the resource.
func (r *Resource) ComputeVersion() (version.Version, error) {
	return version.Compute(r.ToJSON())
}

// FromJSON converts a JSON document into a typed Resource, enforcing every
// core value-object rule. Failures carry VALIDATION_ERROR with the offending
// attribute name.
func FromJSON(resourceType string, doc map[string]any) (*Resource, error) {
	if doc == nil {
		return nil, ValidationError("", "document must not be null")
	}
	r := &Resource{ResourceType: resourceType}

	schemas, err := parseSchemas(resourceType, doc["schemas"])
	if err != nil {
		return nil, err
	}
	r.Schemas = schemas

	if raw, ok := doc["id"]; ok {
		s, err := wantString("id", raw)
		if err != nil {
			return nil, err
		}
		id, err := NewResourceID(s)
		if err != nil {
			return nil, err
		}
		r.ID = &id
	}
	if raw, ok := doc["externalId"]; ok {
		s, err := wantString("externalId", raw)
		if err != nil {
			return nil, err
		}
		ext, err := NewExternalID(s)
		if err != nil {
			return nil, err
		}
		r.ExternalID = &ext
	}
	if raw, ok := doc["userName"]; ok {
		s, err := wantString("userName", raw)
		if err != nil {
			return nil, err
		}
		un, err := NewUserName(s)
		if err != nil {
			return nil, err
		}
		r.UserName = &un
	}
	if raw, ok := doc["name"]; ok {
		name, err := parseName(raw)
		if err != nil {
			return nil, err
		}
		r.Name = name
	}
	if raw, ok := doc["emails"]; ok {
		if err := decodeList("emails", raw, &r.Emails); err != nil {
			return nil, err
		}
		if err := r.Emails.Validate(); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["phoneNumbers"]; ok {
		if err := decodeList("phoneNumbers", raw, &r.PhoneNumbers); err != nil {
			return nil, err
		}
		if err := r.PhoneNumbers.Validate(); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["addresses"]; ok {
		if err := decodeList("addresses", raw, &r.Addresses); err != nil {
			return nil, err
		}
		if err := r.Addresses.Validate(); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["members"]; ok {
		if err := decodeList("members", raw, &r.Members); err != nil {
			return nil, err
		}
		if err := r.Members.Validate(); err != nil {
			return nil, err
		}
	}
	if raw, ok := doc["meta"]; ok && raw != nil {
		meta, err := parseMeta(resourceType, raw)
		if err != nil {
			return nil, err
		}
		r.Meta = meta
	}

	for k, v := range doc {
		if coreAttributes[k] {
			continue
		}
		if r.Attributes == nil {
			r.Attributes = make(map[string]any)
		}
		r.Attributes[k] = v
	}
	return r, nil
}

// ToJSON serializes the resource into a JSON document, omitting absent
// fields. The document is suitable for storage and version hashing.
func (r *Resource) ToJSON() map[string]any {
	doc := make(map[string]any)

	schemas := make([]any, 0, len(r.Schemas))
	for _, s := range r.Schemas {
		schemas = append(schemas, s.String())
	}
	doc["schemas"] = schemas

	if r.ID != nil {
		doc["id"] = r.ID.String()
	}
	if r.ExternalID != nil {
		doc["externalId"] = r.ExternalID.String()
	}
	if r.UserName != nil {
		doc["userName"] = r.UserName.String()
	}
	if r.Name != nil && !r.Name.IsZero() {
		doc["name"] = structToMap(r.Name)
	}
	if len(r.Emails) > 0 {
		doc["emails"] = listToAny(r.Emails)
	}
	if len(r.PhoneNumbers) > 0 {
		doc["phoneNumbers"] = listToAny(r.PhoneNumbers)
	}
	if len(r.Addresses) > 0 {
		doc["addresses"] = listToAny(r.Addresses)
	}
	if len(r.Members) > 0 {
		doc["members"] = listToAny(r.Members)
	}
	if r.Meta != nil {
		doc["meta"] = metaToMap(r.Meta)
	}
	for k, v := range r.Attributes {
		doc[k] = v
	}
	return doc
}

// MarshalJSON writes the canonical field order: schemas, id, externalId, the
// typed attributes, meta, then extension attributes sorted by name.
func (r *Resource) MarshalJSON() ([]byte, error) {
	doc := r.ToJSON()
	order := []string{
		"schemas", "id", "externalId", "userName", "name",
		"emails", "phoneNumbers", "addresses", "members", "meta",
	}
	ordered := make([]string, 0, len(doc))
	seen := make(map[string]bool, len(doc))
	for _, k := range order {
		if _, ok := doc[k]; ok {
			ordered = append(ordered, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(doc))
	for k := range doc {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range ordered {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(doc[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func parseSchemas(resourceType string, raw any) ([]SchemaURI, error) {
	if raw == nil {
		return nil, ValidationError("schemas", "must be present and non-empty")
	}
	items, err := anySlice("schemas", raw)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ValidationError("schemas", "must be present and non-empty")
	}
	out := make([]SchemaURI, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		s, err := wantString("schemas", item)
		if err != nil {
			return nil, err
		}
		uri, err := NewSchemaURI(s)
		if err != nil {
			return nil, err
		}
		if seen[uri.String()] {
			return nil, ValidationError("schemas", "duplicate schema URI %q", uri.String())
		}
		seen[uri.String()] = true
		out = append(out, uri)
	}
	if core := CoreSchemaFor(resourceType); core != "" && !seen[core] {
		return nil, ValidationError("schemas", "must include the %s core schema %q", resourceType, core)
	}
	return out, nil
}

func parseName(raw any) (*Name, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, ValidationError("name", "must be an object")
	}
	var n Name
	if err := remarshal("name", m, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func parseMeta(resourceType string, raw any) (*Meta, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, ValidationError("meta", "must be an object")
	}
	meta := &Meta{}
	if v, ok := m["resourceType"]; ok {
		s, err := wantString("meta.resourceType", v)
		if err != nil {
			return nil, err
		}
		meta.ResourceType = s
	}
	if meta.ResourceType == "" {
		return nil, ValidationError("meta.resourceType", "must be present")
	}
	if meta.ResourceType != resourceType {
		return nil, ValidationError("meta.resourceType", "%q does not match resource type %q", meta.ResourceType, resourceType)
	}
	for field, dst := range map[string]*time.Time{"created": &meta.Created, "lastModified": &meta.LastModified} {
		if v, ok := m[field]; ok {
			s, err := wantString("meta."+field, v)
			if err != nil {
				return nil, err
			}
			ts, err := time.Parse(timeWire, s)
			if err != nil {
				return nil, ValidationError("meta."+field, "%q is not an RFC 3339 timestamp", s)
			}
			*dst = ts
		}
	}
	if v, ok := m["location"]; ok {
		s, err := wantString("meta.location", v)
		if err != nil {
			return nil, err
		}
		meta.Location = s
	}
	if v, ok := m["version"]; ok {
		s, err := wantString("meta.version", v)
		if err != nil {
			return nil, err
		}
		meta.Version = s
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

func metaToMap(m *Meta) map[string]any {
	out := map[string]any{
		"resourceType": m.ResourceType,
	}
	if !m.Created.IsZero() {
		out["created"] = m.Created.Format(timeWire)
	}
	if !m.LastModified.IsZero() {
		out["lastModified"] = m.LastModified.Format(timeWire)
	}
	if m.Location != "" {
		out["location"] = m.Location
	}
	if m.Version != "" {
		out["version"] = m.Version
	}
	return out
}

// remarshal decodes a generic JSON value into a typed struct via
// encoding/json, attributing failures to attr.
func remarshal(attr string, src any, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return ValidationError(attr, "not representable as JSON: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return ValidationError(attr, "malformed value: %v", err)
	}
	return nil
}

type validatable interface {
	Validate() error
}

// decodeList decodes a JSON array into a typed multi-valued collection.
func decodeList[T validatable, S ~[]T](attr string, raw any, dst *S) error {
	items, err := anySlice(attr, raw)
	if err != nil {
		return err
	}
	out := make(S, 0, len(items))
	for _, item := range items {
		var entry T
		if err := remarshal(attr, item, &entry); err != nil {
			return err
		}
		out = append(out, entry)
	}
	*dst = out
	return nil
}

func listToAny[T any](items []T) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, structToMap(item))
	}
	return out
}

// structToMap round-trips a typed value object through its JSON tags into a
// generic map so stored documents stay schema-shaped.
func structToMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func wantString(attr string, raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", ValidationError(attr, "must be a string, got %T", raw)
	}
	return s, nil
}

func anySlice(attr string, raw any) ([]any, error) {
	switch t := raw.(type) {
	case []any:
		return t, nil
	case []string:
		out := make([]any, 0, len(t))
		for _, s := range t {
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, ValidationError(attr, "must be an array, got %T", raw)
	}
}
