package scim

import (
	"strings"
	"time"
)

// Builder accumulates resource attributes fluently and validates them on
// Build. Invalid inputs are collected and reported together, so callers can
// chain without per-call error handling.
type Builder struct {
	resourceType string
	resource     Resource
	errs         []error
}

// NewBuilder starts a builder for the given resource type.
func NewBuilder(resourceType string) *Builder {
	return &Builder{
		resourceType: resourceType,
		resource:     Resource{ResourceType: resourceType},
	}
}

// ID sets the server-assigned resource id.
func (b *Builder) ID(id string) *Builder {
	v, err := NewResourceID(id)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.resource.ID = &v
	return b
}

// ExternalID sets the client-controlled external id.
func (b *Builder) ExternalID(id string) *Builder {
	v, err := NewExternalID(id)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.resource.ExternalID = &v
	return b
}

// Schema appends a schema URI.
func (b *Builder) Schema(uri string) *Builder {
	v, err := NewSchemaURI(uri)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.resource.Schemas = append(b.resource.Schemas, v)
	return b
}

// CoreSchema appends the core schema URN for the builder's resource type.
func (b *Builder) CoreSchema() *Builder {
	core := CoreSchemaFor(b.resourceType)
	if core == "" {
		b.errs = append(b.errs, ValidationError("schemas", "no core schema known for resource type %q", b.resourceType))
		return b
	}
	return b.Schema(core)
}

// UserName sets the userName attribute.
func (b *Builder) UserName(name string) *Builder {
	v, err := NewUserName(name)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.resource.UserName = &v
	return b
}

// Name sets the decomposed name attribute.
func (b *Builder) Name(name Name) *Builder {
	b.resource.Name = &name
	return b
}

// Email appends an email entry.
func (b *Builder) Email(value, typ string, primary bool) *Builder {
	b.resource.Emails = append(b.resource.Emails, EmailAddress{Value: value, Type: typ, Primary: primary})
	return b
}

// PhoneNumber appends a phone number entry.
func (b *Builder) PhoneNumber(value, typ string, primary bool) *Builder {
	b.resource.PhoneNumbers = append(b.resource.PhoneNumbers, PhoneNumber{Value: value, Type: typ, Primary: primary})
	return b
}

// Address appends an address entry.
func (b *Builder) Address(addr Address) *Builder {
	b.resource.Addresses = append(b.resource.Addresses, addr)
	return b
}

// Member appends a group member reference.
func (b *Builder) Member(value, display string) *Builder {
	b.resource.Members = append(b.resource.Members, GroupMember{Value: value, Display: display})
	return b
}

// Meta sets the metadata block directly.
func (b *Builder) Meta(meta Meta) *Builder {
	b.resource.Meta = &meta
	return b
}

// Attribute sets an extension attribute.
func (b *Builder) Attribute(name string, value any) *Builder {
	if b.resource.Attributes == nil {
		b.resource.Attributes = make(map[string]any)
	}
	b.resource.Attributes[name] = value
	return b
}

// Build validates the accumulated state and returns the resource. At least
// one schema URI must be present; collections are checked for the same
// invariants as FromJSON.
func (b *Builder) Build() (*Resource, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	if len(b.resource.Schemas) == 0 {
		return nil, ValidationError("schemas", "at least one schema URI is required")
	}
	seen := make(map[string]bool, len(b.resource.Schemas))
	for _, s := range b.resource.Schemas {
		if seen[s.String()] {
			return nil, ValidationError("schemas", "duplicate schema URI %q", s.String())
		}
		seen[s.String()] = true
	}
	if core := CoreSchemaFor(b.resourceType); core != "" && !seen[core] {
		return nil, ValidationError("schemas", "must include the %s core schema %q", b.resourceType, core)
	}
	if err := b.resource.Emails.Validate(); err != nil {
		return nil, err
	}
	if err := b.resource.PhoneNumbers.Validate(); err != nil {
		return nil, err
	}
	if err := b.resource.Addresses.Validate(); err != nil {
		return nil, err
	}
	if err := b.resource.Members.Validate(); err != nil {
		return nil, err
	}
	if b.resource.Meta != nil {
		if b.resource.Meta.ResourceType != b.resourceType {
			return nil, ValidationError("meta.resourceType", "%q does not match resource type %q",
				b.resource.Meta.ResourceType, b.resourceType)
		}
		if err := b.resource.Meta.Validate(); err != nil {
			return nil, err
		}
	}
	out := b.resource
	return &out, nil
}

// BuildWithMeta builds the resource and synthesizes server metadata:
// created = lastModified = now, and location = baseURL/{type}s/{id} when the
// id is known.
func (b *Builder) BuildWithMeta(baseURL string) (*Resource, error) {
	r, err := b.Build()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	meta := Meta{
		ResourceType: r.ResourceType,
		Created:      now,
		LastModified: now,
	}
	if r.ID != nil && baseURL != "" {
		meta.Location = strings.TrimSuffix(baseURL, "/") + "/" + r.ResourceType + "s/" + r.ID.String()
	}
	r.Meta = &meta
	return r, nil
}
