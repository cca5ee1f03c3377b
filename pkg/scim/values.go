// Package scim defines the typed resource model: validated value objects for
// the core SCIM attributes (RFC 7643), the Resource record, and its JSON
// conversion contract. Value objects validate on construction and are
// immutable thereafter.
package scim

import (
	"strings"
)

// SCIM 2.0 schema URNs.
const (
	SchemaURIPrefix = "urn:ietf:params:scim:"

	UserCoreSchema   = "urn:ietf:params:scim:schemas:core:2.0:User"
	GroupCoreSchema  = "urn:ietf:params:scim:schemas:core:2.0:Group"
	ListResponseURN  = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	ErrorURN         = "urn:ietf:params:scim:api:messages:2.0:Error"
	PatchOpURN       = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	SearchRequestURN = "urn:ietf:params:scim:api:messages:2.0:SearchRequest"
)

// maxValueLen bounds identifier-like attribute values.
const maxValueLen = 256

// ResourceID is a server-assigned resource identifier.
type ResourceID struct {
	value string
}

// NewResourceID validates and wraps a resource id: non-empty after trimming,
// at most 256 characters, case preserved.
func NewResourceID(s string) (ResourceID, error) {
	v, err := boundedIdentifier("id", s)
	if err != nil {
		return ResourceID{}, err
	}
	return ResourceID{value: v}, nil
}

func (r ResourceID) String() string { return r.value }

// UserName is the client-facing unique name of a User.
type UserName struct {
	value string
}

// NewUserName validates and wraps a userName. Case is preserved; uniqueness
// comparisons happen elsewhere.
func NewUserName(s string) (UserName, error) {
	v, err := boundedIdentifier("userName", s)
	if err != nil {
		return UserName{}, err
	}
	return UserName{value: v}, nil
}

func (u UserName) String() string { return u.value }

// ExternalID is the provisioning client's identifier for a resource.
type ExternalID struct {
	value string
}

// NewExternalID validates and wraps an externalId.
func NewExternalID(s string) (ExternalID, error) {
	v, err := boundedIdentifier("externalId", s)
	if err != nil {
		return ExternalID{}, err
	}
	return ExternalID{value: v}, nil
}

func (e ExternalID) String() string { return e.value }

// SchemaURI identifies a SCIM schema; it must live in the IETF SCIM URN
// namespace.
type SchemaURI struct {
	value string
}

// NewSchemaURI validates and wraps a schema URN.
func NewSchemaURI(s string) (SchemaURI, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return SchemaURI{}, ValidationError("schemas", "schema URI must not be empty")
	}
	if !strings.HasPrefix(trimmed, SchemaURIPrefix) {
		return SchemaURI{}, ValidationError("schemas", "schema URI %q must start with %q", trimmed, SchemaURIPrefix)
	}
	return SchemaURI{value: trimmed}, nil
}

func (s SchemaURI) String() string { return s.value }

func boundedIdentifier(attribute, s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", ValidationError(attribute, "must not be empty")
	}
	if len(trimmed) > maxValueLen {
		return "", ValidationError(attribute, "must be at most %d characters", maxValueLen)
	}
	return trimmed, nil
}

// CoreSchemaFor returns the core schema URN for the built-in resource types,
// or "" when the type has no built-in core schema.
func CoreSchemaFor(resourceType string) string {
	switch resourceType {
	case "User":
		return UserCoreSchema
	case "Group":
		return GroupCoreSchema
	default:
		return ""
	}
}
