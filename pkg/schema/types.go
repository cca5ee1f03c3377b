// Package schema holds the runtime schema registry that drives structural
// validation. Schemas are registered once at startup (append-only) and read
// concurrently for the lifetime of the server.
package schema

import "strings"

// DataType enumerates SCIM attribute data types (RFC 7643 §2.3).
type DataType string

const (
	TypeString    DataType = "string"
	TypeBoolean   DataType = "boolean"
	TypeDecimal   DataType = "decimal"
	TypeInteger   DataType = "integer"
	TypeDateTime  DataType = "dateTime"
	TypeBinary    DataType = "binary"
	TypeReference DataType = "reference"
	TypeComplex   DataType = "complex"
)

// Mutability describes who may write an attribute.
type Mutability string

const (
	MutabilityReadOnly  Mutability = "readOnly"
	MutabilityReadWrite Mutability = "readWrite"
	MutabilityImmutable Mutability = "immutable"
	MutabilityWriteOnly Mutability = "writeOnly"
)

// Returned describes when an attribute appears in responses.
type Returned string

const (
	ReturnedAlways  Returned = "always"
	ReturnedNever   Returned = "never"
	ReturnedDefault Returned = "default"
	ReturnedRequest Returned = "request"
)

// Uniqueness describes the scope an attribute value must be unique in.
type Uniqueness string

const (
	UniquenessNone   Uniqueness = "none"
	UniquenessServer Uniqueness = "server"
	UniquenessGlobal Uniqueness = "global"
)

// AttributeDefinition describes one attribute of a schema, possibly with
// nested sub-attributes for complex types.
type AttributeDefinition struct {
	Name            string                `json:"name"`
	Type            DataType              `json:"type"`
	Required        bool                  `json:"required"`
	MultiValued     bool                  `json:"multiValued"`
	Mutability      Mutability            `json:"mutability,omitempty"`
	Returned        Returned              `json:"returned,omitempty"`
	Uniqueness      Uniqueness            `json:"uniqueness,omitempty"`
	CaseExact       bool                  `json:"caseExact,omitempty"`
	CanonicalValues []string              `json:"canonicalValues,omitempty"`
	SubAttributes   []AttributeDefinition `json:"subAttributes,omitempty"`
	Description     string                `json:"description,omitempty"`
}

// SubAttribute looks up a declared sub-attribute by name.
func (a *AttributeDefinition) SubAttribute(name string) *AttributeDefinition {
	for i := range a.SubAttributes {
		if a.SubAttributes[i].Name == name {
			return &a.SubAttributes[i]
		}
	}
	return nil
}

// Schema is the structural contract for a resource type, identified by URN.
type Schema struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Attributes  []AttributeDefinition `json:"attributes"`
}

// Attribute looks up a top-level attribute by name.
func (s *Schema) Attribute(name string) *AttributeDefinition {
	for i := range s.Attributes {
		if s.Attributes[i].Name == name {
			return &s.Attributes[i]
		}
	}
	return nil
}

// AttributeAt resolves a dotted path like "name.givenName" against the
// schema's attribute tree.
func (s *Schema) AttributeAt(path string) *AttributeDefinition {
	segments := strings.Split(path, ".")
	attr := s.Attribute(segments[0])
	for _, seg := range segments[1:] {
		if attr == nil {
			return nil
		}
		attr = attr.SubAttribute(seg)
	}
	return attr
}

// ServerUniqueAttributes lists attribute names declaring server-scope
// uniqueness.
func (s *Schema) ServerUniqueAttributes() []string {
	var out []string
	for _, a := range s.Attributes {
		if a.Uniqueness == UniquenessServer {
			out = append(out, a.Name)
		}
	}
	return out
}
