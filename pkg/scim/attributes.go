package scim

import (
	"net/url"
	"strings"
	"time"
)

// Canonical "type" values for multi-valued attributes (RFC 7643 §4.1.2).
var (
	phoneTypes   = []string{"work", "home", "mobile", "fax", "pager", "other"}
	emailTypes   = []string{"work", "home", "other"}
	addressTypes = []string{"work", "home", "other"}
)

// Name is the decomposed real name of a User.
type Name struct {
	Formatted       string `json:"formatted,omitempty"`
	FamilyName      string `json:"familyName,omitempty"`
	GivenName       string `json:"givenName,omitempty"`
	MiddleName      string `json:"middleName,omitempty"`
	HonorificPrefix string `json:"honorificPrefix,omitempty"`
	HonorificSuffix string `json:"honorificSuffix,omitempty"`
}

// IsZero reports whether every sub-field is empty.
func (n Name) IsZero() bool {
	return n == Name{}
}

// EmailAddress is one entry of the multi-valued emails attribute.
type EmailAddress struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Display string `json:"display,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// Validate enforces the email value rule.
func (e EmailAddress) Validate() error {
	if !strings.Contains(e.Value, "@") {
		return ValidationError("emails.value", "%q is not a valid email address", e.Value)
	}
	return nil
}

// Emails is the multi-valued emails collection.
type Emails []EmailAddress

// Validate checks each entry and the at-most-one-primary invariant.
func (es Emails) Validate() error {
	primaries := 0
	for _, e := range es {
		if err := e.Validate(); err != nil {
			return err
		}
		if e.Primary {
			primaries++
		}
	}
	return atMostOnePrimary("emails", primaries)
}

// PhoneNumber is one entry of the multi-valued phoneNumbers attribute.
type PhoneNumber struct {
	Value   string `json:"value"`
	Type    string `json:"type,omitempty"`
	Display string `json:"display,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// Validate enforces a non-empty value and a canonical type, when given.
func (p PhoneNumber) Validate() error {
	if strings.TrimSpace(p.Value) == "" {
		return ValidationError("phoneNumbers.value", "must not be empty")
	}
	if p.Type != "" && !contains(phoneTypes, p.Type) {
		return ValidationError("phoneNumbers.type", "%q is not a canonical phone type", p.Type)
	}
	return nil
}

// PhoneNumbers is the multi-valued phoneNumbers collection.
type PhoneNumbers []PhoneNumber

// Validate checks each entry and the at-most-one-primary invariant.
func (ps PhoneNumbers) Validate() error {
	primaries := 0
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			return err
		}
		if p.Primary {
			primaries++
		}
	}
	return atMostOnePrimary("phoneNumbers", primaries)
}

// Address is one entry of the multi-valued addresses attribute.
type Address struct {
	Formatted     string `json:"formatted,omitempty"`
	StreetAddress string `json:"streetAddress,omitempty"`
	Locality      string `json:"locality,omitempty"`
	Region        string `json:"region,omitempty"`
	PostalCode    string `json:"postalCode,omitempty"`
	Country       string `json:"country,omitempty"`
	Type          string `json:"type,omitempty"`
	Primary       bool   `json:"primary,omitempty"`
}

// Validate requires at least one populated sub-field and a canonical type,
// when given.
func (a Address) Validate() error {
	if a.Formatted == "" && a.StreetAddress == "" && a.Locality == "" &&
		a.Region == "" && a.PostalCode == "" && a.Country == "" {
		return ValidationError("addresses", "at least one address sub-field must be present")
	}
	if a.Type != "" && !contains(addressTypes, a.Type) {
		return ValidationError("addresses.type", "%q is not a canonical address type", a.Type)
	}
	return nil
}

// Addresses is the multi-valued addresses collection.
type Addresses []Address

// Validate checks each entry and the at-most-one-primary invariant.
func (as Addresses) Validate() error {
	primaries := 0
	for _, a := range as {
		if err := a.Validate(); err != nil {
			return err
		}
		if a.Primary {
			primaries++
		}
	}
	return atMostOnePrimary("addresses", primaries)
}

// GroupMember references a member resource from a Group.
type GroupMember struct {
	Value   string `json:"value"`
	Ref     string `json:"$ref,omitempty"`
	Display string `json:"display,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Validate requires the member id.
func (m GroupMember) Validate() error {
	if strings.TrimSpace(m.Value) == "" {
		return ValidationError("members.value", "must not be empty")
	}
	return nil
}

// GroupMembers is the multi-valued members collection of a Group.
type GroupMembers []GroupMember

// Validate checks each member reference.
func (ms GroupMembers) Validate() error {
	for _, m := range ms {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Meta is the server-controlled resource metadata block.
type Meta struct {
	ResourceType string    `json:"resourceType"`
	Created      time.Time `json:"created"`
	LastModified time.Time `json:"lastModified"`
	Location     string    `json:"location,omitempty"`
	Version      string    `json:"version,omitempty"`
}

// Validate enforces created <= lastModified and a well-formed location URL.
func (m *Meta) Validate() error {
	if m.ResourceType == "" {
		return ValidationError("meta.resourceType", "must be present")
	}
	if !m.Created.IsZero() && !m.LastModified.IsZero() && m.LastModified.Before(m.Created) {
		return ValidationError("meta", "lastModified must not precede created")
	}
	if m.Location != "" {
		u, err := url.Parse(m.Location)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ValidationError("meta.location", "%q is not a valid URL", m.Location)
		}
	}
	return nil
}

func atMostOnePrimary(attribute string, primaries int) error {
	if primaries > 1 {
		return ValidationError(attribute, "at most one entry may be marked primary")
	}
	return nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
