package schema

import "github.com/Mindburn-Labs/scimd/pkg/scim"

// UserSchema returns the core User schema (RFC 7643 §4.1, trimmed to the
// attributes the provisioning core acts on).
func UserSchema() *Schema {
	return &Schema{
		ID:          scim.UserCoreSchema,
		Name:        "User",
		Description: "User Account",
		Attributes: []AttributeDefinition{
			{
				Name: "userName", Type: TypeString, Required: true,
				Mutability: MutabilityReadWrite, Returned: ReturnedDefault,
				Uniqueness: UniquenessServer, CaseExact: false,
				Description: "Unique identifier for the User",
			},
			{
				Name: "externalId", Type: TypeString,
				Mutability: MutabilityReadWrite, Returned: ReturnedDefault,
				Uniqueness: UniquenessServer, CaseExact: true,
			},
			{
				Name: "name", Type: TypeComplex,
				Mutability: MutabilityReadWrite, Returned: ReturnedDefault,
				SubAttributes: []AttributeDefinition{
					{Name: "formatted", Type: TypeString},
					{Name: "familyName", Type: TypeString},
					{Name: "givenName", Type: TypeString},
					{Name: "middleName", Type: TypeString},
					{Name: "honorificPrefix", Type: TypeString},
					{Name: "honorificSuffix", Type: TypeString},
				},
			},
			{Name: "displayName", Type: TypeString, Returned: ReturnedDefault},
			{Name: "nickName", Type: TypeString},
			{Name: "profileUrl", Type: TypeReference},
			{Name: "title", Type: TypeString},
			{Name: "userType", Type: TypeString},
			{Name: "preferredLanguage", Type: TypeString},
			{Name: "locale", Type: TypeString},
			{Name: "timezone", Type: TypeString},
			{Name: "active", Type: TypeBoolean},
			{Name: "password", Type: TypeString, Mutability: MutabilityWriteOnly, Returned: ReturnedNever},
			{
				Name: "emails", Type: TypeComplex, MultiValued: true,
				SubAttributes: []AttributeDefinition{
					{Name: "value", Type: TypeString, Required: true},
					{Name: "display", Type: TypeString},
					{Name: "type", Type: TypeString, CanonicalValues: []string{"work", "home", "other"}},
					{Name: "primary", Type: TypeBoolean},
				},
			},
			{
				Name: "phoneNumbers", Type: TypeComplex, MultiValued: true,
				SubAttributes: []AttributeDefinition{
					{Name: "value", Type: TypeString, Required: true},
					{Name: "display", Type: TypeString},
					{Name: "type", Type: TypeString, CanonicalValues: []string{"work", "home", "mobile", "fax", "pager", "other"}},
					{Name: "primary", Type: TypeBoolean},
				},
			},
			{
				Name: "addresses", Type: TypeComplex, MultiValued: true,
				SubAttributes: []AttributeDefinition{
					{Name: "formatted", Type: TypeString},
					{Name: "streetAddress", Type: TypeString},
					{Name: "locality", Type: TypeString},
					{Name: "region", Type: TypeString},
					{Name: "postalCode", Type: TypeString},
					{Name: "country", Type: TypeString},
					{Name: "type", Type: TypeString, CanonicalValues: []string{"work", "home", "other"}},
					{Name: "primary", Type: TypeBoolean},
				},
			},
			{
				Name: "groups", Type: TypeComplex, MultiValued: true,
				Mutability: MutabilityReadOnly,
				SubAttributes: []AttributeDefinition{
					{Name: "value", Type: TypeString},
					{Name: "$ref", Type: TypeReference},
					{Name: "display", Type: TypeString},
					{Name: "type", Type: TypeString, CanonicalValues: []string{"direct", "indirect"}},
				},
			},
			{Name: "photos", Type: TypeComplex, MultiValued: true,
				SubAttributes: []AttributeDefinition{
					{Name: "value", Type: TypeReference},
					{Name: "type", Type: TypeString, CanonicalValues: []string{"photo", "thumbnail"}},
					{Name: "primary", Type: TypeBoolean},
				},
			},
		},
	}
}

// GroupSchema returns the core Group schema (RFC 7643 §4.2).
func GroupSchema() *Schema {
	return &Schema{
		ID:          scim.GroupCoreSchema,
		Name:        "Group",
		Description: "Group",
		Attributes: []AttributeDefinition{
			{
				Name: "displayName", Type: TypeString, Required: true,
				Returned: ReturnedDefault,
			},
			{
				Name: "externalId", Type: TypeString,
				Uniqueness: UniquenessServer, CaseExact: true,
			},
			{
				Name: "members", Type: TypeComplex, MultiValued: true,
				SubAttributes: []AttributeDefinition{
					{Name: "value", Type: TypeString, Required: true},
					{Name: "$ref", Type: TypeReference},
					{Name: "display", Type: TypeString},
					{Name: "type", Type: TypeString, CanonicalValues: []string{"User", "Group"}},
				},
			},
		},
	}
}
