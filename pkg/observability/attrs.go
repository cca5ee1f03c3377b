package observability

import "go.opentelemetry.io/otel/attribute"

// Semantic attribute keys shared by spans and metrics across the server.
var (
	AttrOperation    = attribute.Key("scim.operation")
	AttrResourceType = attribute.Key("scim.resource_type")
	AttrResourceID   = attribute.Key("scim.resource_id")
	AttrTenantID     = attribute.Key("scim.tenant.id")
	AttrRequestID    = attribute.Key("scim.request_id")
	AttrOutcome      = attribute.Key("scim.outcome")
	AttrSchemaURI    = attribute.Key("scim.schema.uri")
)

// OperationAttributes builds the span attributes for one dispatched
// operation.
func OperationAttributes(operation, resourceType, tenantID, requestID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		AttrOperation.String(operation),
		AttrTenantID.String(tenantID),
		AttrRequestID.String(requestID),
	}
	if resourceType != "" {
		attrs = append(attrs, AttrResourceType.String(resourceType))
	}
	return attrs
}
