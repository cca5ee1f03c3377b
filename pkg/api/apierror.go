// SCIM error envelope (RFC 7644 §3.12). All API error responses use this
// format.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/scimd/pkg/scim"
)

// ErrorResponse is the SCIM error document returned for every failed
// request.
type ErrorResponse struct {
	Schemas []string `json:"schemas"`
	// Status is the HTTP status code, as a string per the RFC.
	Status string `json:"status"`
	// ScimType is the SCIM detail error keyword, when one applies.
	ScimType string `json:"scimType,omitempty"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Code is the machine-readable domain code carried alongside.
	Code string `json:"code,omitempty"`
}

// scimTypeOf maps domain codes to SCIM detail keywords (RFC 7644 table 9).
func scimTypeOf(code string) string {
	switch code {
	case scim.CodeInvalidRequest, scim.CodeValidation:
		return "invalidValue"
	case scim.CodeDuplicateAttribute:
		return "uniqueness"
	case scim.CodeVersionMismatch:
		return "mutability"
	default:
		return ""
	}
}

// writeError writes the SCIM error envelope.
func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, &ErrorResponse{
		Schemas:  []string{scim.ErrorURN},
		Status:   strconv.Itoa(status),
		ScimType: scimTypeOf(code),
		Detail:   detail,
		Code:     code,
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="scim"`)
	writeError(w, http.StatusUnauthorized, "", "invalid credentials")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
