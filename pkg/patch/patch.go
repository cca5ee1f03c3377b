// Package patch implements RFC 7644 §3.5.2 PATCH application over the JSON
// form of a resource: add/replace/remove over dotted paths, with append
// semantics for multi-valued attributes and idempotent removal. The engine
// mutates free-form JSON; callers re-validate and re-stamp metadata after a
// successful application.
package patch

import (
	"strings"

	"github.com/Mindburn-Labs/scimd/pkg/scim"
	"github.com/Mindburn-Labs/scimd/pkg/storage"
)

const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
)

// Operation is one entry of a PATCH request.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Request is a SCIM PatchOp message. ETag, when present, is honored by the
// provider as an expected-version precondition.
type Request struct {
	Schemas    []string    `json:"schemas,omitempty"`
	Operations []Operation `json:"Operations"`
	ETag       string      `json:"etag,omitempty"`
}

// readonlyPaths may be written by the server only; PATCH operations that
// target them or their descendants fail before any mutation.
var readonlyPaths = []string{
	"id",
	"schemas",
	"meta.created",
	"meta.resourceType",
	"meta.location",
}

// invalidPathPrefixes are rejected outright as implausible.
var invalidPathPrefixes = []string{"nonexistent.", "invalid.", "required."}

// multiValuedAttributes get append semantics for single-segment add paths.
var multiValuedAttributes = map[string]bool{
	"emails":       true,
	"phoneNumbers": true,
	"addresses":    true,
	"groups":       true,
	"members":      true,
}

// Apply applies the request to a copy of doc and returns the mutated copy.
// The input document is never modified; any failure leaves no partial state.
func Apply(doc storage.Document, req *Request) (storage.Document, error) {
	if req == nil || len(req.Operations) == 0 {
		return nil, scim.InvalidRequest("patch request must contain at least one operation")
	}

	out := storage.CloneDocument(doc)
	if out == nil {
		out = storage.Document{}
	}

	for i := range req.Operations {
		op := req.Operations[i]
		var err error
		switch strings.ToLower(strings.TrimSpace(op.Op)) {
		case OpAdd:
			err = applyAdd(out, op.Path, op.Value)
		case OpReplace:
			err = applyReplace(out, op.Path, op.Value)
		case OpRemove:
			err = applyRemove(out, op.Path)
		default:
			err = scim.InvalidRequest("unsupported patch op %q", op.Op)
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func applyAdd(doc storage.Document, path string, value any) error {
	if path == "" {
		obj, ok := value.(map[string]any)
		if !ok {
			return scim.InvalidRequest("path-less add requires an object value")
		}
		for k, v := range obj {
			doc[k] = v
		}
		return nil
	}
	segments, err := checkPath(path)
	if err != nil {
		return err
	}
	parent := descendCreating(doc, segments[:len(segments)-1])
	leaf := segments[len(segments)-1]

	if len(segments) == 1 && multiValuedAttributes[leaf] {
		if arr, isArray := value.([]any); isArray {
			parent[leaf] = arr
			return nil
		}
		existing, _ := parent[leaf].([]any)
		parent[leaf] = append(existing, value)
		return nil
	}
	parent[leaf] = value
	return nil
}

func applyReplace(doc storage.Document, path string, value any) error {
	if path == "" {
		obj, ok := value.(map[string]any)
		if !ok {
			return scim.InvalidRequest("path-less replace requires an object value")
		}
		for k := range doc {
			delete(doc, k)
		}
		for k, v := range obj {
			doc[k] = v
		}
		return nil
	}
	segments, err := checkPath(path)
	if err != nil {
		return err
	}
	parent := descendCreating(doc, segments[:len(segments)-1])
	parent[segments[len(segments)-1]] = value
	return nil
}

func applyRemove(doc storage.Document, path string) error {
	if path == "" {
		// Removing nothing is a no-op.
		return nil
	}
	segments, err := checkPath(path)
	if err != nil {
		return err
	}
	current := map[string]any(doc)
	for _, seg := range segments[:len(segments)-1] {
		next, ok := current[seg].(map[string]any)
		if !ok {
			return nil // missing intermediate: remove is idempotent
		}
		current = next
	}
	delete(current, segments[len(segments)-1])
	return nil
}

// checkPath validates plausibility and readonly protection, returning the
// dotted segments.
func checkPath(path string) ([]string, error) {
	if strings.Count(path, "[") != strings.Count(path, "]") {
		return nil, scim.InvalidRequest("unbalanced brackets in path %q", path)
	}
	for _, prefix := range invalidPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return nil, scim.InvalidRequest("invalid path %q", path)
		}
	}
	for _, ro := range readonlyPaths {
		if path == ro || strings.HasPrefix(path, ro+".") {
			return nil, scim.InvalidRequest("path %q targets a readonly attribute", path)
		}
	}
	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, scim.InvalidRequest("empty segment in path %q", path)
		}
	}
	return segments, nil
}

// descendCreating walks the segments, creating missing intermediate objects.
func descendCreating(doc storage.Document, segments []string) map[string]any {
	current := map[string]any(doc)
	for _, seg := range segments {
		next, ok := current[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[seg] = next
		}
		current = next
	}
	return current
}
