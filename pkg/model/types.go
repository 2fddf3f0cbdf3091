// ABOUTME: Core data model for containers, annotations and indexes
// ABOUTME: Defines stored envelopes and the metadata record shapes

package model

import "time"

// ContainerMeta is the per-container metadata record. It is created and
// deleted together with the container's physical collection and must stay
// in sync with it whenever annotations are added or removed.
type ContainerMeta struct {
	Name        string           `json:"name"`        // Unique container name
	Label       string           `json:"label"`       // Human-readable label
	Created     time.Time        `json:"created"`     // Creation timestamp
	Modified    time.Time        `json:"modified"`    // Last content change
	FieldCounts map[string]int64 `json:"fieldCounts"` // Top-level field occurrence counts
}

// Annotation is the stored envelope for one annotation document.
type Annotation struct {
	Name     string         `json:"name"`  // Container-scoped unique name
	Token    string         `json:"token"` // Opaque concurrency token, reissued on replace
	Created  time.Time      `json:"created"`
	Modified time.Time      `json:"modified"`
	Body     map[string]any `json:"annotation"` // Opaque JSON content
}

// IndexKind names a supported secondary index layout.
type IndexKind string

const (
	// IndexSingle orders raw field values, supporting equality lookups
	// and range scans over one field path.
	IndexSingle IndexKind = "single"

	// IndexHashed stores 64-bit hashes of field values, supporting
	// equality lookups only.
	IndexHashed IndexKind = "hashed"
)

// SupportedIndexKinds lists every index kind the lifecycle manager accepts,
// in the order reported to clients.
var SupportedIndexKinds = []IndexKind{IndexSingle, IndexHashed}

// ValidIndexKind reports whether k names a supported index kind.
func ValidIndexKind(k IndexKind) bool {
	for _, s := range SupportedIndexKinds {
		if s == k {
			return true
		}
	}
	return false
}

// IndexConfig describes one recognized secondary index on a container.
type IndexConfig struct {
	Field string    `json:"field"` // Field path inside the annotation body
	Kind  IndexKind `json:"kind"`
	Name  string    `json:"name"` // Physical index name
}
