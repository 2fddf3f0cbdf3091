// ABOUTME: Deterministic, reversible physical index naming
// ABOUTME: Unrecognized names are not ours and get skipped on listing

package index

import (
	"strings"

	"github.com/annoserv/annostore/pkg/model"
)

// namePrefix marks physical indexes created by this system.
const namePrefix = "as_"

// Name derives the physical index name for (field, kind). Kinds never
// contain underscores, so the encoding is reversible even for field paths
// that do.
func Name(field string, kind model.IndexKind) string {
	return namePrefix + string(kind) + "_" + field
}

// ParseName reverse-maps a physical index name to (field, kind). ok is
// false for names this system did not create.
func ParseName(name string) (field string, kind model.IndexKind, ok bool) {
	rest, found := strings.CutPrefix(name, namePrefix)
	if !found {
		return "", "", false
	}
	kindStr, field, found := strings.Cut(rest, "_")
	if !found || field == "" {
		return "", "", false
	}
	kind = model.IndexKind(kindStr)
	if !model.ValidIndexKind(kind) {
		return "", "", false
	}
	return field, kind, true
}
