// Package remote is the gateway to the shared document store holding the
// evaluation collection, plus the store implementations behind it.
package remote

import (
	"context"
	"sort"
)

// Operation names used for metrics, fault injection and logs.
const (
	OpFetchAll = "fetch_all"
	OpGet      = "get"
	OpUpsert   = "upsert"
	OpDelete   = "delete"
	OpProbe    = "probe"
)

// ProbeResult is the outcome of a connectivity probe.
type ProbeResult string

const (
	ProbeOK               ProbeResult = "ok"
	ProbePermissionDenied ProbeResult = "permissionDenied"
	ProbeUnreachable      ProbeResult = "unreachable"
)

// Document is one stored document and the store's own id for it.
type Document struct {
	ID   string
	Data map[string]any
}

// DocumentStore is the minimal document-store contract the engine needs.
// Upsert with merge folds data into an existing document; without merge it
// replaces it. Deleting a missing document is not an error.
type DocumentStore interface {
	FetchAll(ctx context.Context, collection string) ([]Document, error)
	Get(ctx context.Context, collection, id string) (Document, bool, error)
	Upsert(ctx context.Context, collection, id string, data map[string]any, merge bool) error
	Delete(ctx context.Context, collection, id string) error
	// Probe issues a minimal bounded read. The error, if any, explains a
	// non-OK result.
	Probe(ctx context.Context, collection string) (ProbeResult, error)
	Close() error
}

// mergeFields folds src into dst, descending into nested objects present on
// both sides.
func mergeFields(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeFields(cur, sub)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

func sortDocuments(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}
