// Package catalog is the registry of entity types whose details endpoints
// the fetcher knows how to recover from a tombstone snapshot.
package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"opsportal/internal/config"
)

// Capability gates what the client may attempt for an entity type.
type Capability string

const (
	CapDetail    Capability = "detail"
	CapTombstone Capability = "tombstone"
	CapArchive   Capability = "archive"
	CapRestore   Capability = "restore"
)

const idSlot = "{id}"

// Entry describes one entity type.
type Entry struct {
	Type         string
	IDPattern    *regexp.Regexp
	Details      string
	Capabilities map[Capability]bool

	detailsPrefix string
	detailsSuffix string
}

func (e Entry) Supports(c Capability) bool { return e.Capabilities[c] }

// DetailsPath builds the details endpoint for id, without API prefix.
func (e Entry) DetailsPath(id string) string {
	return e.detailsPrefix + id + e.detailsSuffix
}

// Match is the result of resolving a request path against the registry.
type Match struct {
	Entry    Entry
	EntityID string
	// Prefix is the API prefix the request path carried, reused for the
	// snapshot endpoint.
	Prefix string
}

// SnapshotPath is the tombstone endpoint for the matched entity.
func (m Match) SnapshotPath() string {
	return fmt.Sprintf("%s/deleted/%s/%s/snapshot", m.Prefix, m.Entry.Type, m.EntityID)
}

// Registry maps entity types to their entries.
type Registry struct {
	prefix  string
	entries map[string]Entry
	order   []string
}

// New builds a registry from config. prefix is the optional API prefix
// (for example "/api") that request paths may carry.
func New(prefix string, entities map[string]config.CatalogEntity) (*Registry, error) {
	r := &Registry{
		prefix:  "/" + strings.Trim(prefix, "/"),
		entries: make(map[string]Entry, len(entities)),
	}
	if r.prefix == "/" {
		r.prefix = ""
	}
	for typ, ent := range entities {
		if typ == "" {
			return nil, fmt.Errorf("catalog entity with empty type")
		}
		re, err := regexp.Compile(ent.IDPattern)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: id_pattern: %w", typ, err)
		}
		idx := strings.Index(ent.Details, idSlot)
		if idx < 0 {
			return nil, fmt.Errorf("catalog %s: details template must contain %s", typ, idSlot)
		}
		details := "/" + strings.TrimLeft(ent.Details, "/")
		idx = strings.Index(details, idSlot)
		caps := make(map[Capability]bool, len(ent.Capabilities))
		for _, c := range ent.Capabilities {
			switch Capability(c) {
			case CapDetail, CapTombstone, CapArchive, CapRestore:
				caps[Capability(c)] = true
			default:
				return nil, fmt.Errorf("catalog %s: unknown capability %s", typ, c)
			}
		}
		r.entries[typ] = Entry{
			Type:          typ,
			IDPattern:     re,
			Details:       details,
			Capabilities:  caps,
			detailsPrefix: details[:idx],
			detailsSuffix: details[idx+len(idSlot):],
		}
		r.order = append(r.order, typ)
	}
	sort.Strings(r.order)
	return r, nil
}

// Lookup returns the entry for an entity type.
func (r *Registry) Lookup(typ string) (Entry, bool) {
	e, ok := r.entries[typ]
	return e, ok
}

// Types lists registered entity types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// DetailsPath builds the full request path, API prefix included.
func (r *Registry) DetailsPath(typ, id string) (string, error) {
	e, ok := r.entries[typ]
	if !ok {
		return "", fmt.Errorf("unknown entity type %s", typ)
	}
	if !e.Supports(CapDetail) {
		return "", fmt.Errorf("entity type %s does not support detail fetch", typ)
	}
	if !e.IDPattern.MatchString(id) {
		return "", fmt.Errorf("invalid %s id %q", typ, id)
	}
	return r.prefix + e.DetailsPath(id), nil
}

// Match resolves a request path to a cataloged details endpoint. The query
// string is ignored. Only paths that exactly match a details template with
// an id accepted by the entry's pattern match.
func (r *Registry) Match(path string) (Match, bool) {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	path = "/" + strings.TrimLeft(path, "/")
	prefix := ""
	if r.prefix != "" && (path == r.prefix || strings.HasPrefix(path, r.prefix+"/")) {
		prefix = r.prefix
		path = strings.TrimPrefix(path, r.prefix)
	}
	for _, typ := range r.order {
		e := r.entries[typ]
		if !strings.HasPrefix(path, e.detailsPrefix) || !strings.HasSuffix(path, e.detailsSuffix) {
			continue
		}
		if len(path) < len(e.detailsPrefix)+len(e.detailsSuffix) {
			continue
		}
		id := path[len(e.detailsPrefix) : len(path)-len(e.detailsSuffix)]
		if id == "" || strings.Contains(id, "/") || !e.IDPattern.MatchString(id) {
			continue
		}
		return Match{Entry: e, EntityID: id, Prefix: prefix}, true
	}
	return Match{}, false
}
