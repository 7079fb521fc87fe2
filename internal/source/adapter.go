// Package source defines the polymorphic adapter boundary between the
// extraction pipeline and a concrete external feed dialect.
package source

import (
	"fmt"

	"golang.org/x/net/html"

	"ReplyScanner/internal/domain"
)

// Adapter converts candidate nodes of one external source into normalized
// records. Implementations must be deterministic: the same unchanged node
// always resolves to the same id.
type Adapter interface {
	// Name identifies the source (used as Record.SourceID).
	Name() string
	// IsRelevantPage reports whether this adapter handles the page URL.
	IsRelevantPage(pageURL string) bool
	// Selector is the target predicate handed to the change detector.
	Selector() string
	// FindCandidates performs a full-tree scan for post nodes.
	FindCandidates(root *html.Node) []*html.Node
	// ID resolves the stable identifier for a candidate, or ok=false
	// when none can be derived.
	ID(node *html.Node) (id string, ok bool)
	// Extract normalizes a candidate into a record. Failures come back
	// as *domain.ExtractionError and are absorbed by the caller.
	Extract(node *html.Node) (*domain.Record, error)
	// Permalink builds the canonical URL for a record id.
	Permalink(id string) string
	// Locate scrolls/focuses the record best-effort and reports whether
	// it was found in the current tree.
	Locate(root *html.Node, id string) bool
}

// Registry keeps an ordered list of adapters matched by URL. First match
// wins, so more specific adapters register first.
type Registry struct {
	adapters []Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends an adapter to the match order.
func (r *Registry) Register(a Adapter) {
	r.adapters = append(r.adapters, a)
}

// Resolve returns the first adapter claiming the page URL.
func (r *Registry) Resolve(pageURL string) (Adapter, error) {
	for _, a := range r.adapters {
		if a.IsRelevantPage(pageURL) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("no adapter registered for %s", pageURL)
}
