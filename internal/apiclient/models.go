package apiclient

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ReplyScanner/internal/ports"
)

// Model describes one entry of the vendor's model listing.
type Model struct {
	ID           string  `json:"id"`
	Vendor       string  `json:"vendor"`
	PricePerMTok float64 `json:"price_per_mtok"`
	CreatedAt    int64   `json:"created"`
}

// Constraints filter the registry listing. Filtering never mutates the
// fetched list.
type Constraints struct {
	MaxPricePerMTok float64
	MaxAge          time.Duration
	AllowedVendors  []string
	ExcludePatterns []string
}

// Registry caches the model/endpoint listing with its own TTL, independent
// from the reference-content cache.
type Registry struct {
	client   ports.APIClient
	endpoint string
	ttl      time.Duration
	log      *slog.Logger
	now      func() time.Time

	sf        singleflight.Group
	mu        sync.RWMutex
	models    []Model
	fetchedAt time.Time
}

// NewRegistry wires the listing endpoint onto an API client.
func NewRegistry(client ports.APIClient, endpoint string, ttl time.Duration, log *slog.Logger) *Registry {
	if endpoint == "" {
		endpoint = "/models"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		client:   client,
		endpoint: endpoint,
		ttl:      ttl,
		log:      log,
		now:      time.Now,
	}
}

// Models returns the cached listing, refreshing it past the TTL. Like the
// reference cache, a stale listing is served when refresh fails and a
// previous fetch exists.
func (r *Registry) Models(ctx context.Context) ([]Model, error) {
	r.mu.RLock()
	cached := r.models
	fresh := r.models != nil && r.now().Before(r.fetchedAt.Add(r.ttl))
	r.mu.RUnlock()
	if fresh {
		return cached, nil
	}

	fetched, err, _ := r.sf.Do("models", func() (any, error) {
		var listing struct {
			Data []Model `json:"data"`
		}
		err := r.client.Request(ctx, nil, &listing, ports.RequestOptions{Endpoint: r.endpoint})
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.models = listing.Data
		r.fetchedAt = r.now()
		r.mu.Unlock()
		return listing.Data, nil
	})
	if err != nil {
		if cached != nil {
			r.log.Warn("model listing refresh failed, serving stale", "error", err)
			return cached, nil
		}
		return nil, err
	}
	return fetched.([]Model), nil
}

// Run refreshes the listing on the TTL cadence until the context ends.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Models(ctx); err != nil {
				r.log.Warn("periodic model refresh failed", "error", err)
			}
		}
	}
}

// Filter returns the models satisfying the constraints as a new slice; the
// input is never modified.
func Filter(models []Model, c Constraints, now time.Time) []Model {
	var patterns []*regexp.Regexp
	for _, p := range c.ExcludePatterns {
		if expr, err := regexp.Compile(p); err == nil {
			patterns = append(patterns, expr)
		}
	}

	allowed := map[string]struct{}{}
	for _, v := range c.AllowedVendors {
		allowed[strings.ToLower(v)] = struct{}{}
	}

	out := make([]Model, 0, len(models))
next:
	for _, m := range models {
		if c.MaxPricePerMTok > 0 && m.PricePerMTok > c.MaxPricePerMTok {
			continue
		}
		if c.MaxAge > 0 && m.CreatedAt > 0 {
			if now.Sub(time.Unix(m.CreatedAt, 0)) > c.MaxAge {
				continue
			}
		}
		if len(allowed) > 0 {
			if _, ok := allowed[strings.ToLower(m.Vendor)]; !ok {
				continue
			}
		}
		for _, expr := range patterns {
			if expr.MatchString(m.ID) {
				continue next
			}
		}
		out = append(out, m)
	}
	return out
}
