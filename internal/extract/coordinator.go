// Package extract drives a change detector and a source adapter, turning
// candidate nodes into a deduplicated stream of records.
package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/net/html"

	"ReplyScanner/internal/detect"
	"ReplyScanner/internal/domain"
	"ReplyScanner/internal/source"
)

// Coordinator owns one adapter, one detector wired to the adapter's
// selector, and the set of already-seen ids for the session. Delivery is
// gated by seen-set membership, so overlapping batches and forced rescans
// converge idempotently.
type Coordinator struct {
	adapter source.Adapter
	det     *detect.Detector
	onBatch func(records []domain.Record)
	log     *slog.Logger

	mu      sync.Mutex
	root    *html.Node
	seen    map[string]struct{}
	stopped bool
}

// New wires a coordinator over the live tree. onBatch receives only
// non-empty batches of newly-seen records.
func New(root *html.Node, adapter source.Adapter, cfg detect.Config, onBatch func(records []domain.Record), log *slog.Logger) (*Coordinator, error) {
	if adapter == nil {
		return nil, fmt.Errorf("extract: nil adapter")
	}
	if onBatch == nil {
		return nil, fmt.Errorf("extract: nil batch callback")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg.Selector = adapter.Selector()

	c := &Coordinator{
		adapter: adapter,
		onBatch: onBatch,
		log:     log,
		root:    root,
		seen:    map[string]struct{}{},
		stopped: true,
	}

	det, err := detect.New(root, cfg, func(batch []*html.Node) error {
		c.process(batch, false)
		return nil
	}, log.With("component", "detector"))
	if err != nil {
		return nil, err
	}
	c.det = det
	return c, nil
}

// Start begins observation; posts already in the tree are delivered by the
// detector's cold-start scan.
func (c *Coordinator) Start() {
	c.mu.Lock()
	c.stopped = false
	c.mu.Unlock()
	c.det.Start()
}

// Stop halts observation. A debounce callback that already fired finds the
// coordinator stopped and its output is discarded.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.det.Stop()
}

// Observe forwards a raw mutation batch from the host to the detector.
func (c *Coordinator) Observe(m detect.Mutation) { c.det.Observe(m) }

// ScrollPing forwards scroll activity to the detector.
func (c *Coordinator) ScrollPing() { c.det.ScrollPing() }

// Flush forces immediate processing of pending candidates.
func (c *Coordinator) Flush() { c.det.Flush() }

// ForceRescan runs the adapter's full-scan path and re-extracts every
// candidate ignoring the seen set; delivery is still deduplicated, so
// already-delivered records are not repeated.
func (c *Coordinator) ForceRescan() {
	c.mu.Lock()
	root := c.root
	c.mu.Unlock()
	c.process(c.adapter.FindCandidates(root), true)
}

// Seen reports whether an id has already been delivered.
func (c *Coordinator) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.seen[id]
	return ok
}

// ClearSeen resets the session dedup state.
func (c *Coordinator) ClearSeen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = map[string]struct{}{}
}

func (c *Coordinator) process(candidates []*html.Node, force bool) {
	var batch []domain.Record

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	for _, node := range candidates {
		id, ok := c.adapter.ID(node)
		if !ok {
			continue
		}
		if _, dup := c.seen[id]; dup && !force {
			continue
		}

		rec, err := c.adapter.Extract(node)
		if err != nil {
			var xerr *domain.ExtractionError
			if errors.As(err, &xerr) {
				c.log.Debug("candidate dropped", "source", xerr.SourceID, "reason", xerr.Reason)
			} else {
				c.log.Warn("candidate extraction failed", "error", err)
			}
			continue
		}

		if _, dup := c.seen[rec.ID]; dup {
			continue
		}
		c.seen[rec.ID] = struct{}{}
		batch = append(batch, *rec)
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	c.onBatch(batch)
}
