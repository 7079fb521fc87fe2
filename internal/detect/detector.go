package detect

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

const (
	// MinDebounce is the floor applied to caller-requested debounce
	// intervals; requests below it get the floor silently.
	MinDebounce = 100 * time.Millisecond

	defaultDebounce     = 300 * time.Millisecond
	defaultScrollSettle = 200 * time.Millisecond
)

// Mutation is one batch of raw changes delivered by the host owning the
// live tree.
type Mutation struct {
	Added   []*html.Node
	Removed []*html.Node
}

// Config tunes one Detector instance.
type Config struct {
	// Selector describes which nodes count as posts. An addition matches
	// when the node itself or any descendant satisfies it.
	Selector string
	// Debounce is the quiet period before an accumulated batch is
	// delivered. Values below MinDebounce are clamped up.
	Debounce time.Duration
	// ScrollSettle is the shorter, independent quiet period after scroll
	// activity that triggers an advisory full re-scan.
	ScrollSettle time.Duration
}

// Detector watches a live HTML tree for added post nodes and delivers them
// in debounced batches. It owns its timers; Stop cancels them and no batch
// is delivered afterwards.
type Detector struct {
	matcher cascadia.Matcher
	deliver func(batch []*html.Node) error

	debounce time.Duration
	settle   time.Duration
	log      *slog.Logger

	mu          sync.Mutex
	root        *html.Node
	pending     []*html.Node
	pendingSet  map[*html.Node]struct{}
	processed   map[*html.Node]struct{}
	timer       *time.Timer
	settleTimer *time.Timer
	started     bool
}

// New compiles the selector and prepares a stopped detector. The deliver
// callback receives each batch; an error from it is logged and never
// unobserves the tree.
func New(root *html.Node, cfg Config, deliver func(batch []*html.Node) error, log *slog.Logger) (*Detector, error) {
	if root == nil {
		return nil, fmt.Errorf("detect: nil tree root")
	}
	if deliver == nil {
		return nil, fmt.Errorf("detect: nil deliver callback")
	}
	matcher, err := cascadia.Compile(cfg.Selector)
	if err != nil {
		return nil, fmt.Errorf("detect: compile selector %q: %w", cfg.Selector, err)
	}

	debounce := cfg.Debounce
	if debounce < MinDebounce {
		debounce = MinDebounce
	}
	if cfg.Debounce == 0 {
		debounce = defaultDebounce
	}
	settle := cfg.ScrollSettle
	if settle <= 0 {
		settle = defaultScrollSettle
	}
	if log == nil {
		log = slog.Default()
	}

	return &Detector{
		matcher:    matcher,
		deliver:    deliver,
		debounce:   debounce,
		settle:     settle,
		log:        log,
		root:       root,
		pendingSet: map[*html.Node]struct{}{},
		processed:  map[*html.Node]struct{}{},
	}, nil
}

// Start begins observation. The tree is scanned once immediately so posts
// already present are delivered exactly like a mutation batch.
func (d *Detector) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	added := cascadia.QueryAll(d.root, d.matcher)
	d.enqueueLocked(added)
	d.mu.Unlock()
}

// Stop ends observation, cancels owned timers, and releases internal
// references. An already-fired timer finds started=false and discards its
// batch.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.settleTimer != nil {
		d.settleTimer.Stop()
		d.settleTimer = nil
	}
	d.pending = nil
	d.pendingSet = map[*html.Node]struct{}{}
	d.processed = map[*html.Node]struct{}{}
}

// Observe feeds one raw mutation batch from the host. Additions are
// filtered to nodes whose element or any descendant matches the selector;
// removals evict the processed markers so detached nodes cost nothing.
func (d *Detector) Observe(m Mutation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}

	for _, n := range m.Removed {
		d.evictLocked(n)
	}

	var matched []*html.Node
	for _, n := range m.Added {
		if n.Type == html.ElementNode && d.matcher.Match(n) {
			matched = append(matched, n)
		}
		matched = append(matched, cascadia.QueryAll(n, d.matcher)...)
	}
	d.enqueueLocked(matched)
}

// ScrollPing notes scroll activity. Once it settles, a full re-scan is
// scheduled to catch nodes the mutation stream missed (virtualized or
// recycled elements). The re-scan is advisory and duplicate-tolerant.
func (d *Detector) ScrollPing() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	if d.settleTimer != nil {
		d.settleTimer.Stop()
	}
	d.settleTimer = time.AfterFunc(d.settle, d.rescan)
}

// Flush forces immediate delivery of anything pending.
func (d *Detector) Flush() {
	d.fire()
}

func (d *Detector) enqueueLocked(nodes []*html.Node) {
	grew := false
	for _, n := range nodes {
		if _, done := d.processed[n]; done {
			continue
		}
		if _, queued := d.pendingSet[n]; queued {
			continue
		}
		d.pendingSet[n] = struct{}{}
		d.pending = append(d.pending, n)
		grew = true
	}
	if !grew {
		return
	}
	// Every new candidate resets the quiet period so bursts coalesce
	// into a single downstream call.
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.fire)
}

func (d *Detector) fire() {
	d.mu.Lock()
	if !d.started || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := d.pending
	d.pending = nil
	d.pendingSet = map[*html.Node]struct{}{}
	for _, n := range batch {
		d.processed[n] = struct{}{}
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if err := d.deliver(batch); err != nil {
		d.log.Error("detector batch delivery failed", "error", err, "batch", len(batch))
	}
}

func (d *Detector) rescan() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	found := cascadia.QueryAll(d.root, d.matcher)
	d.enqueueLocked(found)
	d.mu.Unlock()
}

// evictLocked drops processed markers for the node and every descendant.
func (d *Detector) evictLocked(n *html.Node) {
	delete(d.processed, n)
	delete(d.pendingSet, n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.evictLocked(c)
	}
}
