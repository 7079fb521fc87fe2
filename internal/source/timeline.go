package source

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"ReplyScanner/internal/domain"
)

// hashPrefixRunes is the fixed-length content prefix the fallback id is
// derived from. Two posts sharing an identical prefix collapse to one id;
// this is an accepted approximation, not a bug.
const hashPrefixRunes = 120

var spaceExpr = regexp.MustCompile(`\s+`)

// TimelineConfig describes one activity-stream site handled by the
// timeline adapter.
type TimelineConfig struct {
	// Name becomes Record.SourceID.
	Name string
	// Hosts lists hostnames this adapter claims.
	Hosts []string
	// FeedPathPrefix restricts relevant pages, e.g. "/feed".
	FeedPathPrefix string
	// PermalinkBase is prepended to record ids to build canonical URLs.
	PermalinkBase string
}

// TimelineAdapter extracts records from activity-stream markup: each post
// is an <article class="activity"> carrying a data-activity-id attribute,
// with author, body, media, and social counters in fixed child slots.
type TimelineAdapter struct {
	cfg TimelineConfig
	log *slog.Logger
}

var _ Adapter = (*TimelineAdapter)(nil)

// NewTimelineAdapter wires a config-described site.
func NewTimelineAdapter(cfg TimelineConfig, log *slog.Logger) *TimelineAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &TimelineAdapter{cfg: cfg, log: log}
}

// Name identifies the source inside the registry.
func (a *TimelineAdapter) Name() string { return a.cfg.Name }

// Selector is the target predicate for the change detector.
func (a *TimelineAdapter) Selector() string { return "article.activity" }

// IsRelevantPage claims feed pages on the configured hosts.
func (a *TimelineAdapter) IsRelevantPage(pageURL string) bool {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, h := range a.cfg.Hosts {
		if host != strings.ToLower(h) {
			continue
		}
		if a.cfg.FeedPathPrefix == "" || strings.HasPrefix(parsed.Path, a.cfg.FeedPathPrefix) {
			return true
		}
	}
	return false
}

// FindCandidates scans the whole tree for post nodes.
func (a *TimelineAdapter) FindCandidates(root *html.Node) []*html.Node {
	var nodes []*html.Node
	goquery.NewDocumentFromNode(root).Find(a.Selector()).Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, s.Get(0))
	})
	return nodes
}

// ID resolves the stable identifier for a candidate. Resolution order:
// the post's own data-activity-id, then the closest ancestor data-urn,
// then a hash of the content prefix.
func (a *TimelineAdapter) ID(node *html.Node) (string, bool) {
	if id := attr(node, "data-activity-id"); id != "" {
		return id, true
	}
	for p := node.Parent; p != nil; p = p.Parent {
		if urn := attr(p, "data-urn"); urn != "" {
			return urn, true
		}
	}
	content := normalizeText(goquery.NewDocumentFromNode(node).Find(".activity-body").First().Text())
	if content == "" {
		return "", false
	}
	return contentHashID(content), true
}

// Extract normalizes a candidate into a record. It rejects promoted posts
// and posts missing a resolvable author or content; internal failures come
// back as *domain.ExtractionError, never a panic.
func (a *TimelineAdapter) Extract(node *html.Node) (*domain.Record, error) {
	id, ok := a.ID(node)
	if !ok {
		return nil, &domain.ExtractionError{SourceID: a.cfg.Name, Reason: "no resolvable id"}
	}

	sel := goquery.NewDocumentFromNode(node).Selection
	if attr(node, "data-promoted") == "true" || sel.Find(".promoted-label").Length() > 0 {
		return nil, &domain.ExtractionError{SourceID: a.cfg.Name, Reason: "promoted content"}
	}

	author := normalizeText(sel.Find(".activity-header .author-name").First().Text())
	content := normalizeText(sel.Find(".activity-body").First().Text())
	if author == "" {
		return nil, &domain.ExtractionError{SourceID: a.cfg.Name, Reason: "missing author"}
	}
	if content == "" {
		return nil, &domain.ExtractionError{SourceID: a.cfg.Name, Reason: "missing content"}
	}

	rec := &domain.Record{
		ID:          id,
		SourceID:    a.cfg.Name,
		URL:         a.Permalink(id),
		AuthorName:  author,
		Content:     content,
		ContentType: classifyContent(sel),
		ExtractedAt: time.Now().UTC(),
	}

	if ts, exists := sel.Find("time.activity-time").First().Attr("datetime"); exists {
		if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(ts)); err == nil {
			utc := parsed.UTC()
			rec.PublishedAt = &utc
		}
	}

	if counts := extractCounts(sel); counts != nil {
		rec.Engagement = counts
	}

	if repost := sel.Find(".repost-of").First(); repost.Length() > 0 {
		rec.IsRepost = true
		orig := &domain.OriginalRecord{
			AuthorName: normalizeText(repost.Find(".author-name").First().Text()),
			Content:    normalizeText(repost.Find(".activity-body").First().Text()),
		}
		if orig.AuthorName != "" || orig.Content != "" {
			rec.Original = orig
		}
	}

	return rec, nil
}

// Permalink builds the canonical URL for a record id.
func (a *TimelineAdapter) Permalink(id string) string {
	return strings.TrimSuffix(a.cfg.PermalinkBase, "/") + "/" + url.PathEscape(id)
}

// Locate reports whether the record is present in the current tree.
func (a *TimelineAdapter) Locate(root *html.Node, id string) bool {
	for _, node := range a.FindCandidates(root) {
		if candidate, ok := a.ID(node); ok && candidate == id {
			return true
		}
	}
	return false
}

func classifyContent(sel *goquery.Selection) domain.ContentType {
	media := sel.Find(".activity-media").First()
	switch {
	case sel.Find(".poll-options").Length() > 0:
		return domain.ContentPoll
	case media.Find(".document-frame").Length() > 0:
		return domain.ContentDocument
	case media.Find("video").Length() > 0:
		return domain.ContentVideo
	case media.Find("a.article-card").Length() > 0:
		return domain.ContentArticle
	case media.Find("img").Length() > 0:
		return domain.ContentImage
	default:
		return domain.ContentText
	}
}

func extractCounts(sel *goquery.Selection) *domain.EngagementCounts {
	social := sel.Find(".activity-social").First()
	if social.Length() == 0 {
		return nil
	}
	return &domain.EngagementCounts{
		Reactions: parseCount(social.Find(".reactions-count").First().Text()),
		Comments:  parseCount(social.Find(".comments-count").First().Text()),
		Reposts:   parseCount(social.Find(".reposts-count").First().Text()),
	}
}

// parseCount tolerates "1,234", "1.2K" and "3M" style counters.
func parseCount(raw string) int {
	raw = strings.ToUpper(strings.ReplaceAll(normalizeText(raw), ",", ""))
	if raw == "" {
		return 0
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(raw, "K"):
		mult, raw = 1e3, strings.TrimSuffix(raw, "K")
	case strings.HasSuffix(raw, "M"):
		mult, raw = 1e6, strings.TrimSuffix(raw, "M")
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return int(value * mult)
}

func contentHashID(content string) string {
	runes := []rune(content)
	if len(runes) > hashPrefixRunes {
		runes = runes[:hashPrefixRunes]
	}
	sum := sha256.Sum256([]byte(string(runes)))
	return fmt.Sprintf("hash:%s", hex.EncodeToString(sum[:8]))
}

func normalizeText(s string) string {
	return strings.TrimSpace(spaceExpr.ReplaceAllString(s, " "))
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
