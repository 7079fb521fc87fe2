package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/html"

	"ReplyScanner/internal/apiclient"
	"ReplyScanner/internal/config"
	"ReplyScanner/internal/detect"
	"ReplyScanner/internal/domain"
	"ReplyScanner/internal/extract"
	"ReplyScanner/internal/infrastructure/storage"
	"ReplyScanner/internal/logging"
	"ReplyScanner/internal/match"
	"ReplyScanner/internal/msgbus"
	"ReplyScanner/internal/refcache"
	"ReplyScanner/internal/source"
	"ReplyScanner/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg    config.Config
	log    *slog.Logger
	bus    *msgbus.Bus
	store  *storage.SQLiteStore
	reg    *source.Registry
	models *apiclient.Registry

	sessMu      sync.Mutex
	sessRoot    *html.Node
	sessAdapter source.Adapter
}

func (a *Application) setSession(root *html.Node, adapter source.Adapter) {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	a.sessRoot = root
	a.sessAdapter = adapter
}

// New builds a runnable application instance.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	store, err := storage.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return nil, err
	}

	client := apiclient.New(apiclient.Config{
		BaseURL:     cfg.API.BaseURL,
		APIKey:      cfg.API.APIKey,
		Timeout:     cfg.API.Timeout(),
		MaxAttempts: cfg.API.MaxAttempts,
	}, logging.Component(baseLogger, "apiclient"))

	models := apiclient.NewRegistry(client, "/models", cfg.Models.RefreshTTL(),
		logging.Component(baseLogger, "models"))

	refCache := refcache.New(cfg.Reference.FeedURL, nil, logging.Component(baseLogger, "refcache"))

	lexical := match.NewLexicalScorer()
	semantic := match.NewSemanticScorer(client, match.SemanticConfig{
		Model:         cfg.API.Model,
		StyleExamples: cfg.Matching.StyleExamples,
		Timeout:       cfg.API.Timeout(),
	}, logging.Component(baseLogger, "semantic"))
	engine := match.NewEngine(logging.Component(baseLogger, "match"), lexical, semantic)

	var heat match.HeatChecker
	if cfg.Matching.HeatCheck {
		heat = match.NewAPIHeatChecker(client, cfg.API.Model, cfg.API.Timeout())
	}

	reg := source.NewRegistry()
	for _, site := range cfg.Sources {
		reg.Register(source.NewTimelineAdapter(source.TimelineConfig{
			Name:           site.Name,
			Hosts:          site.Hosts,
			FeedPathPrefix: site.FeedPathPrefix,
			PermalinkBase:  site.PermalinkBase,
		}, logging.Component(baseLogger, "adapter."+site.Name)))
	}

	bus := msgbus.New(logging.Component(baseLogger, "msgbus"))

	app := &Application{
		cfg:    cfg,
		log:    baseLogger,
		bus:    bus,
		store:  store,
		reg:    reg,
		models: models,
	}

	usecase.NewService(usecase.ServiceDeps{
		Bus:          bus,
		Records:      store,
		Results:      store,
		Reference:    refCache,
		Engine:       engine,
		Heat:         heat,
		Locator:      app,
		Strategy:     domain.Strategy(cfg.Matching.Strategy),
		ReferenceTTL: cfg.Reference.TTL(),
		Threshold:    cfg.Matching.Threshold,
		Logger:       logging.Component(baseLogger, "service"),
	})

	return app, nil
}

// Close releases resources owned by the application.
func (a *Application) Close() error {
	return a.store.Close()
}

// Locate is the LOCATE_RECORD hook into the current session tree.
func (a *Application) Locate(id string) bool {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	if a.sessRoot == nil || a.sessAdapter == nil {
		return false
	}
	return a.sessAdapter.Locate(a.sessRoot, id)
}

// Run performs a single scan-and-match pass over the configured page: the
// extraction side delivers batches through the bus, then one matching pass
// is requested.
func (a *Application) Run(ctx context.Context) error {
	go a.models.Run(ctx)

	for _, site := range a.cfg.Sources {
		if site.PageURL == "" {
			continue
		}
		if err := a.runSite(ctx, site); err != nil {
			return err
		}
	}

	var res msgbus.RunMatchingResult
	if err := a.bus.Send(ctx, msgbus.TypeRunMatching, msgbus.RunMatching{}, &res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("matching failed: %s", res.Error)
	}
	a.log.Info("run complete", "matched", res.Matched)
	return nil
}

func (a *Application) runSite(ctx context.Context, site config.SourceConfig) error {
	adapter, err := a.reg.Resolve(site.PageURL)
	if err != nil {
		a.log.Warn("page not claimed by any adapter", "page", site.PageURL)
		return nil
	}

	if err := a.bus.Send(ctx, msgbus.TypeSourceReady, msgbus.SourceReady{
		SourceID:       adapter.Name(),
		PageURL:        site.PageURL,
		IsRelevantPage: true,
	}, nil); err != nil {
		return err
	}

	root, err := a.fetchTree(ctx, site.PageURL)
	if err != nil {
		return err
	}
	a.setSession(root, adapter)
	defer a.setSession(nil, nil)

	coord, err := extract.New(root, adapter, detect.Config{
		Debounce:     a.cfg.Detector.Debounce(),
		ScrollSettle: a.cfg.Detector.ScrollSettle(),
	}, func(records []domain.Record) {
		var stored msgbus.RecordsStored
		err := a.bus.Send(ctx, msgbus.TypeRecordsExtracted, msgbus.RecordsExtracted{
			Records:  records,
			SourceID: adapter.Name(),
			PageURL:  site.PageURL,
		}, &stored)
		if err != nil {
			a.log.Error("record delivery failed", "error", err)
			return
		}
		a.log.Info("batch delivered", "records", len(records),
			"stored", stored.StoredCount, "duplicates", stored.DuplicateCount)
	}, logging.Component(a.log, "extract."+adapter.Name()))
	if err != nil {
		return err
	}

	coord.Start()
	coord.Flush()
	coord.Stop()
	return nil
}

func (a *Application) fetchTree(ctx context.Context, pageURL string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build page request: %w", err)
	}
	req.Header.Set("User-Agent", "ReplyScanner/1.0")

	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned %s", resp.Status)
	}

	root, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return root, nil
}
