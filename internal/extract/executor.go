package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/shopharvest/crawler/internal/engine"
	"github.com/shopharvest/crawler/internal/storage"
)

// defaultBlockedMarkers are body fragments that identify an anti-bot
// interstitial served with a 200 status.
var defaultBlockedMarkers = []string{
	"api-services-support@amazon.com",
	"Enter the characters you see below",
	"Robot Check",
}

// Config tunes the executor.
type Config struct {
	// MaxReviewPages caps how many review listing pages one product derives.
	MaxReviewPages int
	// BlockedMarkers overrides the default block-page detection fragments.
	BlockedMarkers []string
}

// Executor fetches a task's target page and parses it into the stage payload.
// Raw bodies are archived through the snapshot store before parsing, so
// parse failures remain reproducible.
type Executor struct {
	fetcher *Fetcher
	snaps   storage.SnapshotStore
	cfg     Config
	markers [][]byte
	logger  *zap.Logger
}

// NewExecutor builds an Executor. A nil snapshot store disables archiving.
func NewExecutor(fetcher *Fetcher, snaps storage.SnapshotStore, cfg Config, logger *zap.Logger) *Executor {
	if cfg.MaxReviewPages <= 0 {
		cfg.MaxReviewPages = 3
	}
	if snaps == nil {
		snaps = storage.NoopSnapshots{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	markerTexts := cfg.BlockedMarkers
	if len(markerTexts) == 0 {
		markerTexts = defaultBlockedMarkers
	}
	markers := make([][]byte, len(markerTexts))
	for i, m := range markerTexts {
		markers[i] = []byte(m)
	}
	return &Executor{
		fetcher: fetcher,
		snaps:   snaps,
		cfg:     cfg,
		markers: markers,
		logger:  logger,
	}
}

// Execute fetches and parses one task's target.
func (e *Executor) Execute(ctx context.Context, task *engine.Task, id engine.Identity) (*engine.Payload, error) {
	res, err := e.fetcher.Fetch(ctx, task.Target, id)
	if err != nil {
		return nil, err
	}

	if marker := e.blockedMarker(res.Body); marker != "" {
		return nil, engine.NewAttemptError(engine.KindBlocked,
			fmt.Errorf("block page detected: %q", marker))
	}

	if uri, err := e.snaps.Save(ctx, snapshotPath(task), res.ContentType, res.Body); err != nil {
		e.logger.Warn("snapshot upload failed",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	} else if uri != "" {
		e.logger.Debug("snapshot stored",
			zap.String("task_id", task.ID),
			zap.String("uri", uri),
		)
	}

	switch task.Stage {
	case engine.StageCategory:
		return ParseCategory(res.URL, res.Body)
	case engine.StageProduct:
		return ParseProduct(res.URL, res.Body, e.cfg.MaxReviewPages)
	case engine.StageReview:
		return ParseReview(res.URL, res.Body)
	default:
		return nil, engine.NewAttemptError(engine.KindParseFailure,
			fmt.Errorf("unknown stage %q", task.Stage))
	}
}

func (e *Executor) blockedMarker(body []byte) string {
	for _, m := range e.markers {
		if bytes.Contains(body, m) {
			return string(m)
		}
	}
	return ""
}

// snapshotPath derives a stable object path for a task's raw body.
func snapshotPath(task *engine.Task) string {
	key := task.Key
	if key == "" {
		key = sanitizePathSegment(task.Target)
	}
	return fmt.Sprintf("%s/%s.html", strings.ToLower(string(task.Stage)), key)
}

func sanitizePathSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		u = &url.URL{Path: raw}
	}
	segment := strings.Trim(u.Path, "/")
	if u.RawQuery != "" {
		segment += "-" + u.RawQuery
	}
	replacer := strings.NewReplacer("/", "-", "?", "-", "&", "-", "=", "-", "%", "-")
	segment = replacer.Replace(segment)
	if segment == "" {
		segment = "index"
	}
	return segment
}
