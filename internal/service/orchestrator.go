package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"notice_ingest/internal/clock"
	"notice_ingest/internal/contenthash"
	"notice_ingest/internal/domain"
	"notice_ingest/internal/matcher"
	"notice_ingest/internal/scorer"
	"notice_ingest/internal/source"
)

const DefaultWorkers = 4

// Orchestrator runs ingestion passes over every active feed group.
type Orchestrator struct {
	groups     FeedGroupSource
	fetcher    Fetcher
	parsers    source.Registry
	matcher    *matcher.Matcher
	scorer     *scorer.Scorer
	watermarks WatermarkStore
	sink       IncidentSink
	txManager  TransactionManager
	publisher  Publisher
	clock      clock.Clock
	logger     *slog.Logger
	workers    int
}

// NewOrchestrator wires a pass runner. publisher may be nil.
func NewOrchestrator(
	groups FeedGroupSource,
	fetcher Fetcher,
	parsers source.Registry,
	sc *scorer.Scorer,
	watermarks WatermarkStore,
	sink IncidentSink,
	txManager TransactionManager,
	publisher Publisher,
	clk clock.Clock,
	logger *slog.Logger,
	workers int,
) *Orchestrator {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Orchestrator{
		groups:     groups,
		fetcher:    fetcher,
		parsers:    parsers,
		matcher:    matcher.New(logger),
		scorer:     sc,
		watermarks: watermarks,
		sink:       sink,
		txManager:  txManager,
		publisher:  publisher,
		clock:      clk,
		logger:     logger,
		workers:    workers,
	}
}

// Run processes every active feed group once. A failing group never stops
// the others. The returned stats are non-nil whenever the feed groups could
// be loaded; the error is domain.ErrSinkUnavailable when every group that
// reached the sink had all of its writes rejected.
func (o *Orchestrator) Run(ctx context.Context) (*domain.RunStats, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	runID := id.String()
	logger := o.logger.With("run_id", runID)
	startTime := time.Now()

	groups, err := o.groups.ActiveFeedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("load feed groups: %w", err)
	}

	logger.Info("starting ingest pass", "groups", len(groups), "workers", o.workers)

	stats := &domain.RunStats{
		RunID:     runID,
		StartedAt: o.clock.Now(),
		Groups:    make([]*domain.GroupStats, len(groups)),
	}

	var g errgroup.Group
	g.SetLimit(o.workers)
	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			stats.Groups[i] = o.runGroup(ctx, logger.With("feed", group.Slug), group)
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = time.Since(startTime)

	logger.Info("ingest pass completed",
		"groups", len(groups),
		"failed", stats.Failed(),
		"inserted", stats.Inserted(),
		"duration", stats.Duration,
	)

	if sinkUnavailable(stats.Groups) {
		return stats, domain.ErrSinkUnavailable
	}
	return stats, nil
}

func sinkUnavailable(groups []*domain.GroupStats) bool {
	attempted := 0
	for _, gs := range groups {
		if gs.Inserted+gs.Duplicates+gs.Errored == 0 {
			continue
		}
		attempted++
		if gs.Inserted+gs.Duplicates > 0 {
			return false
		}
	}
	return attempted > 0
}

type fetchResult struct {
	lang domain.Language
	body []byte
	err  error
}

func (o *Orchestrator) runGroup(ctx context.Context, logger *slog.Logger, group domain.FeedGroup) *domain.GroupStats {
	startTime := time.Now()
	gs := &domain.GroupStats{
		FeedSlug:  group.Slug,
		State:     domain.StatePending,
		Languages: make(map[domain.Language]*domain.LanguageStats),
	}
	defer func() {
		gs.Duration = time.Since(startTime)
		o.logGroup(logger, gs)
	}()

	parser, err := o.parsers.Lookup(group.Format)
	if err != nil {
		fail(gs, err)
		return gs
	}

	gs.State = domain.StateFetching
	fetched := o.fetchAll(ctx, logger, group)

	gs.State = domain.StateParsing
	items := make(map[domain.Language][]domain.RawFeedItem, len(fetched))
	var langErrs []error
	for _, res := range fetched {
		ls := &domain.LanguageStats{}
		gs.Languages[res.lang] = ls

		if res.err != nil {
			ls.Err = res.err
			langErrs = append(langErrs, fmt.Errorf("%s: %w", res.lang, res.err))
			continue
		}

		parsed, err := parser.Parse(res.body, group.Meta(res.lang))
		if err != nil {
			ls.Err = err
			langErrs = append(langErrs, fmt.Errorf("%s: %w", res.lang, err))
			logger.Warn("parse failed, language dropped", "lang", res.lang, "error", err)
			continue
		}

		fresh, err := o.filterByWatermark(ctx, group.Slug, res.lang, parsed)
		if err != nil {
			fail(gs, err)
			return gs
		}

		ls.Fetched = len(parsed)
		ls.New = len(fresh)
		gs.Fetched += ls.Fetched
		gs.New += ls.New
		items[res.lang] = fresh
	}

	if len(items) == 0 {
		reason := domain.ErrEmptyFeedGroup
		if len(langErrs) > 0 {
			reason = fmt.Errorf("%w: %w", domain.ErrEmptyFeedGroup, errors.Join(langErrs...))
		}
		fail(gs, reason)
		return gs
	}
	if len(langErrs) > 0 {
		gs.Warning = errors.Join(langErrs...)
	}
	if gs.Fetched == 0 {
		gs.State = domain.StateDone
		gs.Warning = errors.Join(domain.ErrEmptyFeedGroup, gs.Warning)
		return gs
	}
	if gs.New == 0 {
		gs.State = domain.StateDone
		return gs
	}

	gs.State = domain.StateMatching
	matched := o.matcher.Match(group, items)
	gs.Matched = len(matched.Bundles)
	gs.NearMisses = len(matched.NearMisses)

	gs.State = domain.StateScoring
	incidents := o.buildIncidents(group, matched.Bundles)

	gs.State = domain.StateUpserting
	result, err := o.sink.Upsert(ctx, incidents)
	if err != nil {
		gs.Errored = len(incidents)
		fail(gs, fmt.Errorf("upsert incidents: %w", err))
		return gs
	}

	var firstErr error
	for _, r := range result.Results {
		switch r.Outcome {
		case domain.OutcomeInserted:
			gs.Inserted++
		case domain.OutcomeDuplicate:
			gs.Duplicates++
		default:
			gs.Errored++
			if firstErr == nil {
				firstErr = r.Err
			}
			logger.Error("incident upsert failed", "content_hash", r.ContentHash, "error", r.Err)
		}
	}

	if gs.Inserted+gs.Duplicates == 0 {
		fail(gs, fmt.Errorf("%w: all %d incidents failed: %w", domain.ErrUpsert, gs.Errored, firstErr))
		return gs
	}
	if gs.Errored > 0 {
		gs.Warning = errors.Join(gs.Warning, fmt.Errorf("%w: %d of %d incidents failed", domain.ErrUpsert, gs.Errored, len(incidents)))
	}

	if err := o.advanceWatermarks(ctx, group.Slug, matched.Bundles, result); err != nil {
		logger.Error("advance watermarks", "error", err)
		gs.Warning = errors.Join(gs.Warning, err)
	}

	o.publish(ctx, logger, incidents, result, gs)

	gs.State = domain.StateDone
	return gs
}

func fail(gs *domain.GroupStats, reason error) {
	gs.State = domain.StateFailed
	gs.Reason = reason
}

// fetchAll fetches every configured language concurrently and waits for all
// of them to settle.
func (o *Orchestrator) fetchAll(ctx context.Context, logger *slog.Logger, group domain.FeedGroup) []fetchResult {
	langs := group.ConfiguredLanguages()
	results := make([]fetchResult, len(langs))

	var g errgroup.Group
	for i, lang := range langs {
		i, lang := i, lang
		g.Go(func() error {
			url := group.URLs[lang]
			body, err := o.fetcher.Fetch(ctx, url)
			if err != nil {
				logger.Warn("fetch failed, language dropped",
					"lang", lang,
					"host", group.Meta(lang).Host(),
					"error", err,
				)
			}
			results[i] = fetchResult{lang: lang, body: body, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (o *Orchestrator) filterByWatermark(ctx context.Context, slug string, lang domain.Language, items []domain.RawFeedItem) ([]domain.RawFeedItem, error) {
	wm, err := o.watermarks.GetWatermark(ctx, slug, lang)
	if err != nil {
		return nil, fmt.Errorf("get watermark %s/%s: %w", slug, lang, err)
	}
	if wm.IsZero() {
		return items, nil
	}

	fresh := make([]domain.RawFeedItem, 0, len(items))
	for _, item := range items {
		if item.PublishedAt.After(wm) {
			fresh = append(fresh, item)
		}
	}
	return fresh, nil
}

func (o *Orchestrator) buildIncidents(group domain.FeedGroup, bundles []domain.Bundle) []domain.Incident {
	now := o.clock.Now()
	incidents := make([]domain.Incident, 0, len(bundles))
	for _, b := range bundles {
		_, lead := b.Lead()
		score := o.scorer.Score(b, now)
		incidents = append(incidents, domain.Incident{
			ContentHash:       contenthash.Compute(group.Slug, lead.Title, lead.Body),
			FeedSlug:          group.Slug,
			Content:           b.Content,
			Category:          group.Category,
			Severity:          score.Severity,
			RelevanceScore:    score.Relevance,
			SourcePublishedAt: b.PublishedAt,
		})
	}
	return incidents
}

// advanceWatermarks moves each language to the newest stored item, capped
// below that language's earliest failed item so the failure is retried.
// Synthesized timestamps are ignored.
func (o *Orchestrator) advanceWatermarks(ctx context.Context, slug string, bundles []domain.Bundle, result domain.UpsertResult) error {
	earliestFailed := make(map[domain.Language]time.Time)
	for i, r := range result.Results {
		if r.Outcome != domain.OutcomeFailed || i >= len(bundles) {
			continue
		}
		for _, item := range bundleItems(bundles[i]) {
			cur, ok := earliestFailed[item.Language]
			if !ok || item.PublishedAt.Before(cur) {
				earliestFailed[item.Language] = item.PublishedAt
			}
		}
	}

	next := make(map[domain.Language]time.Time)
	for i, r := range result.Results {
		if r.Outcome == domain.OutcomeFailed || i >= len(bundles) {
			continue
		}
		// Near-miss losers count as seen once their key's winner is stored.
		for _, item := range bundleItems(bundles[i]) {
			if item.TimestampFallback {
				continue
			}
			if limit, ok := earliestFailed[item.Language]; ok && !item.PublishedAt.Before(limit) {
				continue
			}
			if item.PublishedAt.After(next[item.Language]) {
				next[item.Language] = item.PublishedAt
			}
		}
	}

	if len(next) == 0 {
		return nil
	}

	return o.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, lang := range domain.Languages {
			ts, ok := next[lang]
			if !ok {
				continue
			}
			if err := o.watermarks.SetWatermark(txCtx, slug, lang, ts); err != nil {
				return fmt.Errorf("set watermark %s/%s: %w", slug, lang, err)
			}
		}
		return nil
	})
}

func bundleItems(b domain.Bundle) []domain.RawFeedItem {
	if len(b.Dropped) == 0 {
		return b.Items
	}
	items := make([]domain.RawFeedItem, 0, len(b.Items)+len(b.Dropped))
	items = append(items, b.Items...)
	return append(items, b.Dropped...)
}

func (o *Orchestrator) publish(ctx context.Context, logger *slog.Logger, incidents []domain.Incident, result domain.UpsertResult, gs *domain.GroupStats) {
	if o.publisher == nil {
		return
	}
	for i, r := range result.Results {
		if r.Outcome != domain.OutcomeInserted || i >= len(incidents) {
			continue
		}
		if err := o.publisher.Publish(ctx, &incidents[i]); err != nil {
			gs.PublishErr++
			logger.Warn("publish incident", "content_hash", incidents[i].ContentHash, "error", err)
			continue
		}
		gs.Published++
	}
}

func (o *Orchestrator) logGroup(logger *slog.Logger, gs *domain.GroupStats) {
	attrs := []any{
		"state", gs.State.String(),
		"fetched", gs.Fetched,
		"new", gs.New,
		"matched", gs.Matched,
		"near_misses", gs.NearMisses,
		"inserted", gs.Inserted,
		"duplicates", gs.Duplicates,
		"errored", gs.Errored,
		"published", gs.Published,
		"duration", gs.Duration,
	}

	switch {
	case gs.State == domain.StateFailed && errors.Is(gs.Reason, domain.ErrEmptyFeedGroup):
		logger.Warn("feed group produced no items", append(attrs, "reason", gs.Reason)...)
	case gs.State == domain.StateFailed:
		logger.Error("feed group failed", append(attrs, "reason", gs.Reason)...)
	case gs.Warning != nil:
		logger.Warn("feed group completed with warnings", append(attrs, "warning", gs.Warning)...)
	default:
		logger.Info("feed group completed", attrs...)
	}
}
