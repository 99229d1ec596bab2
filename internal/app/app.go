package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/civicdata/healthsnap/internal/discover"
	"github.com/civicdata/healthsnap/internal/fetch"
	"github.com/civicdata/healthsnap/internal/router"
	"github.com/civicdata/healthsnap/internal/schema"
	"github.com/civicdata/healthsnap/internal/snapshot"
)

// App sequences discovery, fetch, extraction, and assembly for every
// configured dataset, isolating per-dataset failures.
type App struct {
	cfg      Config
	renderer discover.Renderer
	fetcher  *fetch.Client
	router   *router.Router
	writer   *snapshot.Writer
}

// New wires the pipeline. The renderer is injected because the browser
// session is owned by the caller (acquired before the run, released on all
// exit paths).
func New(cfg Config, renderer discover.Renderer) *App {
	return &App{
		cfg:      cfg,
		renderer: renderer,
		fetcher: &fetch.Client{
			UserAgent:         cfg.UserAgent,
			MaxAttempts:       cfg.FetchMaxAttempts,
			Backoff:           cfg.FetchBackoff,
			PerRequestTimeout: cfg.FetchTimeout,
			MaxConcurrent:     cfg.Workers * 2,
		},
		router: router.New(),
		writer: &snapshot.Writer{Dir: cfg.OutputDir},
	}
}

// Run executes one pipeline run: a single serialized discovery pass, then
// per-dataset pipelines on a bounded worker pool. Every dataset ends in a
// terminal state; errors local to one dataset never abort its siblings.
func (a *App) Run(ctx context.Context) *RunReport {
	runCtx := ctx
	if a.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.cfg.RunTimeout)
		defer cancel()
	}

	tags := make([]string, 0, len(a.cfg.Datasets))
	for _, d := range a.cfg.Datasets {
		tags = append(tags, d.Tag)
	}
	report := NewRunReport(a.cfg.RunDate, tags)

	// One shared discovery pass: the rendering session is expensive and
	// serialized, so it is not parallelized across datasets.
	for _, tag := range tags {
		report.SetState(tag, StateDiscovering)
	}
	d := &discover.Discoverer{Renderer: a.renderer, BaseURL: a.cfg.BaseURL}
	refs, tagErrs, err := d.Discover(runCtx, a.cfg.Datasets)
	if err != nil {
		// Rendering failed outright; every dataset fails, prior
		// snapshots stay untouched.
		log.Error().Err(err).Msg("discovery failed for all datasets")
		for _, tag := range tags {
			report.Fail(tag, a.classify(runCtx, err))
		}
		return report
	}
	for tag, terr := range tagErrs {
		log.Warn().Str("dataset", tag).Err(terr).Msg("discovery found no link")
		report.Fail(tag, terr)
	}

	var g errgroup.Group
	g.SetLimit(a.cfg.Workers)
	for _, spec := range a.cfg.Datasets {
		found := refs[spec.Tag]
		if len(found) == 0 {
			continue
		}
		spec := spec
		g.Go(func() error {
			a.runDataset(runCtx, spec, found, report)
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// runDataset drives one dataset from fetching through its terminal state.
func (a *App) runDataset(ctx context.Context, spec *schema.DatasetSpec, refs []schema.DocumentRef, report *RunReport) {
	tag := spec.Tag
	var records []schema.ExtractedRecord
	for _, ref := range refs {
		if ctx.Err() != nil {
			report.Fail(tag, a.classify(ctx, ctx.Err()))
			return
		}
		report.SetState(tag, StateFetching)
		raw, err := a.fetcher.Fetch(ctx, ref)
		if err != nil {
			log.Warn().Str("dataset", tag).Str("url", ref.URL).Err(err).Msg("fetch failed; skipping document")
			report.AddError(tag, a.classify(ctx, err))
			continue
		}
		report.SetState(tag, StateExtracting)
		recs, err := a.router.Extract(raw, spec)
		if err != nil {
			log.Warn().Str("dataset", tag).Str("url", ref.URL).Err(err).Msg("extraction failed; skipping document")
			report.AddError(tag, err)
			continue
		}
		records = append(records, recs...)
	}
	if len(records) == 0 {
		report.Fail(tag, errors.New("no documents extracted"))
		return
	}

	snap := snapshot.Assemble(spec, a.cfg.RunDate, records)
	path, err := a.writer.Write(snap, spec)
	if err != nil {
		report.Fail(tag, err)
		return
	}
	report.Assembled(tag, path, len(snap.Records))
	log.Info().Str("dataset", tag).Int("records", len(snap.Records)).Str("snapshot", path).Msg("snapshot written")
}

// classify maps a run-timeout cancellation onto ErrRunTimeout so the
// report distinguishes "we ran out of wall clock" from document errors.
func (a *App) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", schema.ErrRunTimeout, err)
	}
	return err
}
