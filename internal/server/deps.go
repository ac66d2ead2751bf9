package server

import (
	"context"
	"fmt"
	"log"

	"github.com/this-is-us/civicd/config"
	"github.com/this-is-us/civicd/internal/enrich"
	"github.com/this-is-us/civicd/internal/resolver"
	"github.com/this-is-us/civicd/internal/review"
	"github.com/this-is-us/civicd/internal/store"
	"github.com/this-is-us/civicd/internal/textsource"
	"github.com/this-is-us/civicd/internal/worker"
	"github.com/this-is-us/civicd/provider"
)

// Deps bundles the wired pipeline shared by the server and the CLI
// commands.
type Deps struct {
	Store    *store.Store
	Caps     store.Capabilities
	Pipeline *review.Pipeline
	Scanner  *worker.Scanner
	Ladder   *textsource.Ladder
	Tagger   *enrich.TopicTagger
	leaser   *worker.RedisLeaser
}

// BuildDeps connects storage and the model provider and assembles the
// resolution, enrichment and review pipeline. Optional pieces degrade:
// missing tables disable their features and an unconfigured Redis
// disables scan leasing.
func BuildDeps(ctx context.Context, cfg *config.Config) (*Deps, error) {
	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return nil, err
	}
	caps, err := st.Capabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("probe schema capabilities: %w", err)
	}

	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}

	profiles, err := config.LoadProfiles(cfg.Resolver.ProfilesFile)
	if err != nil {
		return nil, err
	}

	var docCache resolver.DocumentCache
	if caps.DocumentCacheTable {
		docCache = st
	}
	res := resolver.New(log.New(log.Writer(), "[RESOLVE] ", log.LstdFlags), cfg.Resolver, profiles, docCache)

	var extractor textsource.BinaryExtractor
	if e := textsource.NewHTTPExtractor(cfg.Ladder.ExtractorEndpoint, cfg.Ladder.FetchTimeout); e != nil {
		extractor = e
	}
	ladder := textsource.New(log.New(log.Writer(), "[LADDER] ", log.LstdFlags), cfg.Ladder, res, extractor, "wyoleg")

	enrichLogger := log.New(log.Writer(), "[ENRICH] ", log.LstdFlags)
	summaries := enrich.NewSummaryGenerator(enrichLogger, llm, cfg.LLM.Model, st, 0)
	var tagger *enrich.TopicTagger
	if caps.HotTopicsTables {
		tagger = enrich.NewTopicTagger(enrichLogger, llm, cfg.LLM.Model, st)
	}

	pipeline := review.New(log.New(log.Writer(), "[REVIEW] ", log.LstdFlags),
		cfg.Review, st, caps, ladder, summaries, tagger, llm, cfg.LLM.MiniModel)

	leaser, err := worker.NewRedisLeaser(ctx, cfg.Storage.Redis)
	if err != nil {
		return nil, err
	}
	var leaserIface worker.Leaser
	if leaser != nil {
		leaserIface = leaser
	}
	var sponsors worker.SponsorSource
	if cfg.Ladder.BillInfoEndpoint != "" {
		sponsors = ladder
	}
	scanner := worker.NewScanner(log.New(log.Writer(), "[SCAN] ", log.LstdFlags),
		cfg.Scan, st, pipeline, sponsors, caps, leaserIface)

	return &Deps{
		Store:    st,
		Caps:     caps,
		Pipeline: pipeline,
		Scanner:  scanner,
		Ladder:   ladder,
		Tagger:   tagger,
		leaser:   leaser,
	}, nil
}

// Close releases the connections held by the bundle.
func (d *Deps) Close() error {
	if d.leaser != nil {
		_ = d.leaser.Close()
	}
	return d.Store.DB.Close()
}
