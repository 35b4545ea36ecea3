package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/climate-pipeline/internal/extract"
	"github.com/sells-group/climate-pipeline/internal/fetcher"
	"github.com/sells-group/climate-pipeline/internal/graph"
	"github.com/sells-group/climate-pipeline/internal/lake"
	"github.com/sells-group/climate-pipeline/internal/store"
	"github.com/sells-group/climate-pipeline/internal/years"
)

func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

func initLake(ctx context.Context) (lake.Store, error) {
	return lake.Open(ctx, lake.Options{
		Driver:    cfg.Lake.Driver,
		Root:      cfg.Lake.Root,
		Bucket:    cfg.Lake.Bucket,
		Endpoint:  cfg.Lake.Endpoint,
		AccessKey: cfg.Lake.AccessKey,
		SecretKey: cfg.Lake.SecretKey,
		UseSSL:    cfg.Lake.UseSSL,
		Region:    cfg.Lake.Region,
		Scheme:    cfg.Lake.Scheme,
	})
}

func initExtractors() []extract.Extractor {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent: cfg.Extract.UserAgent,
		Timeout:   time.Duration(cfg.Extract.TimeoutSecs) * time.Second,
	})
	return []extract.Extractor{
		extract.NewWorldBank(f, cfg.Extract.WorldBankURL),
		extract.NewClimateTrace(f, cfg.Extract.ClimateTraceURL),
	}
}

func presetOptions() graph.PresetOptions {
	return graph.PresetOptions{
		DataDir:   cfg.Extract.DataDir,
		Aggregate: !cfg.Combine.PartitionByYear,
	}
}

// resolveYears picks the year set for a pipeline. An explicit --years value
// wins over the configured one. Extraction reads extraction_years; the other
// pipelines read processing_years.
func resolveYears(p graph.Pipeline, override string, now time.Time) years.Resolution {
	var res years.Resolution
	switch {
	case override != "":
		res = years.Resolve(override, cfg.Fallback(now))
	case p == graph.PipelineExtraction:
		res = cfg.ResolveExtractionYears(now)
	default:
		res = cfg.ResolveProcessingYears(now)
	}
	zap.L().Info("years resolved",
		zap.String("pipeline", string(p)),
		zap.Ints("years", res.Years.Years()),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res
}

// buildGraph resolves years and materializes the graph of pipeline name.
func buildGraph(name, yearsOverride string, now time.Time) (graph.Pipeline, years.Set, *graph.TaskGraph, error) {
	p, err := graph.ParsePipeline(name)
	if err != nil {
		return "", years.Set{}, nil, err
	}
	ys := resolveYears(p, yearsOverride, now).Years

	t, err := graph.TemplatesFor(p, presetOptions())
	if err != nil {
		return "", years.Set{}, nil, err
	}
	g, err := graph.Build(ys, t)
	if err != nil {
		return "", years.Set{}, nil, eris.Wrap(err, "build graph")
	}
	return p, ys, g, nil
}
