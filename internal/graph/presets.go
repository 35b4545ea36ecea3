package graph

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/climate-pipeline/internal/partition"
	"github.com/sells-group/climate-pipeline/internal/schema"
	"github.com/sells-group/climate-pipeline/internal/years"
)

// Pipeline selects one of the built-in template sets.
type Pipeline string

const (
	PipelineExtraction Pipeline = "extraction"
	PipelineProcessing Pipeline = "processing"
	PipelineFull       Pipeline = "full"
)

// Pipelines lists every built-in pipeline.
func Pipelines() []Pipeline {
	return []Pipeline{PipelineExtraction, PipelineProcessing, PipelineFull}
}

// ParsePipeline converts a pipeline name into a Pipeline.
func ParsePipeline(s string) (Pipeline, error) {
	p := Pipeline(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Pipelines() {
		if p == known {
			return p, nil
		}
	}
	return "", eris.Errorf("graph: unknown pipeline %q (valid: extraction, processing, full)", s)
}

const (
	CombineID         = "combine_data"
	CombineCatalogID  = "create_combined_bq_table"
	CombinedTableName = "combined_climate_economic"
)

// PresetOptions parameterizes the built-in templates.
type PresetOptions struct {
	// DataDir is the local directory extract stages write raw files into.
	DataDir string
	// Aggregate writes a single combined file instead of one partition per year.
	Aggregate bool
}

type sourceNames struct {
	extractID   string
	transferID  string
	transformID string
	catalogID   string
	table       string
}

func namesFor(src schema.Source) sourceNames {
	abbrev := schema.MustFor(src).Abbrev
	s := string(src)
	return sourceNames{
		extractID:   "extract_" + s + "_data_" + years.Placeholder,
		transferID:  "upload_" + s + "_to_gcs_" + years.Placeholder,
		transformID: "process_" + s + "_data_" + years.Placeholder,
		catalogID:   "create_" + abbrev + "_bq_table_" + years.Placeholder,
		table:       s + "_data_" + years.Placeholder,
	}
}

func localRawPattern(dataDir string, src schema.Source) string {
	pattern := partition.RawPattern(src)
	return filepath.Join(dataDir, string(src), pattern[strings.LastIndex(pattern, "/")+1:])
}

func extractionStages(src schema.Source, opts PresetOptions) []StageTemplate {
	n := namesFor(src)
	local := localRawPattern(opts.DataDir, src)
	return []StageTemplate{
		{Kind: KindExtract, ID: n.extractID, Output: local},
		{Kind: KindTransfer, ID: n.transferID, Inputs: []string{local}, Output: partition.RawPattern(src)},
	}
}

func processingStages(src schema.Source) []StageTemplate {
	n := namesFor(src)
	canonical := partition.CanonicalPattern(src)
	return []StageTemplate{
		{Kind: KindTransform, ID: n.transformID, Inputs: []string{partition.RawPattern(src)}, Output: canonical},
		{Kind: KindCatalog, ID: n.catalogID, Inputs: []string{canonical}, Table: n.table},
	}
}

func combineTemplates(opts PresetOptions) (*StageTemplate, *StageTemplate) {
	out := partition.CombinedPattern
	if opts.Aggregate {
		out = partition.AggregateKey
	}
	var inputs []string
	for _, src := range schema.Sources() {
		inputs = append(inputs, partition.CanonicalPattern(src))
	}
	combine := &StageTemplate{Kind: KindCombine, ID: CombineID, Inputs: inputs, Output: out}
	catalog := &StageTemplate{Kind: KindCatalog, ID: CombineCatalogID, Inputs: []string{out}, Table: CombinedTableName}
	return combine, catalog
}

// ExtractionTemplates builds extract -> transfer per source. There is no
// fan-in stage.
func ExtractionTemplates(opts PresetOptions) Templates {
	var t Templates
	for _, src := range schema.Sources() {
		t.Branches = append(t.Branches, BranchTemplate{Name: string(src), Stages: extractionStages(src, opts)})
	}
	return t
}

// ProcessingTemplates builds transform -> catalog per source plus the
// combine and combined catalog stages.
func ProcessingTemplates(opts PresetOptions) Templates {
	var t Templates
	for _, src := range schema.Sources() {
		t.Branches = append(t.Branches, BranchTemplate{Name: string(src), Stages: processingStages(src)})
	}
	t.Combine, t.CombineCatalog = combineTemplates(opts)
	return t
}

// FullTemplates chains extraction and processing into one branch per source.
func FullTemplates(opts PresetOptions) Templates {
	var t Templates
	for _, src := range schema.Sources() {
		stages := append(extractionStages(src, opts), processingStages(src)...)
		t.Branches = append(t.Branches, BranchTemplate{Name: string(src), Stages: stages})
	}
	t.Combine, t.CombineCatalog = combineTemplates(opts)
	return t
}

// TemplatesFor returns the template set of p.
func TemplatesFor(p Pipeline, opts PresetOptions) (Templates, error) {
	switch p {
	case PipelineExtraction:
		return ExtractionTemplates(opts), nil
	case PipelineProcessing:
		return ProcessingTemplates(opts), nil
	case PipelineFull:
		return FullTemplates(opts), nil
	default:
		return Templates{}, eris.Errorf("graph: unknown pipeline %q", p)
	}
}
