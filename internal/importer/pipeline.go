package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/tmimport/internal/mapping"
)

// Pipeline runs importers in dependency order.
type Pipeline struct {
	importers []Importer
}

// NewPipeline returns a pipeline over the given importers, run in order.
func NewPipeline(importers ...Importer) *Pipeline {
	return &Pipeline{importers: importers}
}

// DefaultPipeline imports every entity of the export: reference entities,
// users, the project hierarchy, runs and results, issues, then the
// relationship tables.
func DefaultPipeline() *Pipeline {
	var imps []Importer
	for _, spec := range referenceSpecs {
		if spec.et == mapping.IssueTargets {
			continue
		}
		imps = append(imps, referenceImporter{spec: spec})
	}
	imps = append(imps,
		usersImporter{},
		groupMembersImporter,
		projectsImporter,
		milestonesImporter,
		sessionsImporter,
		repositoriesImporter,
		foldersImporter,
		casesImporter,
		caseStepsImporter,
		caseValuesImporter,
		automationCasesImporter,
		automationRunsImporter,
		automationRunTestsImporter,
		runsImporter,
		runCasesImporter,
		resultsImporter,
		resultStepsImporter,
		referenceImporter{spec: specFor(mapping.IssueTargets)},
		issuesImporter,
	)
	for _, rel := range relationImporters {
		imps = append(imps, rel)
	}
	imps = append(imps, linksImporter)
	return NewPipeline(imps...)
}

func specFor(et mapping.EntityType) referenceSpec {
	for _, s := range referenceSpecs {
		if s.et == et {
			return s
		}
	}
	panic(fmt.Sprintf("no reference spec for %s", et))
}

// Importers returns the importers in run order.
func (p *Pipeline) Importers() []Importer {
	return p.importers
}

// Plan sums the units every importer will process.
func (p *Pipeline) Plan(ctx context.Context, ic *Context) (int, error) {
	ic.withDefaults()
	total := 0
	for _, imp := range p.importers {
		n, err := imp.Plan(ctx, ic)
		if err != nil {
			return 0, fmt.Errorf("plan %s: %w", imp.Entity(), err)
		}
		total += n
	}
	return total, nil
}

// Run imports everything. Id maps are rebuilt from the durable entity
// mappings and the resolved configuration entries first, so a run that
// resumes after a failure continues where the last committed chunk left
// off. Cancellation is checked before every importer and every chunk.
func (p *Pipeline) Run(ctx context.Context, ic *Context) ([]Summary, error) {
	ic.withDefaults()
	if err := p.loadIDs(ctx, ic); err != nil {
		return nil, err
	}
	total, err := p.Plan(ctx, ic)
	if err != nil {
		return nil, err
	}
	ic.Tracker.SetTotal(total)
	ic.Logger.Info("import started", "job_id", ic.JobID, "importers", len(p.importers), "units", total)

	summaries := make([]Summary, 0, len(p.importers))
	for _, imp := range p.importers {
		if err := ic.checkCancel(ctx); err != nil {
			return summaries, err
		}
		start := time.Now()
		s, err := imp.Import(ctx, ic)
		if err != nil {
			return summaries, err
		}
		summaries = append(summaries, s)
		if s.Total > 0 {
			ic.Tracker.Summary(s.Entity, s.Total, s.Created, s.Mapped, s.Details)
		}
		ic.Logger.Debug("importer finished",
			"entity", s.Entity,
			"total", s.Total,
			"created", s.Created,
			"mapped", s.Mapped,
			"duration", time.Since(start))
		if err := ic.checkpoint(ctx); err != nil {
			return summaries, err
		}
	}
	ic.Tracker.Finish()
	return summaries, nil
}

func (p *Pipeline) loadIDs(ctx context.Context, ic *Context) error {
	mappings, err := ic.Staging.ListMappings(ctx, ic.JobID)
	if err != nil {
		return fmt.Errorf("load entity mappings: %w", err)
	}
	ic.IDs.Load(mappings)
	for _, et := range mapping.EntityTypes {
		for _, e := range ic.Config.Entries(et) {
			if r, ok := e.Decision.(mapping.Resolved); ok {
				ic.IDs.Set(string(et), e.SourceID, r.TargetID)
			}
		}
	}
	return nil
}
