package dataset

import (
	"fmt"

	"github.com/raphaelgruber/tmimport/internal/jsonstream"
	"github.com/raphaelgruber/tmimport/internal/models"
)

// RowSink receives each staged row in document order.
type RowSink func(models.StagingRow) error

// Options configure an Assembler.
type Options struct {
	JobID            string
	SampleRowLimit   int
	SampleValueLimit int
	Sanitizers       []Sanitizer
}

type frame struct {
	role    Role
	key     string
	hasKey  bool
	dataset string
	capture *builder // RoleRows children and RoleSchema
	depth   int      // RoleOpaque nesting
}

// Assembler is a pushdown automaton over token events. Containers push a
// frame tagged with their role; a row or schema object pushes a capture
// frame that swallows every event until the object closes.
type Assembler struct {
	opts      Options
	sink      RowSink
	stack     []frame
	summaries map[string]*summary
	order     []string
	nextIndex map[string]int
	staged    int
}

// NewAssembler returns an assembler that forwards rows to sink.
func NewAssembler(opts Options, sink RowSink) *Assembler {
	if opts.SampleRowLimit < 0 {
		opts.SampleRowLimit = 0
	}
	return &Assembler{
		opts:      opts,
		sink:      sink,
		summaries: make(map[string]*summary),
		nextIndex: make(map[string]int),
	}
}

// HandleEvent implements jsonstream.Handler.
func (a *Assembler) HandleEvent(ev jsonstream.Event) error {
	if n := len(a.stack); n > 0 {
		top := &a.stack[n-1]
		switch {
		case top.capture != nil:
			done, err := top.capture.add(ev)
			if err != nil || !done {
				return err
			}
			f := *top
			a.stack = a.stack[:n-1]
			return a.finishCapture(f)
		case top.role == RoleOpaque:
			switch ev.Kind {
			case jsonstream.StartObject, jsonstream.StartArray:
				top.depth++
			case jsonstream.EndObject, jsonstream.EndArray:
				if top.depth == 0 {
					a.stack = a.stack[:n-1]
				} else {
					top.depth--
				}
			}
			return nil
		}
	}

	switch ev.Kind {
	case jsonstream.StartObject, jsonstream.StartArray:
		return a.open(ev)
	case jsonstream.EndObject, jsonstream.EndArray:
		if len(a.stack) == 0 {
			return fmt.Errorf("%w: unbalanced %s", jsonstream.ErrMalformed, ev.Kind)
		}
		a.stack = a.stack[:len(a.stack)-1]
	}
	// Scalars outside rows (counts, export metadata) carry no row data.
	return nil
}

func (a *Assembler) open(ev jsonstream.Event) error {
	isArray := ev.Kind == jsonstream.StartArray

	if n := len(a.stack); n > 0 && a.stack[n-1].role == RoleRows {
		parent := a.stack[n-1]
		if isArray {
			a.push(frame{role: RoleOpaque, key: ev.Key, hasKey: ev.HasKey})
			return nil
		}
		b := &builder{}
		if _, err := b.add(ev); err != nil {
			return err
		}
		a.push(frame{role: RoleRows, dataset: parent.dataset, capture: b})
		return nil
	}

	role, name := Classify(a.path(ev), isArray)
	f := frame{role: role, key: ev.Key, hasKey: ev.HasKey, dataset: name}
	switch role {
	case RoleDataset, RoleRows:
		a.summary(name)
	case RoleSchema:
		a.summary(name)
		f.capture = &builder{}
		if _, err := f.capture.add(ev); err != nil {
			return err
		}
	}
	a.push(f)
	return nil
}

func (a *Assembler) push(f frame) {
	a.stack = append(a.stack, f)
}

// path lists the member names from the root down to the container ev opens.
func (a *Assembler) path(ev jsonstream.Event) []string {
	path := make([]string, 0, len(a.stack)+1)
	for _, f := range a.stack {
		if f.hasKey {
			path = append(path, f.key)
		}
	}
	if ev.HasKey {
		path = append(path, ev.Key)
	}
	return path
}

func (a *Assembler) summary(name string) *summary {
	s, ok := a.summaries[name]
	if !ok {
		s = newSummary(name)
		a.summaries[name] = s
		a.order = append(a.order, name)
	}
	return s
}

func (a *Assembler) finishCapture(f frame) error {
	row := f.capture.root
	s := a.summary(f.dataset)
	if f.role == RoleSchema {
		s.declared = row
		return nil
	}

	s.rowCount++
	text := make(map[string]string)
	for _, san := range a.opts.Sanitizers {
		if !san.Sanitize(f.dataset, row, text) {
			s.filtered++
			return nil
		}
	}

	view := row
	if len(text) > 0 {
		view = make(map[string]any, len(row)+len(text))
		for k, v := range row {
			view[k] = v
		}
		for k, v := range text {
			view[k] = v
		}
	} else {
		text = nil
	}
	s.observe(view, a.opts.SampleRowLimit, a.opts.SampleValueLimit)

	idx := a.nextIndex[f.dataset]
	a.nextIndex[f.dataset] = idx + 1
	a.staged++
	return a.sink(models.StagingRow{
		JobID:       a.opts.JobID,
		Dataset:     f.dataset,
		RowIndex:    idx,
		RowData:     row,
		TextColumns: text,
	})
}

// Staged returns the number of rows forwarded to the sink so far.
func (a *Assembler) Staged() int {
	return a.staged
}

// Finish returns one summary per dataset in first-seen order. It fails when
// the document ended inside an open container.
func (a *Assembler) Finish() ([]models.Dataset, error) {
	if len(a.stack) > 0 {
		return nil, fmt.Errorf("%w: %d containers left open", jsonstream.ErrMalformed, len(a.stack))
	}
	out := make([]models.Dataset, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.summaries[name].dataset(a.opts.JobID))
	}
	return out, nil
}
