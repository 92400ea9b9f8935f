package dataset

import (
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/tmimport/internal/jsonstream"
)

type node struct {
	obj   map[string]any
	arr   []any
	isArr bool
	key   string
}

func (n *node) value() any {
	if n.isArr {
		if n.arr == nil {
			return []any{}
		}
		return n.arr
	}
	return n.obj
}

// builder accumulates the events of one captured object into a value. It is
// fed starting with the object's own startObject and reports completion when
// the matching endObject arrives.
type builder struct {
	stack []*node
	root  map[string]any
}

func (b *builder) add(ev jsonstream.Event) (bool, error) {
	switch ev.Kind {
	case jsonstream.StartObject:
		b.stack = append(b.stack, &node{obj: map[string]any{}, key: ev.Key})
	case jsonstream.StartArray:
		if len(b.stack) == 0 {
			return false, fmt.Errorf("%w: capture must start with an object", jsonstream.ErrMalformed)
		}
		b.stack = append(b.stack, &node{isArr: true, key: ev.Key})
	case jsonstream.EndObject, jsonstream.EndArray:
		if len(b.stack) == 0 {
			return false, fmt.Errorf("%w: unbalanced %s", jsonstream.ErrMalformed, ev.Kind)
		}
		top := b.stack[len(b.stack)-1]
		if top.isArr != (ev.Kind == jsonstream.EndArray) {
			return false, fmt.Errorf("%w: mismatched %s", jsonstream.ErrMalformed, ev.Kind)
		}
		b.stack = b.stack[:len(b.stack)-1]
		if len(b.stack) == 0 {
			b.root = top.obj
			return true, nil
		}
		b.attach(top.key, top.value())
	case jsonstream.Scalar:
		if len(b.stack) == 0 {
			return false, fmt.Errorf("%w: capture must start with an object", jsonstream.ErrMalformed)
		}
		b.attach(ev.Key, scalarValue(ev.Value))
	}
	return false, nil
}

func (b *builder) attach(key string, v any) {
	parent := b.stack[len(b.stack)-1]
	if parent.isArr {
		parent.arr = append(parent.arr, v)
		return
	}
	parent.obj[key] = v
}

// scalarValue narrows decoded numbers to int64 when integral, float64
// otherwise, so staged rows carry native numeric types.
func scalarValue(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
