// Package jsonstream turns a JSON byte stream into token events without
// materializing the document.
package jsonstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// Kind identifies a token event.
type Kind uint8

const (
	StartObject Kind = iota + 1
	EndObject
	StartArray
	EndArray
	Scalar
)

func (k Kind) String() string {
	switch k {
	case StartObject:
		return "startObject"
	case EndObject:
		return "endObject"
	case StartArray:
		return "startArray"
	case EndArray:
		return "endArray"
	case Scalar:
		return "scalar"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Event is one token. Values that are object members carry their member
// name in Key with HasKey set; that covers the key/value pairing.
type Event struct {
	Kind   Kind
	Key    string
	HasKey bool
	Value  any // Scalar only: string, json.Number, bool or nil
}

// Handler receives events in document order.
type Handler interface {
	HandleEvent(Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event) error

// HandleEvent calls f(ev).
func (f HandlerFunc) HandleEvent(ev Event) error { return f(ev) }

// ErrMalformed wraps every syntax error found in the input.
var ErrMalformed = errors.New("malformed json")

// DefaultBufferSize is the read buffer used when none is given.
const DefaultBufferSize = 64 * 1024

// Decoder emits events for exactly one top-level JSON value. Memory use is
// bounded by the buffer size, the nesting depth and the largest single
// string or number in the input.
type Decoder struct {
	iter *jsoniter.Iterator
	src  *sourceReader
	h    Handler
	err  error
}

// sourceReader remembers the first non-EOF read failure so it can be told
// apart from syntax errors reported by the iterator.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && s.err == nil {
		s.err = err
	}
	return n, err
}

// NewDecoder reads from r through a buffer of bufSize bytes.
func NewDecoder(r io.Reader, bufSize int) *Decoder {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	src := &sourceReader{r: r}
	return &Decoder{
		iter: jsoniter.Parse(jsoniter.ConfigCompatibleWithStandardLibrary, src, bufSize),
		src:  src,
	}
}

// Decode walks the document, calling h for every event. It returns the
// first handler error, the underlying reader's error, or an error wrapping
// ErrMalformed.
func (d *Decoder) Decode(h Handler) error {
	d.h = h
	d.err = nil

	if d.iter.WhatIsNext() == jsoniter.InvalidValue {
		if err := d.readErr(); err != nil {
			return err
		}
		return fmt.Errorf("%w: empty or invalid document", ErrMalformed)
	}

	ok := d.value("", false)
	if d.err != nil {
		return d.err
	}
	if err := d.readErr(); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: incomplete document", ErrMalformed)
	}

	// Only whitespace may follow the top-level value.
	if d.iter.WhatIsNext() != jsoniter.InvalidValue {
		return fmt.Errorf("%w: unexpected content after top-level value", ErrMalformed)
	}
	if err := d.readErr(); err != nil {
		return err
	}
	return nil
}

// readErr classifies the iterator's sticky error. Reader failures are passed
// through unchanged so callers can match context cancellation.
func (d *Decoder) readErr() error {
	if d.src.err != nil {
		return d.src.err
	}
	err := d.iter.Error
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

func (d *Decoder) emit(ev Event) bool {
	if d.err != nil {
		return false
	}
	if err := d.h.HandleEvent(ev); err != nil {
		d.err = err
		return false
	}
	return true
}

func (d *Decoder) value(key string, hasKey bool) bool {
	if d.err != nil {
		return false
	}
	switch d.iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		if !d.emit(Event{Kind: StartObject, Key: key, HasKey: hasKey}) {
			return false
		}
		ok := d.iter.ReadObjectCB(func(_ *jsoniter.Iterator, field string) bool {
			return d.value(field, true)
		})
		if !ok || d.iter.Error != nil && !errors.Is(d.iter.Error, io.EOF) {
			return false
		}
		return d.emit(Event{Kind: EndObject, Key: key, HasKey: hasKey})
	case jsoniter.ArrayValue:
		if !d.emit(Event{Kind: StartArray, Key: key, HasKey: hasKey}) {
			return false
		}
		ok := d.iter.ReadArrayCB(func(*jsoniter.Iterator) bool {
			return d.value("", false)
		})
		if !ok || d.iter.Error != nil && !errors.Is(d.iter.Error, io.EOF) {
			return false
		}
		return d.emit(Event{Kind: EndArray, Key: key, HasKey: hasKey})
	case jsoniter.StringValue:
		s := d.iter.ReadString()
		return d.scalar(key, hasKey, s)
	case jsoniter.NumberValue:
		n := d.iter.ReadNumber()
		return d.scalar(key, hasKey, json.Number(n))
	case jsoniter.BoolValue:
		b := d.iter.ReadBool()
		return d.scalar(key, hasKey, b)
	case jsoniter.NilValue:
		d.iter.ReadNil()
		return d.scalar(key, hasKey, nil)
	default:
		if d.iter.Error == nil {
			d.iter.ReportError("read value", "unexpected token")
		}
		return false
	}
}

func (d *Decoder) scalar(key string, hasKey bool, v any) bool {
	if d.iter.Error != nil && !errors.Is(d.iter.Error, io.EOF) {
		return false
	}
	return d.emit(Event{Kind: Scalar, Key: key, HasKey: hasKey, Value: v})
}
