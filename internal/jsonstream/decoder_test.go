package jsonstream

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, input string, bufSize int) ([]Event, error) {
	t.Helper()
	var events []Event
	err := NewDecoder(strings.NewReader(input), bufSize).Decode(HandlerFunc(func(ev Event) error {
		events = append(events, ev)
		return nil
	}))
	return events, err
}

func TestDecodeEmitsEventsInOrder(t *testing.T) {
	events, err := collect(t, `{"a": [1, "x", true, null], "b": {"c": 2.5}}`, 0)
	require.NoError(t, err)

	want := []Event{
		{Kind: StartObject},
		{Kind: StartArray, Key: "a", HasKey: true},
		{Kind: Scalar, Value: json.Number("1")},
		{Kind: Scalar, Value: "x"},
		{Kind: Scalar, Value: true},
		{Kind: Scalar, Value: nil},
		{Kind: EndArray, Key: "a", HasKey: true},
		{Kind: StartObject, Key: "b", HasKey: true},
		{Kind: Scalar, Key: "c", HasKey: true, Value: json.Number("2.5")},
		{Kind: EndObject, Key: "b", HasKey: true},
		{Kind: EndObject},
	}
	assert.Equal(t, want, events)
}

func TestDecodeSmallBufferHandlesLongStrings(t *testing.T) {
	long := strings.Repeat("abcdefgh", 1000)
	events, err := collect(t, `{"text": "`+long+`"}`, 16)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, long, events[1].Value)
}

func TestDecodeEmptyContainers(t *testing.T) {
	events, err := collect(t, `{"a": {}, "b": []}`, 0)
	require.NoError(t, err)
	kinds := make([]Kind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []Kind{StartObject, StartObject, EndObject, StartArray, EndArray, EndObject}, kinds)
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"truncated object", `{"a": 1`},
		{"missing colon", `{"a" 1}`},
		{"trailing garbage", `{"a": 1} x`},
		{"bad token", `{"a": @}`},
		{"unclosed array", `{"a": [1, 2`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collect(t, tt.input, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeStopsOnHandlerError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := NewDecoder(strings.NewReader(`[1, 2, 3, 4]`), 0).Decode(HandlerFunc(func(ev Event) error {
		calls++
		if ev.Kind == Scalar {
			return boom
		}
		return nil
	}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestDecodePassesReaderErrorsThrough(t *testing.T) {
	readErr := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader(`{"a": [1,`), failingReader{readErr})
	err := NewDecoder(r, 4).Decode(HandlerFunc(func(Event) error { return nil }))
	require.Error(t, err)
	assert.ErrorIs(t, err, readErr)
	assert.NotErrorIs(t, err, ErrMalformed)
}
