package sse

import (
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r io.Reader) []Event {
	t.Helper()
	dec := NewDecoder(r)
	var out []Event
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestWriterFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	require.NoError(t, w.Start())
	require.NoError(t, w.Delta("Hel"))
	require.NoError(t, w.Delta("lo"))
	require.NoError(t, w.Complete("Hello"))

	want := "event: start\ndata: {\"type\":\"start\"}\n\n" +
		"event: message\ndata: {\"type\":\"delta\",\"content\":\"Hel\"}\n\n" +
		"event: message\ndata: {\"type\":\"delta\",\"content\":\"lo\"}\n\n" +
		"event: complete\ndata: {\"type\":\"complete\",\"fullContent\":\"Hello\"}\n\n"
	assert.Equal(t, want, rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestCompleteKeepsEmptyFullContent(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Complete(""))

	assert.Equal(t, "event: complete\ndata: {\"type\":\"complete\",\"fullContent\":\"\"}\n\n", buf.String())

	events := readAll(t, &buf)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Data, `"fullContent":""`)
	p, err := events[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, Payload{Type: TypeComplete}, p)
}

func TestOtherPayloadsOmitEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Start())
	require.NoError(t, w.Error(""))

	assert.Equal(t, "event: start\ndata: {\"type\":\"start\"}\n\n"+
		"event: error\ndata: {\"type\":\"error\"}\n\n", buf.String())
}

func TestWriterRefusesAfterTerminal(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.Start())
	require.NoError(t, w.Error("boom"))
	assert.True(t, w.Closed())

	assert.ErrorIs(t, w.Delta("late"), ErrClosed)
	assert.ErrorIs(t, w.Complete("late"), ErrClosed)
	assert.NotContains(t, buf.String(), "late")
}

func TestDecoderRoundTripOneByteReads(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Start())
	require.NoError(t, w.Delta("a b"))
	require.NoError(t, w.Complete("a b"))

	events := readAll(t, iotest.OneByteReader(&buf))
	require.Len(t, events, 3)
	assert.Equal(t, EventStart, events[0].Name)
	assert.Equal(t, EventMessage, events[1].Name)

	p, err := events[1].Decode()
	require.NoError(t, err)
	assert.Equal(t, Payload{Type: TypeDelta, Content: "a b"}, p)

	p, err = events[2].Decode()
	require.NoError(t, err)
	assert.Equal(t, "a b", p.FullContent)
}

func TestDecoderEdgeCases(t *testing.T) {
	raw := ": keepalive\r\n" +
		"event: first\r\nevent: second\r\ndata: line1\r\ndata: line2\r\n\r\n" +
		"event: nodata\n\n" +
		"data: tail"

	events := readAll(t, strings.NewReader(raw))
	require.Len(t, events, 2)
	assert.Equal(t, Event{Name: "second", Data: "line1\nline2"}, events[0])
	assert.Equal(t, Event{Name: "", Data: "tail"}, events[1])
}

func TestDecoderDropsTrailingBlockWithoutData(t *testing.T) {
	events := readAll(t, strings.NewReader("event: start\ndata: {}\n\nevent: dangling\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "start", events[0].Name)
}
