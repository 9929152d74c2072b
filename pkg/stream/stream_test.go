package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"iter"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/tripplanner/pkg/agent"
)

// step is one recorded item of an event sequence.
type step struct {
	ev  *agent.Event
	err error
}

func delta(text string) step {
	return step{ev: &agent.Event{Kind: agent.KindTokenDelta, Text: text}}
}

func lifecycle(kind agent.EventKind) step {
	return step{ev: &agent.Event{Kind: kind, Text: "ignored"}}
}

func fail(msg string) step {
	return step{err: errors.New(msg)}
}

// replay turns a recording into an event sequence and counts pulls.
func replay(steps []step, pulled *int) iter.Seq2[*agent.Event, error] {
	return func(yield func(*agent.Event, error) bool) {
		for _, s := range steps {
			if pulled != nil {
				*pulled++
			}
			if !yield(s.ev, s.err) {
				return
			}
			if s.err != nil {
				return
			}
		}
	}
}

func frames(seq iter.Seq[Frame]) []Frame {
	var out []Frame
	for f := range seq {
		out = append(out, f)
	}
	return out
}

func TestBridge(t *testing.T) {
	providerErr := errors.New("provider down")

	tests := []struct {
		name  string
		steps []step
		want  []Frame
	}{
		{
			name:  "deltas around lifecycle events",
			steps: []step{delta("A"), lifecycle(agent.KindToolStart), delta("B")},
			want:  []Frame{Content("A"), Content("B"), Complete()},
		},
		{
			name:  "error after delta",
			steps: []step{delta("A"), {err: providerErr}},
			want:  []Frame{Content("A"), {Kind: FrameError, Text: "provider down", Err: providerErr}},
		},
		{
			name:  "empty sequence",
			steps: nil,
			want:  []Frame{Complete()},
		},
		{
			name:  "nil and empty events are skipped",
			steps: []step{{ev: nil}, delta(""), {ev: &agent.Event{Kind: agent.KindTokenDelta}}, delta("x")},
			want:  []Frame{Content("x"), Complete()},
		},
		{
			name:  "immediate error",
			steps: []step{{err: providerErr}},
			want:  []Frame{{Kind: FrameError, Text: "provider down", Err: providerErr}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := frames(Bridge(replay(tt.steps, nil)))
			assert.Equal(t, tt.want, got)

			terminals := 0
			for _, f := range got {
				if f.IsTerminal() {
					terminals++
				}
			}
			assert.Equal(t, 1, terminals)
			assert.True(t, got[len(got)-1].IsTerminal())
		})
	}
}

func TestBridge_StopsPullingWhenConsumerStops(t *testing.T) {
	pulled := 0
	steps := []step{delta("a"), delta("b"), delta("c"), delta("d")}

	for f := range Bridge(replay(steps, &pulled)) {
		if f.Text == "b" {
			break
		}
	}
	assert.Equal(t, 2, pulled)
}

func TestBridge_Deterministic(t *testing.T) {
	recording := []step{
		lifecycle(agent.KindModelStart),
		delta("东京"), delta("亲子"),
		lifecycle(agent.KindToolStart), lifecycle(agent.KindToolEnd),
		delta("方案"), lifecycle(agent.KindAgentEnd),
	}

	render := func() []byte {
		var buf bytes.Buffer
		for f := range Bridge(replay(recording, nil)) {
			require.NoError(t, Render(&buf, NDJSON{}, f))
		}
		return buf.Bytes()
	}

	first := render()
	for range 5 {
		assert.Equal(t, first, render())
	}
}

func TestCollect(t *testing.T) {
	text, err := Collect(Bridge(replay([]step{delta("第一天"), delta("，第二天")}, nil)))
	require.NoError(t, err)
	assert.Equal(t, "第一天，第二天", text)

	text, err = Collect(Bridge(replay([]step{delta("A"), fail("boom")}, nil)))
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "A", text)

	_, err = Collect(func(yield func(Frame) bool) {
		yield(Frame{Kind: FrameError, Text: "no cause"})
	})
	assert.EqualError(t, err, "no cause")
}

func TestNDJSON(t *testing.T) {
	var buf bytes.Buffer
	r := NDJSON{}
	require.NoError(t, r.RenderContent(&buf, `<东京> & "亲子"`))
	require.NoError(t, r.RenderError(&buf, "boom"))
	require.NoError(t, r.RenderComplete(&buf))

	assert.Equal(t,
		`{"content":"<东京> & \"亲子\""}`+"\n"+
			`{"error":"boom"}`+"\n"+
			`{"status":"complete"}`+"\n",
		buf.String())
	assert.Equal(t, "application/x-ndjson", r.ContentType())
}

func TestSSEJSON(t *testing.T) {
	var buf bytes.Buffer
	r := SSEJSON{}
	require.NoError(t, r.RenderContent(&buf, "第一行\n第二行"))
	require.NoError(t, r.RenderComplete(&buf))
	require.NoError(t, r.RenderError(&buf, "boom"))

	assert.Equal(t,
		"event: message\ndata: {\"content\":\"第一行\\n第二行\"}\n\n"+
			"event: complete\ndata: {}\n\n"+
			"event: error\ndata: {\"error\":\"boom\"}\n\n",
		buf.String())
	assert.Equal(t, "text/event-stream", r.ContentType())
}

func TestSSEText(t *testing.T) {
	var buf bytes.Buffer
	r := SSEText{}
	require.NoError(t, r.RenderContent(&buf, "day 1\r\nday 2"))
	require.NoError(t, r.RenderComplete(&buf))
	require.NoError(t, r.RenderError(&buf, "boom"))

	assert.Equal(t,
		"event: message\ndata: day 1\ndata: day 2\n\n"+
			"event: complete\ndata: \n\n"+
			"event: error\ndata: boom\n\n",
		buf.String())
}

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	err := Write(rec, NDJSON{}, Bridge(replay([]step{delta("A"), delta("B")}, nil)))
	require.NoError(t, err)

	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)
	assert.Equal(t, "{\"content\":\"A\"}\n{\"content\":\"B\"}\n{\"status\":\"complete\"}\n", rec.Body.String())
}

func TestWrite_RecoversPanics(t *testing.T) {
	rec := httptest.NewRecorder()
	panicking := func(yield func(Frame) bool) {
		if !yield(Content("A")) {
			return
		}
		panic("nil map write")
	}

	err := Write(rec, SSEJSON{}, panicking)
	require.Error(t, err)

	body := rec.Body.String()
	assert.Contains(t, body, "event: message\ndata: {\"content\":\"A\"}\n\n")
	assert.Contains(t, body, "event: error\ndata: {\"error\":\"internal error\"}\n\n")
	assert.NotContains(t, body, "nil map write")
}

// Concatenated NDJSON content equals what the synchronous variant returns.
func TestNDJSONMatchesCollect(t *testing.T) {
	recording := []step{delta("东京"), lifecycle(agent.KindModelEnd), delta("三日"), delta("游")}

	rec := httptest.NewRecorder()
	require.NoError(t, Write(rec, NDJSON{}, Bridge(replay(recording, nil))))

	var streamed strings.Builder
	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for sc.Scan() {
		var line map[string]string
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		streamed.WriteString(line["content"])
	}

	plan, err := Collect(Bridge(replay(recording, nil)))
	require.NoError(t, err)
	assert.Equal(t, plan, streamed.String())
	assert.Equal(t, "东京三日游", plan)
}
