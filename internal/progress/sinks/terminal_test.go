package sinks

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/breeder-harvester/internal/progress"
)

type frozenClock struct{ t time.Time }

func (c frozenClock) Now() time.Time { return c.t }

func TestTerminalSinkRendersOncePerBatch(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	now := time.Unix(0, 0)
	sink := NewTerminalSink(&buf, frozenClock{t: now})

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Stage: "detail", Kind: progress.KindStageStart, Total: 4, TS: now},
		{Stage: "detail", Kind: progress.KindTaskDone, TS: now},
		{Stage: "detail", Kind: progress.KindTaskDone, TS: now},
	}))
	require.Equal(t, "\r[##########..........] 2/4 - (50.0% 00:00) ", buf.String())

	buf.Reset()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Stage: "detail", Kind: progress.KindTaskDone, TS: now},
		{Stage: "detail", Kind: progress.KindTaskDone, TS: now},
		{Stage: "detail", Kind: progress.KindStageDone, TS: now},
	}))
	require.Equal(t, "\r[####################] 4/4 - (100.0% 00:00) \n", buf.String())
}

func TestTerminalSinkIgnoresUnknownStages(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewTerminalSink(&buf, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Stage: "listing", Kind: progress.KindTaskDone, TS: time.Now()},
		{Stage: "listing", Kind: progress.KindStageDone, TS: time.Now()},
	}))
	require.Empty(t, buf.String())
}

func TestTerminalSinkCloseEndsOpenLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	now := time.Unix(0, 0)
	sink := NewTerminalSink(&buf, frozenClock{t: now})
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{Stage: "listing", Kind: progress.KindStageStart, Total: 20, TS: now},
	}))
	require.NoError(t, sink.Close(context.Background()))
	require.Equal(t, "\r[....................] 0/20 - (0.0% 00:00) \n", buf.String())
}

func TestTerminalSinkBehindHub(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	hub := progress.NewHub(progress.Config{FlushInterval: time.Hour}, NewTerminalSink(&buf, frozenClock{t: time.Unix(0, 0)}))
	report := progress.Reporters(hub, frozenClock{t: time.Unix(0, 0)})("listing", 1)
	report.Increment()
	report.Render()
	report.(interface{ Finish() }).Finish()
	require.NoError(t, hub.Close(context.Background()))

	require.Equal(t, "\r[####################] 1/1 - (100.0% 00:00) \n", buf.String())
}
