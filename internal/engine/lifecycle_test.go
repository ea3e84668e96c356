package engine

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lifecycleEvent(frame, loader, name string) *page.EventLifecycleEvent {
	return &page.EventLifecycleEvent{
		FrameID:  cdp.FrameID(frame),
		LoaderID: cdp.LoaderID(loader),
		Name:     name,
	}
}

func TestLifecycle_WaitBeforeNavigation(t *testing.T) {
	l := newLifecycle()
	l.track("main")
	err := l.wait(context.Background(), "load")
	assert.ErrorIs(t, err, errNoNavigation)
}

func TestLifecycle_EventsBeforeExpect(t *testing.T) {
	l := newLifecycle()
	l.track("main")

	l.observe(lifecycleEvent("main", "old", "load"))
	l.observe(lifecycleEvent("main", "new", "init"))
	l.observe(lifecycleEvent("main", "new", "DOMContentLoaded"))
	l.expect("new")

	require.NoError(t, l.wait(context.Background(), "DOMContentLoaded"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.wait(ctx, "load"), context.DeadlineExceeded, "load of an earlier document must not count")
}

func TestLifecycle_WaitWakesOnEvent(t *testing.T) {
	l := newLifecycle()
	l.track("main")
	l.expect("doc")

	done := make(chan error, 1)
	go func() { done <- l.wait(context.Background(), "networkIdle") }()

	l.observe(lifecycleEvent("child", "doc", "networkIdle"))
	select {
	case <-done:
		t.Fatal("event from a child frame satisfied the wait")
	case <-time.After(20 * time.Millisecond):
	}

	l.observe(lifecycleEvent("main", "doc", "networkIdle"))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return")
	}
}

func TestLifecycle_IgnoresUntrackedFrame(t *testing.T) {
	l := newLifecycle()
	l.observe(lifecycleEvent("main", "doc", "load"))
	assert.Empty(t, l.seen)
	assert.NotPanics(t, func() { l.observe("not an event") })
}

func TestLifecycle_SameDocumentNavigation(t *testing.T) {
	l := newLifecycle()
	l.track("main")
	l.expect("")
	assert.NoError(t, l.wait(context.Background(), "load"))
}

func TestLoadState_String(t *testing.T) {
	assert.Equal(t, "load", Load.String())
	assert.Equal(t, "DOMContentLoaded", DOMContentLoaded.String())
	assert.Equal(t, "networkIdle", NetworkIdle.String())
	assert.Equal(t, "unknown", LoadState(9).String())
}
