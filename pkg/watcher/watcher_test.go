package watcher_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lattice-fl/lattice/pkg/watcher"
)

type testWatcher struct {
	name     string
	interest map[watcher.NotificationType]watcher.Handler
	fallback watcher.Handler
}

func (w *testWatcher) Name() string { return w.name }
func (w *testWatcher) NotificationsOfInterest() map[watcher.NotificationType]watcher.Handler {
	return w.interest
}
func (w *testWatcher) Fallback() watcher.Handler { return w.fallback }

func TestNotifyAll_DeliversToMatchingInterest(t *testing.T) {
	var got []watcher.Notification
	w := &testWatcher{
		name: "w1",
		interest: map[watcher.NotificationType]watcher.Handler{
			watcher.MetricNotification: func(n watcher.Notification) { got = append(got, n) },
		},
	}
	p := watcher.NewPool()
	p.Add(w)

	p.NotifyAll(watcher.Notification{Type: watcher.MetricNotification, Origin: "worker-1"})
	assert.Len(t, got, 1)
	assert.Equal(t, "worker-1", got[0].Origin)
}

func TestNotifyAll_FallsBackWhenNoMatchingInterest(t *testing.T) {
	var gotFallback bool
	w := &testWatcher{
		name:     "w1",
		interest: map[watcher.NotificationType]watcher.Handler{},
		fallback: func(n watcher.Notification) { gotFallback = true },
	}
	p := watcher.NewPool()
	p.Add(w)

	p.NotifyAll(watcher.Notification{Type: watcher.MetricNotification})
	assert.True(t, gotFallback)
}

func TestNotifyAll_SkipsWatcherWithNeitherInterestNorFallback(t *testing.T) {
	called := false
	w := &testWatcher{name: "w1", interest: map[watcher.NotificationType]watcher.Handler{}}
	p := watcher.NewPool()
	p.Add(w)
	assert.NotPanics(t, func() {
		p.NotifyAll(watcher.Notification{Type: watcher.MetricNotification})
	})
	assert.False(t, called)
}

func TestNotifyOfType_IgnoresFallback(t *testing.T) {
	fallbackCalled := false
	w := &testWatcher{
		name:     "w1",
		interest: map[watcher.NotificationType]watcher.Handler{},
		fallback: func(n watcher.Notification) { fallbackCalled = true },
	}
	p := watcher.NewPool()
	p.Add(w)

	p.NotifyOfType(watcher.Notification{Type: watcher.MetricNotification})
	assert.False(t, fallbackCalled)
}

func TestNotifyAll_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	panicker := &testWatcher{
		name: "panicker",
		interest: map[watcher.NotificationType]watcher.Handler{
			watcher.MetricNotification: func(n watcher.Notification) { panic("boom") },
		},
	}
	var secondCalled bool
	second := &testWatcher{
		name: "second",
		interest: map[watcher.NotificationType]watcher.Handler{
			watcher.MetricNotification: func(n watcher.Notification) { secondCalled = true },
		},
	}
	p := watcher.NewPool()
	p.Add(panicker)
	p.Add(second)

	assert.NotPanics(t, func() {
		p.NotifyAll(watcher.Notification{Type: watcher.MetricNotification})
	})
	assert.True(t, secondCalled)
}

func TestRemove_UnregistersByIdentity(t *testing.T) {
	called := false
	w := &testWatcher{
		name: "w1",
		interest: map[watcher.NotificationType]watcher.Handler{
			watcher.MetricNotification: func(n watcher.Notification) { called = true },
		},
	}
	p := watcher.NewPool()
	p.Add(w)
	p.Remove(w)

	p.NotifyAll(watcher.Notification{Type: watcher.MetricNotification})
	assert.False(t, called)
}
