package registry_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chathub/relay/internal/registry"
)

type fakeSession struct{ id string }

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Deliver(channel string, body []byte, publishedAt time.Time) error {
	return nil
}

func (f *fakeSession) NotifyChannelJoined(channel string) {}

func TestAddRemoveSessions(t *testing.T) {
	r := registry.New()
	a := &fakeSession{id: "a"}
	b := &fakeSession{id: "b"}

	r.Add("g1", a)
	r.Add("g1", b)
	require.Equal(t, 2, r.Count("g1"))

	r.Remove("g1", a)
	require.Equal(t, 1, r.Count("g1"))

	sessions := r.Sessions("g1")
	require.Len(t, sessions, 1)
	require.Equal(t, "b", sessions[0].ID())
}

func TestRemoveAllClearsEveryChannel(t *testing.T) {
	r := registry.New()
	s := &fakeSession{id: "s"}
	r.Add("g1", s)
	r.Add("g2", s)

	r.RemoveAll([]string{"g1", "g2"}, s)

	require.Equal(t, 0, r.Count("g1"))
	require.Equal(t, 0, r.Count("g2"))
}

func TestRemoveUnknownSessionIsNoop(t *testing.T) {
	r := registry.New()
	require.NotPanics(t, func() {
		r.Remove("nope", &fakeSession{id: "ghost"})
	})
}

func TestConcurrentAddRemoveIterate(t *testing.T) {
	r := registry.New()
	const channel = "race-channel"
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess := &fakeSession{id: fmt.Sprintf("sess-%d", i)}
			r.Add(channel, sess)
			_ = r.Sessions(channel)
			r.Remove(channel, sess)
		}(i)
	}
	wg.Wait()

	require.Equal(t, 0, r.Count(channel))
}
