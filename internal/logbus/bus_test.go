package logbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(sub *Subscription) []Event {
	var out []Event
	for ev := range sub.Events() {
		out = append(out, ev)
	}
	return out
}

func TestPublishAssignsIncreasingSequence(t *testing.T) {
	b := New(10, 10)
	for i := range 5 {
		ev := b.Publish(Event{SessionID: "s1", Agent: "Research", Status: Info})
		assert.Equal(t, uint64(i+1), ev.Sequence)
	}
	other := b.Publish(Event{SessionID: "s2", Status: Info})
	assert.Equal(t, uint64(1), other.Sequence, "sequences are per session")
	assert.Equal(t, uint64(5), b.LastSequence("s1"))
}

func TestRecentIsBounded(t *testing.T) {
	b := New(3, 10)
	for range 7 {
		b.Publish(Event{SessionID: "s", Status: Info})
	}
	recent := b.Recent("s", 20)
	require.Len(t, recent, 3)
	assert.Equal(t, []uint64{5, 6, 7}, []uint64{recent[0].Sequence, recent[1].Sequence, recent[2].Sequence})

	two := b.Recent("s", 2)
	require.Len(t, two, 2)
	assert.Equal(t, uint64(6), two[0].Sequence)
	assert.Nil(t, b.Recent("unknown", 5))
}

func TestDoneEndsSubscribersNotTopic(t *testing.T) {
	b := New(10, 10)
	b.Publish(Event{SessionID: "s", Status: Info, Message: "before"})

	sub, tail := b.Subscribe("s")
	assert.Equal(t, uint64(1), tail)

	b.Publish(Event{SessionID: "s", Status: Thinking})
	b.Publish(Event{SessionID: "s", Status: Done})

	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[0].Sequence, "late subscriber starts after the tail")
	assert.Equal(t, Done, got[1].Status)

	after := b.Publish(Event{SessionID: "s", Status: Info})
	assert.Equal(t, uint64(4), after.Sequence)
}

func TestMultipleSubscribersSeeSameOrder(t *testing.T) {
	b := New(100, 100)
	subs := []*Subscription{}
	for range 3 {
		s, _ := b.Subscribe("s")
		subs = append(subs, s)
	}

	var wg sync.WaitGroup
	results := make([][]Event, len(subs))
	for i, s := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = drain(s)
		}()
	}

	for range 50 {
		b.Publish(Event{SessionID: "s", Status: Info})
	}
	b.Publish(Event{SessionID: "s", Status: Done})
	wg.Wait()

	for _, got := range results {
		require.Len(t, got, 51)
		for i := 1; i < len(got); i++ {
			assert.Equal(t, got[i-1].Sequence+1, got[i].Sequence)
		}
	}
}

func TestSlowSubscriberIsEndedNotGapped(t *testing.T) {
	b := New(100, 2)
	sub, _ := b.Subscribe("s")
	for range 5 {
		b.Publish(Event{SessionID: "s", Status: Info})
	}
	got := drain(sub)
	assert.Len(t, got, 2)
	assert.True(t, sub.Overflowed())
	assert.Equal(t, uint64(5), b.LastSequence("s"), "publisher never blocks")
}

func TestCancelAndClose(t *testing.T) {
	b := New(10, 10)
	sub, _ := b.Subscribe("s")
	sub.Cancel()
	sub.Cancel()
	_, open := <-sub.Events()
	assert.False(t, open)

	other, _ := b.Subscribe("s")
	b.Close("s")
	_, open = <-other.Events()
	assert.False(t, open)
	assert.Equal(t, uint64(0), b.LastSequence("s"))
}

func TestEndDeliversDoneToOneSubscriber(t *testing.T) {
	b := New(10, 10)
	b.Publish(Event{SessionID: "s", Status: Info})
	b.Publish(Event{SessionID: "s", Status: Done})

	sub, _ := b.Subscribe("s")
	other, _ := b.Subscribe("s")
	sub.End("session", "session delivered")

	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, Done, got[0].Status)
	assert.Equal(t, "s", got[0].SessionID)
	assert.Equal(t, uint64(2), got[0].Sequence, "tail sequence, no new number")
	assert.Equal(t, uint64(2), b.LastSequence("s"))
	assert.Len(t, b.Recent("s", 10), 2, "not recorded")

	sub.End("session", "again")
	sub.Cancel()

	b.Publish(Event{SessionID: "s", Status: Info})
	ev, open := <-other.Events()
	require.True(t, open)
	assert.Equal(t, uint64(3), ev.Sequence)
	other.Cancel()
}

func TestEndAllClosesEverySubscription(t *testing.T) {
	b := New(10, 10)
	a, _ := b.Subscribe("a")
	c, _ := b.Subscribe("c")

	b.EndAll()
	assert.Empty(t, drain(a))
	assert.Empty(t, drain(c))

	ev := b.Publish(Event{SessionID: "a", Status: Info})
	assert.Equal(t, uint64(1), ev.Sequence, "topics survive")

	late, tail := b.Subscribe("a")
	assert.Equal(t, uint64(1), tail)
	assert.Empty(t, drain(late))
	late.End("session", "ignored")
	late.Cancel()
}
