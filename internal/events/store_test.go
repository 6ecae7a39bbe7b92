package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ev(id, topic, corr string, at time.Time) *Event {
	return &Event{ID: id, Topic: topic, CorrelationID: corr, Timestamp: at}
}

func TestStore_GetAndLen(t *testing.T) {
	s := NewStore(10)
	s.Store(ev("e1", "order.created", "c1", base))

	got, ok := s.Get("e1")
	require.True(t, ok)
	assert.Equal(t, "order.created", got.Topic)
	assert.Equal(t, 1, s.Len())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_DuplicateIDIgnored(t *testing.T) {
	s := NewStore(10)
	s.Store(ev("e1", "a", "c1", base))
	s.Store(ev("e1", "b", "c1", base))

	got, _ := s.Get("e1")
	assert.Equal(t, "a", got.Topic)
	assert.Equal(t, 1, s.Len())
}

func TestStore_EvictsOldestWhenFull(t *testing.T) {
	s := NewStore(3)
	for i := 1; i <= 4; i++ {
		s.Store(ev(fmt.Sprintf("e%d", i), "t", "c1", base.Add(time.Duration(i)*time.Second)))
	}

	assert.Equal(t, 3, s.Len())
	_, ok := s.Get("e1")
	assert.False(t, ok, "oldest evicted")
	_, ok = s.Get("e4")
	assert.True(t, ok)

	byCorr := s.ByCorrelation("c1")
	require.Len(t, byCorr, 3)
	assert.Equal(t, "e2", byCorr[0].ID, "correlation index dropped the evicted event")
}

func TestStore_ByCorrelationInStoreOrder(t *testing.T) {
	s := NewStore(10)
	s.Store(ev("e1", "a", "c1", base))
	s.Store(ev("e2", "b", "c2", base))
	s.Store(ev("e3", "c", "c1", base))

	got := s.ByCorrelation("c1")
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "e3", got[1].ID)
	assert.Empty(t, s.ByCorrelation("c9"))
}

func TestStore_InTimeRangeWithPattern(t *testing.T) {
	s := NewStore(10)
	s.Store(ev("e1", "order.created", "c1", base))
	s.Store(ev("e2", "order.shipped", "c1", base.Add(time.Minute)))
	s.Store(ev("e3", "payment.settled", "c1", base.Add(2*time.Minute)))

	got := s.InTimeRange("order.*", base, base.Add(2*time.Minute))
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)

	// Bounds are inclusive on both ends.
	got = s.InTimeRange("order.*", base.Add(time.Minute), base.Add(time.Minute))
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID)
}

func TestStore_CountInWindow(t *testing.T) {
	s := NewStore(10)
	for i := 0; i < 5; i++ {
		s.Store(ev(fmt.Sprintf("e%d", i), "login.failed", "c1", base.Add(time.Duration(i)*time.Minute)))
	}
	now := base.Add(4 * time.Minute)

	assert.Equal(t, 3, s.CountInWindow("login.failed", 2*time.Minute, now))
	assert.Equal(t, 5, s.CountInWindow("login.failed", time.Hour, now))
	assert.Equal(t, 0, s.CountInWindow("other.topic", time.Hour, now))
}

func TestStore_Prune(t *testing.T) {
	s := NewStore(10)
	s.Store(ev("e1", "t", "c1", base))
	s.Store(ev("e2", "t", "c1", base.Add(time.Hour)))

	removed := s.Prune(30*time.Minute, base.Add(time.Hour))
	assert.Equal(t, 1, removed)
	_, ok := s.Get("e1")
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"order.created", "order.created", true},
		{"order.*", "order.created", true},
		{"order.*", "order.created.v2", false},
		{"*.created", "order.created", true},
		{"*", "anything", true},
		{"*", "any.thing", true},
		{"order.*.v2", "order.created.v2", true},
		{"order", "orders", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TopicMatches(tc.pattern, tc.topic),
			"pattern=%q topic=%q", tc.pattern, tc.topic)
	}
}

func TestIsPattern(t *testing.T) {
	assert.True(t, IsPattern("order.*"))
	assert.True(t, IsPattern("*"))
	assert.False(t, IsPattern("order.created"))
}
