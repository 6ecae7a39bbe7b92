package trace

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestRecord_AssignsIDAndTimestamp(t *testing.T) {
	c := NewCollector(10, fixedNow)
	c.Record(Entry{Type: RuleExecuted, ID: 999, Timestamp: time.Unix(0, 0)})

	got := c.Query(Query{})
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID, "caller-set id is overwritten")
	assert.Equal(t, fixedNow(), got[0].Timestamp)
}

func TestRecord_RingEvictsOldest(t *testing.T) {
	c := NewCollector(3, fixedNow)
	for i := 0; i < 5; i++ {
		c.Record(Entry{Type: EventEmitted, CorrelationID: fmt.Sprintf("c%d", i)})
	}

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, 3, c.Capacity())

	got := c.Query(Query{})
	require.Len(t, got, 3)
	assert.Equal(t, "c2", got[0].CorrelationID, "oldest survivors first")
	assert.Equal(t, "c4", got[2].CorrelationID)
	assert.Equal(t, int64(5), got[2].ID, "ids keep counting past eviction")
}

func TestQuery_Filters(t *testing.T) {
	c := NewCollector(100, fixedNow)
	c.Record(Entry{Type: RuleTriggered, RuleID: "r1", CorrelationID: "c1"})
	c.Record(Entry{Type: RuleExecuted, RuleID: "r1", CorrelationID: "c1"})
	c.Record(Entry{Type: RuleExecuted, RuleID: "r2", CorrelationID: "c2"})
	c.Record(Entry{Type: FactChanged, CorrelationID: "c1"})

	assert.Len(t, c.Query(Query{CorrelationID: "c1"}), 3)
	assert.Len(t, c.Query(Query{RuleID: "r1"}), 2)
	assert.Len(t, c.Query(Query{Types: []EntryType{RuleExecuted}}), 2)
	assert.Len(t, c.Query(Query{CorrelationID: "c1", Types: []EntryType{RuleExecuted, FactChanged}}), 2)
	assert.Empty(t, c.Query(Query{RuleID: "ghost"}))
}

func TestQuery_LimitKeepsNewest(t *testing.T) {
	c := NewCollector(100, fixedNow)
	for i := 0; i < 10; i++ {
		c.Record(Entry{Type: EventEmitted})
	}

	got := c.Query(Query{Limit: 3})
	require.Len(t, got, 3)
	assert.Equal(t, int64(8), got[0].ID)
	assert.Equal(t, int64(10), got[2].ID)
}

func TestSubscribe_FanOutAndUnsubscribe(t *testing.T) {
	c := NewCollector(10, fixedNow)
	var seen []EntryType
	unsub := c.Subscribe(func(e Entry) { seen = append(seen, e.Type) })

	c.Record(Entry{Type: RuleExecuted})
	require.Equal(t, []EntryType{RuleExecuted}, seen)

	unsub()
	c.Record(Entry{Type: RuleFailed})
	assert.Len(t, seen, 1)

	unsub() // second call is a no-op
}

func TestSubscribe_PanickingSubscriberIsIsolated(t *testing.T) {
	c := NewCollector(10, fixedNow)
	c.Subscribe(func(Entry) { panic("boom") })
	var count int
	c.Subscribe(func(Entry) { count++ })

	c.Record(Entry{Type: RuleExecuted})
	assert.Equal(t, 1, count, "later subscribers still run")
	assert.Equal(t, 1, c.Len(), "the entry is retained")
}

func TestDisable_StopsRecordingKeepsHistory(t *testing.T) {
	c := NewCollector(10, fixedNow)
	c.Record(Entry{Type: RuleExecuted})

	var notified int
	c.Subscribe(func(Entry) { notified++ })

	c.Disable()
	assert.False(t, c.IsEnabled())
	c.Record(Entry{Type: RuleFailed})
	assert.Equal(t, 1, c.Len(), "history survives disable")
	assert.Equal(t, 0, notified, "subscribers see nothing while disabled")

	c.Enable()
	c.Record(Entry{Type: RuleSkipped})
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, notified)
}

func TestNewCollector_DefaultCapacity(t *testing.T) {
	c := NewCollector(0, nil)
	assert.Equal(t, DefaultMaxEntries, c.Capacity())
	assert.True(t, c.IsEnabled())
}
