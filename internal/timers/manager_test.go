package timers

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidefall/reflex/internal/clock"
	"github.com/tidefall/reflex/internal/rule"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type capture struct {
	mu    sync.Mutex
	fired []Timer
}

func (c *capture) deliver(t Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fired = append(c.fired, t)
}

func (c *capture) all() []Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Timer(nil), c.fired...)
}

func oneShot(name string, d time.Duration) rule.TimerSpec {
	return rule.TimerSpec{
		Name:     name,
		Duration: rule.Duration(d),
		OnExpire: rule.EmitSpec{Topic: "timer.fired", Data: map[string]any{"timer": name}},
	}
}

func TestSet_ValidatesSpec(t *testing.T) {
	m := NewManager(clock.NewManual(start), func(Timer) {})

	_, err := m.Set(rule.TimerSpec{Duration: rule.Duration(time.Second), OnExpire: rule.EmitSpec{Topic: "t"}}, "")
	require.True(t, IsTimerError(err), "name is required")

	_, err = m.Set(rule.TimerSpec{Name: "x", OnExpire: rule.EmitSpec{Topic: "t"}}, "")
	require.True(t, IsTimerError(err), "duration or cron is required")

	_, err = m.Set(rule.TimerSpec{
		Name: "x", Duration: rule.Duration(time.Second), Cron: "* * * * *",
		OnExpire: rule.EmitSpec{Topic: "t"},
	}, "")
	require.True(t, IsTimerError(err), "duration and cron are exclusive")

	_, err = m.Set(rule.TimerSpec{Name: "x", Duration: rule.Duration(time.Second)}, "")
	require.True(t, IsTimerError(err), "onExpire topic is required")

	_, err = m.Set(rule.TimerSpec{Name: "x", Cron: "bogus", OnExpire: rule.EmitSpec{Topic: "t"}}, "")
	require.True(t, IsTimerError(err))
}

func TestSet_OneShotFiresOnceAndForgets(t *testing.T) {
	clk := clock.NewManual(start)
	var c capture
	m := NewManager(clk, c.deliver)

	scheduled, err := m.Set(oneShot("escalate", 30*time.Minute), "corr-1")
	require.NoError(t, err)
	assert.Equal(t, start.Add(30*time.Minute), scheduled.FireAt)
	assert.Equal(t, 1, m.Len())

	clk.Advance(29 * time.Minute)
	assert.Empty(t, c.all())

	clk.Advance(time.Minute)
	fired := c.all()
	require.Len(t, fired, 1)
	assert.Equal(t, "escalate", fired[0].Name)
	assert.Equal(t, "corr-1", fired[0].CorrelationID)
	assert.Equal(t, 1, fired[0].Count)
	assert.Equal(t, 0, m.Len())

	clk.Advance(time.Hour)
	assert.Len(t, c.all(), 1, "one-shot never refires")
}

func TestSet_ReplaceSupersedesPriorTimer(t *testing.T) {
	clk := clock.NewManual(start)
	var c capture
	m := NewManager(clk, c.deliver)

	_, err := m.Set(oneShot("escalate", time.Minute), "")
	require.NoError(t, err)
	_, err = m.Set(oneShot("escalate", time.Hour), "")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	clk.Advance(time.Minute)
	assert.Empty(t, c.all(), "the replaced schedule does not fire")

	clk.Advance(time.Hour)
	require.Len(t, c.all(), 1)
}

func TestSet_RepeatHonorsMaxCount(t *testing.T) {
	clk := clock.NewManual(start)
	var c capture
	m := NewManager(clk, c.deliver)

	spec := oneShot("heartbeat", time.Minute)
	spec.Repeat = true
	spec.MaxCount = 3
	_, err := m.Set(spec, "")
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	fired := c.all()
	require.Len(t, fired, 3)
	assert.Equal(t, 1, fired[0].Count)
	assert.Equal(t, 3, fired[2].Count)
	assert.Equal(t, 0, m.Len())
}

func TestSet_RepeatWithoutMaxCountKeepsFiring(t *testing.T) {
	clk := clock.NewManual(start)
	var c capture
	m := NewManager(clk, c.deliver)

	spec := oneShot("heartbeat", time.Minute)
	spec.Repeat = true
	_, err := m.Set(spec, "")
	require.NoError(t, err)

	clk.Advance(5 * time.Minute)
	assert.Len(t, c.all(), 5)
	assert.Equal(t, 1, m.Len())
}

func TestSet_CronSchedulesNextInstant(t *testing.T) {
	clk := clock.NewManual(start) // 12:00:00 UTC
	var c capture
	m := NewManager(clk, c.deliver)

	_, err := m.Set(rule.TimerSpec{
		Name:     "quarterly",
		Cron:     "*/15 * * * *",
		OnExpire: rule.EmitSpec{Topic: "tick"},
	}, "")
	require.NoError(t, err)

	pending, ok := m.Get("quarterly")
	require.True(t, ok)
	assert.Equal(t, start.Add(15*time.Minute), pending.FireAt)

	clk.Advance(31 * time.Minute)
	fired := c.all()
	require.Len(t, fired, 2)
	assert.Equal(t, start.Add(15*time.Minute), fired[0].FireAt)
	assert.Equal(t, start.Add(30*time.Minute), fired[1].FireAt)
	assert.Equal(t, 1, m.Len(), "cron timers reschedule themselves")
}

func TestSet_CronMaxCountStopsRescheduling(t *testing.T) {
	clk := clock.NewManual(start)
	var c capture
	m := NewManager(clk, c.deliver)

	_, err := m.Set(rule.TimerSpec{
		Name:     "limited",
		Cron:     "* * * * *",
		MaxCount: 2,
		OnExpire: rule.EmitSpec{Topic: "tick"},
	}, "")
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	assert.Len(t, c.all(), 2)
	assert.Equal(t, 0, m.Len())
}

func TestCancel(t *testing.T) {
	clk := clock.NewManual(start)
	var c capture
	m := NewManager(clk, c.deliver)

	_, err := m.Set(oneShot("escalate", time.Minute), "")
	require.NoError(t, err)

	assert.True(t, m.Cancel("escalate"))
	assert.False(t, m.Cancel("escalate"))

	clk.Advance(time.Hour)
	assert.Empty(t, c.all())
}

func TestAll_SortedByName(t *testing.T) {
	m := NewManager(clock.NewManual(start), func(Timer) {})
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, err := m.Set(oneShot(name, time.Minute), "")
		require.NoError(t, err)
	}

	all := m.All()
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "mid", all[1].Name)
	assert.Equal(t, "zeta", all[2].Name)
}

func TestStop_PreventsDeliveryAndSet(t *testing.T) {
	clk := clock.NewManual(start)
	var c capture
	m := NewManager(clk, c.deliver)

	_, err := m.Set(oneShot("escalate", time.Minute), "")
	require.NoError(t, err)

	m.Stop()
	clk.Advance(time.Hour)
	assert.Empty(t, c.all())
	assert.Equal(t, 0, m.Len())

	_, err = m.Set(oneShot("late", time.Minute), "")
	require.True(t, IsTimerError(err))

	m.Stop() // idempotent
}
