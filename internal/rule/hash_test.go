package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_IgnoresAssignedMetadata(t *testing.T) {
	in := Input{
		ID:      "r1",
		Name:    "Rule one",
		Trigger: Trigger{Type: TriggerEvent, Topic: "t"},
		Actions: []Action{{Type: ActionLog, Message: "hi"}},
	}
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	h1, err := Hash(in.Materialize(t1, 1))
	require.NoError(t, err)
	h2, err := Hash(in.Materialize(t2, 7))
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "createdAt/updatedAt/version do not change identity")
}

func TestHash_ChangesWithContent(t *testing.T) {
	in := Input{
		ID:      "r1",
		Name:    "Rule one",
		Trigger: Trigger{Type: TriggerEvent, Topic: "t"},
		Actions: []Action{{Type: ActionLog, Message: "hi"}},
	}
	h1, err := HashInput(in)
	require.NoError(t, err)

	in.Actions[0].Message = "bye"
	h2, err := HashInput(in)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHashInput_MatchesMaterializedHash(t *testing.T) {
	in := Input{
		ID:       "r1",
		Name:     "Rule one",
		Priority: 5,
		Trigger:  Trigger{Type: TriggerFact, Pattern: "orders:*"},
		Actions:  []Action{{Type: ActionDeleteFact, Key: "stale"}},
	}
	hi, err := HashInput(in)
	require.NoError(t, err)
	hr, err := Hash(in.Materialize(time.Now(), 3))
	require.NoError(t, err)
	assert.Equal(t, hi, hr, "a loaded input compares equal to its registered rule")
}
