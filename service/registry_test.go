package service

import (
	"testing"
	"time"

	"chrono-battle/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBattle(id string, p1, p2 int64, now time.Time) *models.Battle {
	player := func(accountID int64) *models.BattlePlayer {
		return models.NewBattlePlayer(
			&models.Account{ID: accountID, Nickname: "p"},
			&models.Character{ID: accountID * 10, MaxHP: 100, CurrentHP: 100},
			nil,
		)
	}
	return models.NewBattle(id, player(p1), player(p2), now)
}

func TestRegistry_Index(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	metrics := NewMetrics(prometheus.NewRegistry())
	r := NewRegistry(clock, metrics)

	b := testBattle("B1", 1, 2, clock.Now())
	r.Add(b)
	assert.Equal(t, 1, r.Count())
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.LiveBattles), 0)

	got, ok := r.ByID("B1")
	require.True(t, ok)
	assert.Same(t, b, got)
	for _, id := range []int64{1, 2} {
		got, ok = r.ByParticipant(id)
		require.True(t, ok)
		assert.Same(t, b, got)
	}
	_, ok = r.ByParticipant(3)
	assert.False(t, ok)
	assert.Len(t, r.SnapshotAll(), 1)

	assert.True(t, r.Remove("B1"))
	assert.False(t, r.Remove("B1"), "second removal is a no-op")
	_, ok = r.ByParticipant(1)
	assert.False(t, ok)
	assert.Zero(t, r.Count())
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.LiveBattles), 0)
}

func TestRegistry_DisconnectMarkers(t *testing.T) {
	t.Parallel()
	clock := newFakeClock()
	r := NewRegistry(clock, NewMetrics(prometheus.NewRegistry()))
	r.Add(testBattle("B1", 1, 2, clock.Now()))

	r.MarkDisconnected(1)
	clock.Advance(50 * time.Second)
	r.MarkDisconnected(1) // первая отметка сохраняется
	assert.EqualValues(t, 50, r.DisconnectedFor(1))
	assert.Zero(t, r.DisconnectedFor(2))

	clock.Advance(70 * time.Second)
	assert.Equal(t, []int64{1}, r.ExpiredDisconnects(120*time.Second))
	assert.Empty(t, r.ExpiredDisconnects(121*time.Second))

	r.ClearDisconnected(1)
	assert.False(t, r.IsDisconnected(1))

	r.MarkDisconnected(2)
	r.Remove("B1")
	assert.False(t, r.IsDisconnected(2), "removing the battle clears its markers")
}
