package service

import (
	"context"
	"testing"
	"time"

	"chrono-battle/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSettlement(env *testEnv) *SettlementWorker {
	return NewSettlementWorker(env.store, env.redis, env.clock, env.logger, env.metrics, DefaultSettlementConfig())
}

// finishedBattle проводит бой до добивающего удара и возвращает копию, переданную на расчет
func finishedBattle(t *testing.T, env *testEnv, a, b int64) *models.Battle {
	t.Helper()
	battle := env.startBattle(t, a, b)
	env.clock.Advance(5 * time.Second)
	env.act(a, battle, models.ActionSkill, skillSlash)
	env.battles.Wait()

	settled := env.settler.Settled()
	require.NotEmpty(t, settled)
	return settled[len(settled)-1]
}

func TestSettle_UpdatesAccountsAndStoresRecord(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 100, heal: 10})
	w := newTestSettlement(env)
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 100)

	battle := finishedBattle(t, env, a, b)
	require.NoError(t, w.Settle(env.ctx, battle))

	winner, err := env.store.GetAccount(env.ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1025, winner.Rating)
	assert.Equal(t, 100, winner.Gold)
	assert.Equal(t, 1, winner.WinCount)
	assert.Equal(t, 1, winner.TotalBattles)

	loser, err := env.store.GetAccount(env.ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 985, loser.Rating)
	assert.Equal(t, 20, loser.Gold)
	assert.Equal(t, 0, loser.WinCount)
	assert.Equal(t, 1, loser.TotalBattles)

	records, err := env.store.ListBattleRecords(env.ctx, b, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, battle.ID, r.BattleID)
	assert.Equal(t, a, r.WinnerID)
	assert.Equal(t, models.EndNormal, r.EndReason)
	assert.Equal(t, 1000, r.Player2EloBefore)
	assert.Equal(t, 985, r.Player2EloAfter)
	assert.Equal(t, 0, r.Player2FinalHP)
	assert.Equal(t, 5, r.DurationSeconds)
	assert.Contains(t, r.LogJSON, "Slash")

	report, err := env.redis.GetReport(env.ctx, battle.ID)
	require.NoError(t, err)
	assert.Equal(t, a, report.WinnerID)
	assert.Len(t, report.Logs, 3)

	_, err = env.redis.LoadSnapshot(env.ctx, battle.ID)
	assert.ErrorIs(t, err, models.ErrNotFound, "live cache dropped after settlement")
}

func TestSettle_IsIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 100, heal: 10})
	w := newTestSettlement(env)
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 100)

	battle := finishedBattle(t, env, a, b)
	require.NoError(t, w.Settle(env.ctx, battle))
	require.NoError(t, w.Settle(env.ctx, battle))

	winner, err := env.store.GetAccount(env.ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1025, winner.Rating)
	assert.Equal(t, 1, winner.TotalBattles)

	records, err := env.store.ListBattleRecords(env.ctx, a, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSettle_LoserRatingFloorsAtZero(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 100, heal: 10})
	w := newTestSettlement(env)
	a := env.seedPlayer(t, "alice", 10, 100)
	b := env.seedPlayer(t, "bob", 10, 100)

	battle := env.startBattle(t, a, b)
	env.battles.Surrender(env.ctx, a, battle.ID)
	settled := env.settler.Settled()
	require.Len(t, settled, 1)

	require.NoError(t, w.Settle(env.ctx, settled[0]))

	loser, err := env.store.GetAccount(env.ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 0, loser.Rating)

	winner, err := env.store.GetAccount(env.ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 35, winner.Rating)
}

func TestSettle_IgnoresUnfinishedBattles(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 100, heal: 10})
	w := newTestSettlement(env)
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 100)

	battle := env.newBattle(t, a, b)
	battle.Lock()
	battle.Abort(env.clock.Now())
	aborted := battle.Clone()
	battle.Unlock()

	require.NoError(t, w.Settle(env.ctx, aborted))
	exists, err := env.store.BattleRecordExists(env.ctx, battle.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSettlementWorker_DrainsOnShutdown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 100, heal: 10})
	w := newTestSettlement(env)
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 100)

	battle := finishedBattle(t, env, a, b)

	ctx, cancel := context.WithCancel(env.ctx)
	cancel()
	w.Enqueue(battle)
	require.NoError(t, w.Run(ctx))

	exists, err := env.store.BattleRecordExists(env.ctx, battle.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}
