package service

import (
	"testing"
	"time"

	"chrono-battle/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBattle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 10, heal: 10})
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 0)

	battle := env.newBattle(t, a, b)

	assert.Regexp(t, `^BATTLE_\d+_[0-9a-f]{8}$`, battle.ID)
	assert.Equal(t, models.BattleWaiting, battle.State)
	assert.Equal(t, 1, battle.Round)
	assert.Equal(t, a, battle.CurrentActor)
	assert.Equal(t, 100, battle.Player2.CurrentHP, "non-positive HP starts at max")

	got, ok := env.registry.ByParticipant(b)
	require.True(t, ok)
	assert.Same(t, battle, got)
}

func TestReadyStartsBattle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 10, heal: 10})
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 100)
	battle := env.newBattle(t, a, b)

	env.battles.Ready(env.ctx, a, battle.ID)
	assert.Equal(t, []string{models.TypeBattleUpdate}, env.notifier.Types(a))
	assert.Equal(t, []string{models.TypeBattleUpdate}, env.notifier.Types(b))
	u := battleUpdate(t, env.notifier.Last(t, b))
	assert.Equal(t, models.LogActionReady, u.Effect.Action)
	assert.Equal(t, models.BattleWaiting, battleState(battle))

	// повторная готовность игнорируется
	env.battles.Ready(env.ctx, a, battle.ID)
	assert.Len(t, env.notifier.Messages(a), 1)

	// посторонний не может подтвердить готовность
	env.battles.Ready(env.ctx, 999, battle.ID)
	assert.Len(t, env.notifier.Messages(a), 1)

	env.battles.Ready(env.ctx, b, battle.ID)
	assert.Equal(t, []string{models.TypeBattleUpdate, models.TypeBattleUpdate, models.TypeBattleStart}, env.notifier.Types(a))

	start, ok := env.notifier.Last(t, b).Data.(models.BattleStart)
	require.True(t, ok)
	assert.Equal(t, models.BattleFighting, start.Board.State)
	assert.Equal(t, a, start.Board.CurrentActor)
	assert.Equal(t, 1, start.Board.Round)
}

func TestActionsAlternateTurns(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 10, heal: 10})
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 100)
	battle := env.startBattle(t, a, b)

	// не его ход
	env.act(b, battle, models.ActionSkill, skillSlash)
	assert.Empty(t, env.notifier.Messages(a))

	env.act(a, battle, models.ActionSkill, skillSlash)
	u := battleUpdate(t, env.notifier.Last(t, b))
	assert.Equal(t, 1, u.Round)
	assert.Equal(t, a, u.ActorID)
	assert.Equal(t, b, u.NextActor)
	assert.Equal(t, 10, u.Effect.Damage)
	assert.Equal(t, 90, u.Board.Player2.CurrentHP)

	// ход уже передан
	env.act(a, battle, models.ActionSkill, skillSlash)
	assert.Len(t, env.notifier.Messages(b), 1)

	env.act(b, battle, models.ActionSkill, skillSlash)
	u = battleUpdate(t, env.notifier.Last(t, a))
	assert.Equal(t, 1, u.Round)
	assert.Equal(t, a, u.NextActor)
	assert.Equal(t, 2, u.Board.Round)

	battle.Lock()
	defer battle.Unlock()
	assert.Len(t, battle.Logs, 4, "two ready entries and two actions")
}

func TestKillingBlowEndsBattle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 40, heal: 10})
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 40)
	battle := env.startBattle(t, a, b)

	env.act(a, battle, models.ActionSkill, skillSlash)

	for _, id := range []int64{a, b} {
		require.Equal(t, []string{models.TypeBattleEnd}, env.notifier.Types(id), "battle_end must come right after the blow")
		end := battleEnd(t, env.notifier.Last(t, id))
		assert.Equal(t, models.EndNormal, end.Reason)
		assert.Equal(t, a, end.WinnerID)
		require.NotNil(t, end.Effect)
		assert.Equal(t, 40, end.Effect.Damage)
		require.NotNil(t, end.Board)
		assert.Equal(t, 0, end.Board.Player2.CurrentHP)
		assert.False(t, end.Board.Player2.Alive)
	}

	assert.Equal(t, models.BattleFinished, battleState(battle))
	_, ok := env.registry.ByParticipant(a)
	assert.False(t, ok)
	_, ok = env.registry.ByID(battle.ID)
	assert.False(t, ok)

	settled := env.settler.Settled()
	require.Len(t, settled, 1)
	assert.Equal(t, models.BattleFinished, settled[0].State)
	assert.Equal(t, a, settled[0].WinnerID)
	assert.NotSame(t, battle, settled[0])

	// после завершения действия отбрасываются
	env.act(b, battle, models.ActionSkill, skillSlash)
	assert.Len(t, env.notifier.Messages(b), 1)
}

func TestSkillCooldown(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 5, heal: 10})
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 100)
	battle := env.startBattle(t, a, b)

	env.act(a, battle, models.ActionSkill, skillHeavy) // раунд 1
	env.act(b, battle, models.ActionDefend, 0)

	env.notifier.Reset()
	env.act(a, battle, models.ActionSkill, skillHeavy) // раунд 2: еще на перезарядке
	assert.Empty(t, env.notifier.Messages(b))

	env.act(a, battle, models.ActionDefend, 0)
	env.act(b, battle, models.ActionDefend, 0)

	env.notifier.Reset()
	env.act(a, battle, models.ActionSkill, skillHeavy) // раунд 3
	u := battleUpdate(t, env.notifier.Last(t, b))
	assert.Equal(t, 3, u.Round)
	assert.Equal(t, "Heavy Strike", u.Effect.SkillName)

	// чужой навык недоступен
	env.notifier.Reset()
	env.act(b, battle, models.ActionSkill, 42)
	assert.Empty(t, env.notifier.Messages(a))
}

func TestDefendLastsUntilOwnTurn(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 10, heal: 10})
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 100)
	battle := env.startBattle(t, a, b)

	env.act(a, battle, models.ActionDefend, 0)
	u := battleUpdate(t, env.notifier.Last(t, a))
	assert.Equal(t, models.LogActionDefend, u.Effect.Action)
	assert.True(t, u.Board.Player1.Defending)

	env.act(b, battle, models.ActionSkill, skillSlash)
	u = battleUpdate(t, env.notifier.Last(t, a))
	assert.Contains(t, u.Effect.Description, "(defended)")
	assert.False(t, u.Board.Player1.Defending, "stance resets when the defender's turn begins")
}

func TestDodgedAttack(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 0, heal: 10})
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 100)
	battle := env.startBattle(t, a, b)

	env.act(a, battle, models.ActionSkill, skillSlash)
	u := battleUpdate(t, env.notifier.Last(t, a))
	assert.Equal(t, 0, u.Effect.Damage)
	assert.Contains(t, u.Effect.Description, "(dodged!)")
	assert.Equal(t, 100, u.Board.Player2.CurrentHP)
}

func TestHealSkill(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 10, heal: 30})
	a := env.seedPlayer(t, "alice", 1000, 50)
	b := env.seedPlayer(t, "bob", 1000, 100)
	battle := env.startBattle(t, a, b)

	env.act(a, battle, models.ActionSkill, skillMend)
	u := battleUpdate(t, env.notifier.Last(t, a))
	assert.Equal(t, 30, u.Effect.Heal)
	assert.Equal(t, a, u.Effect.TargetID)
	assert.Equal(t, 80, u.Board.Player1.CurrentHP)
	assert.Equal(t, 2, u.Board.Player1.Cooldowns[skillMend], "cooldown ticks once when the turn passes")
}

func TestUseItem(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 10, heal: 10})
	a := env.seedPlayer(t, "alice", 1000, 60)
	b := env.seedPlayer(t, "bob", 1000, 100)
	require.NoError(t, env.store.GrantItem(env.ctx, a, itemPotion, 1))
	require.NoError(t, env.store.GrantItem(env.ctx, a, itemSword, 1))
	battle := env.startBattle(t, a, b)

	// не расходуемый предмет
	env.act(a, battle, models.ActionItem, itemSword)
	assert.Empty(t, env.notifier.Messages(a))

	env.act(a, battle, models.ActionItem, itemPotion)
	u := battleUpdate(t, env.notifier.Last(t, a))
	assert.Equal(t, models.LogActionItem, u.Effect.Action)
	assert.Equal(t, 30, u.Effect.Heal)
	assert.Equal(t, 90, u.Board.Player1.CurrentHP)

	qty, err := env.store.ItemQuantity(env.ctx, a, itemPotion)
	require.NoError(t, err)
	assert.Zero(t, qty)

	env.act(b, battle, models.ActionDefend, 0)

	// зелья больше нет
	env.notifier.Reset()
	env.act(a, battle, models.ActionItem, itemPotion)
	assert.Empty(t, env.notifier.Messages(a))
}

func TestSurrender(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 10, heal: 10})
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 100)

	waiting := env.newBattle(t, a, b)
	env.battles.Surrender(env.ctx, a, waiting.ID)
	assert.Equal(t, models.BattleWaiting, battleState(waiting), "surrender needs a running battle")
	require.True(t, env.registry.Remove(waiting.ID))

	battle := env.startBattle(t, a, b)
	env.battles.Surrender(env.ctx, b, battle.ID) // не в свой ход тоже можно

	for _, id := range []int64{a, b} {
		end := battleEnd(t, env.notifier.Last(t, id))
		assert.Equal(t, models.EndSurrender, end.Reason)
		assert.Equal(t, a, end.WinnerID)
		assert.NotNil(t, end.Board)
	}
	assert.Zero(t, env.registry.Count())
	require.Len(t, env.settler.Settled(), 1)
}

func TestRejoin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 10, heal: 10})
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 100)

	env.battles.Rejoin(env.ctx, a)
	res, ok := env.notifier.Last(t, a).Data.(models.RejoinResult)
	require.True(t, ok)
	assert.False(t, res.Success)

	battle := env.startBattle(t, a, b)
	env.clock.Advance(time.Second)
	env.act(a, battle, models.ActionSkill, skillSlash)
	env.battles.Wait()

	env.battles.Rejoin(env.ctx, b)
	msg := env.notifier.Last(t, b)
	require.Equal(t, models.TypeRejoinResult, msg.Type)
	res = msg.Data.(models.RejoinResult)
	assert.True(t, res.Success)
	assert.Equal(t, battle.ID, res.BattleID)
	assert.Equal(t, 1, res.Round)
	assert.Equal(t, b, res.CurrentActor)
	require.NotNil(t, res.Player2)
	assert.Equal(t, 90, res.Player2.CurrentHP)

	// без снимка ответ строится по живому бою
	env.mr.FlushAll()
	env.battles.Rejoin(env.ctx, a)
	res = env.notifier.Last(t, a).Data.(models.RejoinResult)
	assert.True(t, res.Success)
	assert.Equal(t, b, res.CurrentActor)
	assert.Equal(t, 90, res.Player2.CurrentHP)
}

func TestMarkDisconnectedOnlyWhileFighting(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, fixedFormulas{damage: 10, heal: 10})
	a := env.seedPlayer(t, "alice", 1000, 100)
	b := env.seedPlayer(t, "bob", 1000, 100)

	env.battles.MarkDisconnected(a)
	assert.False(t, env.registry.IsDisconnected(a), "no battle")

	waiting := env.newBattle(t, a, b)
	env.battles.MarkDisconnected(a)
	assert.False(t, env.registry.IsDisconnected(a), "waiting battle")
	require.True(t, env.registry.Remove(waiting.ID))

	env.startBattle(t, a, b)
	env.battles.MarkDisconnected(a)
	assert.True(t, env.registry.IsDisconnected(a))
}
