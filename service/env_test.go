package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chrono-battle/models"
	"chrono-battle/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const (
	skillSlash = 1
	skillHeavy = 2
	skillMend  = 3

	itemPotion = 1
	itemSword  = 2
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs map[int64][]models.ServerMessage
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{msgs: make(map[int64][]models.ServerMessage)}
}

func (n *fakeNotifier) Send(accountID int64, msg models.ServerMessage) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs[accountID] = append(n.msgs[accountID], msg)
	return true
}

func (n *fakeNotifier) Messages(accountID int64) []models.ServerMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.ServerMessage(nil), n.msgs[accountID]...)
}

func (n *fakeNotifier) Types(accountID int64) []string {
	var types []string
	for _, m := range n.Messages(accountID) {
		types = append(types, m.Type)
	}
	return types
}

func (n *fakeNotifier) Last(t *testing.T, accountID int64) models.ServerMessage {
	t.Helper()
	msgs := n.Messages(accountID)
	require.NotEmpty(t, msgs, "no messages for %d", accountID)
	return msgs[len(msgs)-1]
}

func (n *fakeNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = make(map[int64][]models.ServerMessage)
}

type fakeSettler struct {
	mu      sync.Mutex
	battles []*models.Battle
}

func (s *fakeSettler) Enqueue(b *models.Battle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.battles = append(s.battles, b)
}

func (s *fakeSettler) Settled() []*models.Battle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Battle(nil), s.battles...)
}

// fixedFormulas всегда возвращает заданные значения
type fixedFormulas struct {
	damage int
	heal   int
}

func (f fixedFormulas) Damage(*models.BattlePlayer, *models.BattlePlayer, *models.Skill) int {
	return f.damage
}

func (f fixedFormulas) Heal(*models.BattlePlayer, *models.Skill) int {
	return f.heal
}

type fakeConn struct {
	id string

	mu     sync.Mutex
	msgs   []models.ServerMessage
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg models.ServerMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.msgs = append(c.msgs, msg)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) Messages() []models.ServerMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ServerMessage(nil), c.msgs...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type testEnv struct {
	ctx      context.Context
	logger   *zap.Logger
	clock    *fakeClock
	metrics  *Metrics
	mr       *miniredis.Miniredis
	redis    *storage.RedisStorage
	store    *storage.SQLiteStore
	catalog  *Catalog
	notifier *fakeNotifier
	settler  *fakeSettler
	registry *Registry
	battles  *BattleService
	matcher  *MatcherService
}

type envOption func(*BattleConfig, *MatcherConfig)

func withTurnTimeout(d time.Duration) envOption {
	return func(b *BattleConfig, _ *MatcherConfig) { b.TurnTimeout = d }
}

func withMatchTimeout(d time.Duration) envOption {
	return func(_ *BattleConfig, m *MatcherConfig) { m.MatchTimeout = d }
}

func newTestEnv(t *testing.T, formulas FormulaEvaluator, opts ...envOption) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	store, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "battle.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rs := storage.NewRedisStorageFromClient(client, logger)

	seedCatalog(t, store)
	catalog := NewCatalog(store, logger)
	require.NoError(t, catalog.Refresh(ctx))

	battleCfg := DefaultBattleConfig()
	matcherCfg := DefaultMatcherConfig()
	for _, opt := range opts {
		opt(&battleCfg, matcherCfg)
	}

	env := &testEnv{
		ctx:      ctx,
		logger:   logger,
		clock:    newFakeClock(),
		metrics:  NewMetrics(prometheus.NewRegistry()),
		mr:       mr,
		redis:    rs,
		store:    store,
		catalog:  catalog,
		notifier: newFakeNotifier(),
		settler:  &fakeSettler{},
	}
	env.registry = NewRegistry(env.clock, env.metrics)
	env.battles = NewBattleService(BattleDeps{
		Registry:  env.registry,
		Notifier:  env.notifier,
		Accounts:  store,
		Inventory: store,
		Catalog:   catalog,
		Formulas:  formulas,
		Cache:     rs,
		Settler:   env.settler,
		Clock:     env.clock,
		Logger:    logger,
		Metrics:   env.metrics,
	}, battleCfg)
	env.matcher = NewMatcherService(rs, store, env.registry, env.battles, env.notifier, env.clock, logger, env.metrics, matcherCfg)
	env.battles.AttachRequeuer(env.matcher)

	// фоновые записи должны завершиться до остановки miniredis
	t.Cleanup(env.battles.Wait)
	return env
}

func seedCatalog(t *testing.T, store *storage.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	for _, sk := range []models.Skill{
		{ID: skillSlash, Name: "Slash", Type: "attack", Multiplier: 1.0, DefenseMultiplier: 1.0},
		{ID: skillHeavy, Name: "Heavy Strike", Type: "attack", Cooldown: 2, Multiplier: 2.0, DefenseMultiplier: 0.5},
		{ID: skillMend, Name: "Mend", Type: models.SkillTypeHeal, Cooldown: 3, Multiplier: 0.3},
	} {
		require.NoError(t, store.PutSkill(ctx, sk))
	}
	require.NoError(t, store.PutItem(ctx, models.Item{ID: itemPotion, Name: "Potion", Type: models.ItemTypePotion, EffectValue: 30}))
	require.NoError(t, store.PutItem(ctx, models.Item{ID: itemSword, Name: "Sword", Type: "WEAPON", EffectValue: 10}))
}

// seedPlayer создает активного игрока с персонажем на 100 HP и всеми навыками
func (e *testEnv) seedPlayer(t *testing.T, name string, rating, hp int) int64 {
	t.Helper()
	id, err := e.store.CreateAccount(e.ctx, &models.Account{
		Username: name,
		Nickname: name,
		Status:   models.AccountStatusActive,
		Rating:   rating,
	})
	require.NoError(t, err)

	charID, err := e.store.CreateCharacter(e.ctx, &models.Character{
		AccountID: id,
		Name:      name + "-hero",
		MaxHP:     100,
		CurrentHP: hp,
		Attack:    20,
		Defense:   5,
		Speed:     10,
		Active:    true,
	})
	require.NoError(t, err)
	for _, sk := range []int{skillSlash, skillHeavy, skillMend} {
		require.NoError(t, e.store.AttachSkill(e.ctx, charID, sk))
	}
	return id
}

func (e *testEnv) queueItem(t *testing.T, accountID int64) *models.MatchQueueItem {
	t.Helper()
	account, err := e.store.GetAccount(e.ctx, accountID)
	require.NoError(t, err)
	character, err := e.store.ActiveCharacter(e.ctx, accountID)
	require.NoError(t, err)
	return models.NewMatchQueueItem(account.ID, account.Rating, account.Nickname, character.ID, e.clock.Now())
}

// newBattle создает бой в фазе готовности
func (e *testEnv) newBattle(t *testing.T, a, b int64) *models.Battle {
	t.Helper()
	battle, err := e.battles.CreateBattle(e.ctx, e.queueItem(t, a), e.queueItem(t, b))
	require.NoError(t, err)
	return battle
}

// startBattle создает бой, подтверждает готовность обоих и очищает уведомления
func (e *testEnv) startBattle(t *testing.T, a, b int64) *models.Battle {
	t.Helper()
	battle := e.newBattle(t, a, b)
	e.battles.Ready(e.ctx, a, battle.ID)
	e.battles.Ready(e.ctx, b, battle.ID)
	require.Equal(t, models.BattleFighting, battleState(battle))
	e.notifier.Reset()
	return battle
}

func (e *testEnv) act(accountID int64, battle *models.Battle, kind models.ActionKind, param int) {
	e.battles.Act(e.ctx, accountID, models.BattleActionMessage{BattleID: battle.ID, Kind: kind, ParamID: param})
}

func battleState(b *models.Battle) models.BattleState {
	b.Lock()
	defer b.Unlock()
	return b.State
}

func battleEnd(t *testing.T, msg models.ServerMessage) models.BattleEnd {
	t.Helper()
	require.Equal(t, models.TypeBattleEnd, msg.Type)
	end, ok := msg.Data.(models.BattleEnd)
	require.True(t, ok)
	return end
}

func battleUpdate(t *testing.T, msg models.ServerMessage) models.BattleUpdate {
	t.Helper()
	require.Equal(t, models.TypeBattleUpdate, msg.Type)
	u, ok := msg.Data.(models.BattleUpdate)
	require.True(t, ok)
	return u
}
