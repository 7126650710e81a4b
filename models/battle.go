package models

import (
	"sync"
	"time"
)

// BattleState состояние боя
type BattleState string

const (
	BattleWaiting  BattleState = "WAITING"
	BattleFighting BattleState = "FIGHTING"
	BattleFinished BattleState = "FINISHED"
	BattleAborted  BattleState = "ABORTED"
)

// IsEnded сообщает, является ли состояние терминальным
func (s BattleState) IsEnded() bool {
	return s == BattleFinished || s == BattleAborted
}

// EndReason причина завершения боя
type EndReason string

const (
	EndNormal     EndReason = "NORMAL"
	EndSurrender  EndReason = "SURRENDER"
	EndTimeout    EndReason = "TIMEOUT"
	EndDisconnect EndReason = "DISCONNECT"

	// Уведомления фазы готовности, в хранилище не попадают
	EndMatchTimeoutOpponent EndReason = "MATCH_TIMEOUT_OPPONENT"
	EndMatchTimeoutYou      EndReason = "MATCH_TIMEOUT_YOU"
)

// Действия, фиксируемые в журнале боя
const (
	LogActionReady  = "READY"
	LogActionDefend = "DEFEND"
	LogActionItem   = "ITEM"
	LogActionSkill  = "SKILL"
)

// BattlePlayer представляет участника боя с текущими боевыми характеристиками
type BattlePlayer struct {
	AccountID   int64       `json:"account_id"`
	Nickname    string      `json:"nickname"`
	CharacterID int64       `json:"character_id"`
	CurrentHP   int         `json:"current_hp"`
	MaxHP       int         `json:"max_hp"`
	Attack      int         `json:"attack"`
	Defense     int         `json:"defense"`
	Speed       int         `json:"speed"`
	CritRate    int         `json:"crit_rate"`
	DodgeRate   int         `json:"dodge_rate"`
	Cooldowns   map[int]int `json:"cooldowns"` // skill id -> оставшиеся ходы
	Alive       bool        `json:"alive"`
	Ready       bool        `json:"ready"`
	Defending   bool        `json:"defending"`
}

// NewBattlePlayer собирает участника из аккаунта, персонажа и списка навыков
func NewBattlePlayer(account *Account, character *Character, skillIDs []int) *BattlePlayer {
	hp := character.CurrentHP
	if hp <= 0 || hp > character.MaxHP {
		hp = character.MaxHP
	}

	cooldowns := make(map[int]int, len(skillIDs))
	for _, id := range skillIDs {
		cooldowns[id] = 0
	}

	return &BattlePlayer{
		AccountID:   account.ID,
		Nickname:    account.Nickname,
		CharacterID: character.ID,
		CurrentHP:   hp,
		MaxHP:       character.MaxHP,
		Attack:      character.Attack,
		Defense:     character.Defense,
		Speed:       character.Speed,
		CritRate:    character.CritRate,
		DodgeRate:   character.DodgeRate,
		Cooldowns:   cooldowns,
		Alive:       hp > 0,
	}
}

// TakeDamage уменьшает HP (не ниже нуля) и возвращает фактический урон
func (p *BattlePlayer) TakeDamage(damage int) int {
	if damage <= 0 {
		return 0
	}
	before := p.CurrentHP
	p.CurrentHP -= damage
	if p.CurrentHP <= 0 {
		p.CurrentHP = 0
		p.Alive = false
	}
	return before - p.CurrentHP
}

// Heal восстанавливает HP (не выше максимума) и возвращает фактическое лечение
func (p *BattlePlayer) Heal(amount int) int {
	if amount <= 0 {
		return 0
	}
	before := p.CurrentHP
	p.CurrentHP += amount
	if p.CurrentHP > p.MaxHP {
		p.CurrentHP = p.MaxHP
	}
	return p.CurrentHP - before
}

// HasSkill проверяет, принадлежит ли навык персонажу
func (p *BattlePlayer) HasSkill(skillID int) bool {
	_, ok := p.Cooldowns[skillID]
	return ok
}

// CanUseSkill сообщает, есть ли навык у персонажа и готов ли он
func (p *BattlePlayer) CanUseSkill(skillID int) bool {
	cd, ok := p.Cooldowns[skillID]
	return ok && cd == 0
}

// StartCooldown ставит навык на перезарядку
func (p *BattlePlayer) StartCooldown(skillID, turns int) {
	if turns > 0 {
		p.Cooldowns[skillID] = turns
	}
}

// ReduceCooldowns уменьшает все перезарядки на один ход
func (p *BattlePlayer) ReduceCooldowns() {
	for id, cd := range p.Cooldowns {
		if cd > 0 {
			p.Cooldowns[id] = cd - 1
		}
	}
}

// ResetTurnState сбрасывает состояния, действующие до начала своего хода
func (p *BattlePlayer) ResetTurnState() {
	p.Defending = false
}

// View возвращает представление игрока для клиента
func (p *BattlePlayer) View() PlayerView {
	cooldowns := make(map[int]int, len(p.Cooldowns))
	for id, cd := range p.Cooldowns {
		cooldowns[id] = cd
	}
	return PlayerView{
		AccountID: p.AccountID,
		Nickname:  p.Nickname,
		CurrentHP: p.CurrentHP,
		MaxHP:     p.MaxHP,
		Alive:     p.Alive,
		Ready:     p.Ready,
		Defending: p.Defending,
		Cooldowns: cooldowns,
	}
}

func (p *BattlePlayer) clone() *BattlePlayer {
	c := *p
	c.Cooldowns = make(map[int]int, len(p.Cooldowns))
	for id, cd := range p.Cooldowns {
		c.Cooldowns[id] = cd
	}
	return &c
}

// PlayerView состояние игрока, видимое клиентам
type PlayerView struct {
	AccountID int64       `json:"account_id"`
	Nickname  string      `json:"nickname"`
	CurrentHP int         `json:"current_hp"`
	MaxHP     int         `json:"max_hp"`
	Alive     bool        `json:"alive"`
	Ready     bool        `json:"ready"`
	Defending bool        `json:"defending"`
	Cooldowns map[int]int `json:"cooldowns"`
}

// Board полное видимое состояние боя
type Board struct {
	BattleID     string      `json:"battle_id"`
	State        BattleState `json:"state"`
	Round        int         `json:"round"`
	CurrentActor int64       `json:"current_actor"`
	Player1      PlayerView  `json:"player1"`
	Player2      PlayerView  `json:"player2"`
}

// BattleLog запись журнала боя, после добавления не изменяется
type BattleLog struct {
	Round          int       `json:"round"`
	ActorID        int64     `json:"actor_id"`
	ActorNickname  string    `json:"actor_nickname"`
	Action         string    `json:"action"`
	SkillName      string    `json:"skill_name,omitempty"`
	Damage         int       `json:"damage"`
	Heal           int       `json:"heal"`
	TargetID       int64     `json:"target_id,omitempty"`
	TargetNickname string    `json:"target_nickname,omitempty"`
	Description    string    `json:"description"`
	Timestamp      time.Time `json:"timestamp"`
}

// TurnSnapshot денормализованная копия боя после хода (без журнала)
type TurnSnapshot struct {
	BattleID     string       `json:"battle_id"`
	State        BattleState  `json:"state"`
	Round        int          `json:"round"`
	CurrentActor int64        `json:"current_actor"`
	Player1      BattlePlayer `json:"player1"`
	Player2      BattlePlayer `json:"player2"`
	SnapshotTime time.Time    `json:"snapshot_time"`
}

// Battle представляет сессию боя 1v1. Все изменения выполняются под Lock.
type Battle struct {
	mu sync.Mutex

	ID             string        `json:"battle_id"`
	State          BattleState   `json:"state"`
	Player1        *BattlePlayer `json:"player1"`
	Player2        *BattlePlayer `json:"player2"`
	Round          int           `json:"round"`
	CurrentActor   int64         `json:"current_actor"`
	Logs           []BattleLog   `json:"logs"`
	CreatedAt      time.Time     `json:"created_at"`
	StartTime      time.Time     `json:"start_time"`
	EndTime        time.Time     `json:"end_time"`
	LastActionTime time.Time     `json:"last_action_time"`
	WinnerID       int64         `json:"winner_id"`
	EndReason      EndReason     `json:"end_reason,omitempty"`
}

// NewBattle создает бой в состоянии ожидания готовности
func NewBattle(id string, p1, p2 *BattlePlayer, now time.Time) *Battle {
	return &Battle{
		ID:             id,
		State:          BattleWaiting,
		Player1:        p1,
		Player2:        p2,
		Round:          1,
		CurrentActor:   p1.AccountID,
		Logs:           make([]BattleLog, 0, 16),
		CreatedAt:      now,
		LastActionTime: now,
	}
}

func (b *Battle) Lock()   { b.mu.Lock() }
func (b *Battle) Unlock() { b.mu.Unlock() }

// Participant возвращает участника по идентификатору или nil
func (b *Battle) Participant(accountID int64) *BattlePlayer {
	switch accountID {
	case b.Player1.AccountID:
		return b.Player1
	case b.Player2.AccountID:
		return b.Player2
	}
	return nil
}

// Opponent возвращает соперника указанного участника или nil
func (b *Battle) Opponent(accountID int64) *BattlePlayer {
	switch accountID {
	case b.Player1.AccountID:
		return b.Player2
	case b.Player2.AccountID:
		return b.Player1
	}
	return nil
}

// IsPlayerTurn сообщает, ходит ли сейчас указанный участник
func (b *Battle) IsPlayerTurn(accountID int64) bool {
	return b.State == BattleFighting && b.CurrentActor == accountID
}

// BothReady сообщает, подтвердили ли оба участника готовность
func (b *Battle) BothReady() bool {
	return b.Player1.Ready && b.Player2.Ready
}

// Start переводит бой в активную фазу; первым ходит первый игрок
func (b *Battle) Start(now time.Time) {
	b.State = BattleFighting
	b.CurrentActor = b.Player1.AccountID
	b.StartTime = now
	b.LastActionTime = now
}

// AdvanceTurn передает ход сопернику.
// Раунд увеличивается, когда ход возвращается к первому игроку.
func (b *Battle) AdvanceTurn(now time.Time) {
	actor := b.Participant(b.CurrentActor)
	next := b.Opponent(b.CurrentActor)

	b.CurrentActor = next.AccountID
	if next == b.Player1 {
		b.Round++
	}

	actor.ReduceCooldowns()
	next.ResetTurnState()
	b.LastActionTime = now
}

// AddLog добавляет запись в журнал
func (b *Battle) AddLog(entry BattleLog) {
	b.Logs = append(b.Logs, entry)
}

// Defeated сообщает, пал ли кто-то из участников
func (b *Battle) Defeated() bool {
	return !b.Player1.Alive || !b.Player2.Alive
}

// Survivor возвращает выжившего участника, если погиб ровно один
func (b *Battle) Survivor() *BattlePlayer {
	switch {
	case b.Player1.Alive && !b.Player2.Alive:
		return b.Player1
	case b.Player2.Alive && !b.Player1.Alive:
		return b.Player2
	}
	return nil
}

// Finish завершает бой. Возвращает false, если бой уже был завершен.
func (b *Battle) Finish(winnerID int64, reason EndReason, now time.Time) bool {
	if b.State.IsEnded() {
		return false
	}
	b.State = BattleFinished
	b.WinnerID = winnerID
	b.EndReason = reason
	b.EndTime = now
	return true
}

// Abort отменяет бой без победителя
func (b *Battle) Abort(now time.Time) bool {
	if b.State.IsEnded() {
		return false
	}
	b.State = BattleAborted
	b.EndTime = now
	return true
}

// Board возвращает видимое состояние боя
func (b *Battle) Board() Board {
	return Board{
		BattleID:     b.ID,
		State:        b.State,
		Round:        b.Round,
		CurrentActor: b.CurrentActor,
		Player1:      b.Player1.View(),
		Player2:      b.Player2.View(),
	}
}

// Snapshot делает снимок боя после хода
func (b *Battle) Snapshot(now time.Time) *TurnSnapshot {
	return &TurnSnapshot{
		BattleID:     b.ID,
		State:        b.State,
		Round:        b.Round,
		CurrentActor: b.CurrentActor,
		Player1:      *b.Player1.clone(),
		Player2:      *b.Player2.clone(),
		SnapshotTime: now,
	}
}

// Clone возвращает независимую копию боя (без блокировки)
func (b *Battle) Clone() *Battle {
	logs := make([]BattleLog, len(b.Logs))
	copy(logs, b.Logs)
	return &Battle{
		ID:             b.ID,
		State:          b.State,
		Player1:        b.Player1.clone(),
		Player2:        b.Player2.clone(),
		Round:          b.Round,
		CurrentActor:   b.CurrentActor,
		Logs:           logs,
		CreatedAt:      b.CreatedAt,
		StartTime:      b.StartTime,
		EndTime:        b.EndTime,
		LastActionTime: b.LastActionTime,
		WinnerID:       b.WinnerID,
		EndReason:      b.EndReason,
	}
}

// Report строит отчет о завершенном бое
func (b *Battle) Report() *BattleReport {
	logs := make([]BattleLog, len(b.Logs))
	copy(logs, b.Logs)
	return &BattleReport{
		BattleID:    b.ID,
		Player1:     b.Player1.View(),
		Player2:     b.Player2.View(),
		WinnerID:    b.WinnerID,
		EndReason:   b.EndReason,
		TotalRounds: b.Round,
		StartTime:   b.StartTime,
		EndTime:     b.EndTime,
		Logs:        logs,
	}
}
