package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"chrono-battle/models"
	"chrono-battle/storage/migrations"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLiteStore хранит аккаунты, персонажей, инвентарь, справочники и итоги боев
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// OpenSQLite открывает базу и применяет встроенные миграции
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("SQLite store ready", zap.String("path", path))

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close закрывает базу
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetAccount возвращает аккаунт или models.ErrNotFound
func (s *SQLiteStore) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	var a models.Account
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, nickname, status, rating, gold, win_count, total_battles
		 FROM accounts WHERE id = ?`, accountID,
	).Scan(&a.ID, &a.Username, &a.Nickname, &a.Status, &a.Rating, &a.Gold, &a.WinCount, &a.TotalBattles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &a, nil
}

// ActiveCharacter возвращает активного персонажа или models.ErrNoActiveCharacter
func (s *SQLiteStore) ActiveCharacter(ctx context.Context, accountID int64) (*models.Character, error) {
	var c models.Character
	err := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, name, max_hp, current_hp, attack, defense, speed, crit_rate, dodge_rate, active
		 FROM characters WHERE account_id = ? AND active = 1
		 ORDER BY id LIMIT 1`, accountID,
	).Scan(&c.ID, &c.AccountID, &c.Name, &c.MaxHP, &c.CurrentHP, &c.Attack, &c.Defense,
		&c.Speed, &c.CritRate, &c.DodgeRate, &c.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNoActiveCharacter
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active character: %w", err)
	}
	return &c, nil
}

// CharacterSkillIDs возвращает навыки персонажа
func (s *SQLiteStore) CharacterSkillIDs(ctx context.Context, characterID int64) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT skill_id FROM character_skills WHERE character_id = ? ORDER BY skill_id`, characterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query character skills: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan skill id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListSkills возвращает справочник навыков
func (s *SQLiteStore) ListSkills(ctx context.Context) ([]models.Skill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, cooldown, multiplier, defense_multiplier, description FROM skills ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query skills: %w", err)
	}
	defer rows.Close()

	var skills []models.Skill
	for rows.Next() {
		var sk models.Skill
		if err := rows.Scan(&sk.ID, &sk.Name, &sk.Type, &sk.Cooldown, &sk.Multiplier,
			&sk.DefenseMultiplier, &sk.Description); err != nil {
			return nil, fmt.Errorf("failed to scan skill: %w", err)
		}
		skills = append(skills, sk)
	}
	return skills, rows.Err()
}

// ListItems возвращает справочник предметов
func (s *SQLiteStore) ListItems(ctx context.Context) ([]models.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, type, effect_value FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var it models.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Type, &it.EffectValue); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ConsumeItem списывает одну единицу предмета; при нуле строка удаляется.
// Возвращает models.ErrItemNotOwned, если предмета нет.
func (s *SQLiteStore) ConsumeItem(ctx context.Context, accountID int64, itemID int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var quantity int
	err = tx.QueryRowContext(ctx,
		`SELECT quantity FROM inventory WHERE account_id = ? AND item_id = ?`, accountID, itemID,
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && quantity <= 0) {
		return models.ErrItemNotOwned
	}
	if err != nil {
		return fmt.Errorf("failed to read inventory: %w", err)
	}

	if quantity <= 1 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM inventory WHERE account_id = ? AND item_id = ?`, accountID, itemID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE inventory SET quantity = quantity - 1 WHERE account_id = ? AND item_id = ?`, accountID, itemID)
	}
	if err != nil {
		return fmt.Errorf("failed to update inventory: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit inventory: %w", err)
	}
	return nil
}

// ItemQuantity возвращает количество предмета у аккаунта
func (s *SQLiteStore) ItemQuantity(ctx context.Context, accountID int64, itemID int) (int, error) {
	var quantity int
	err := s.db.QueryRowContext(ctx,
		`SELECT quantity FROM inventory WHERE account_id = ? AND item_id = ?`, accountID, itemID,
	).Scan(&quantity)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read inventory: %w", err)
	}
	return quantity, nil
}

// BattleRecordExists проверяет, сохранен ли итог боя
func (s *SQLiteStore) BattleRecordExists(ctx context.Context, battleID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM battle_records WHERE battle_id = ?`, battleID,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check battle record: %w", err)
	}
	return n > 0, nil
}

// ApplySettlement в одной транзакции обновляет аккаунты и записывает итог боя.
// Повторная запись того же боя возвращает models.ErrDuplicateRecord и ничего не меняет.
func (s *SQLiteStore) ApplySettlement(ctx context.Context, record *models.BattleRecord, deltas []models.AccountDelta) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM battle_records WHERE battle_id = ?`, record.BattleID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check battle record: %w", err)
	}
	if exists > 0 {
		return models.ErrDuplicateRecord
	}

	for _, d := range deltas {
		win := 0
		if d.Won {
			win = 1
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts
			 SET rating = ?, gold = gold + ?, win_count = win_count + ?, total_battles = total_battles + 1
			 WHERE id = ?`,
			d.RatingAfter, d.GoldDelta, win, d.AccountID,
		); err != nil {
			return fmt.Errorf("failed to update account %d: %w", d.AccountID, err)
		}
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO battle_records (
		   battle_id,
		   player1_id, player1_nickname, player1_char_id, player1_final_hp, player1_elo_before, player1_elo_after,
		   player2_id, player2_nickname, player2_char_id, player2_final_hp, player2_elo_before, player2_elo_after,
		   winner_id, end_reason, total_rounds, duration_seconds, log_json,
		   start_time, end_time, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.BattleID,
		record.Player1ID, record.Player1Nickname, record.Player1CharID, record.Player1FinalHP,
		record.Player1EloBefore, record.Player1EloAfter,
		record.Player2ID, record.Player2Nickname, record.Player2CharID, record.Player2FinalHP,
		record.Player2EloBefore, record.Player2EloAfter,
		record.WinnerID, string(record.EndReason), record.TotalRounds, record.DurationSeconds, record.LogJSON,
		toMillis(record.StartTime), toMillis(record.EndTime), toMillis(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to insert battle record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}

// ListBattleRecords возвращает последние бои аккаунта, новые первыми
func (s *SQLiteStore) ListBattleRecords(ctx context.Context, accountID int64, limit int) ([]models.BattleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT battle_id,
		   player1_id, player1_nickname, player1_char_id, player1_final_hp, player1_elo_before, player1_elo_after,
		   player2_id, player2_nickname, player2_char_id, player2_final_hp, player2_elo_before, player2_elo_after,
		   winner_id, end_reason, total_rounds, duration_seconds, log_json,
		   start_time, end_time, created_at
		 FROM battle_records
		 WHERE player1_id = ? OR player2_id = ?
		 ORDER BY end_time DESC, id DESC
		 LIMIT ?`, accountID, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query battle records: %w", err)
	}
	defer rows.Close()

	var records []models.BattleRecord
	for rows.Next() {
		var (
			r                         models.BattleRecord
			reason                    string
			startMs, endMs, createdMs int64
		)
		if err := rows.Scan(&r.BattleID,
			&r.Player1ID, &r.Player1Nickname, &r.Player1CharID, &r.Player1FinalHP, &r.Player1EloBefore, &r.Player1EloAfter,
			&r.Player2ID, &r.Player2Nickname, &r.Player2CharID, &r.Player2FinalHP, &r.Player2EloBefore, &r.Player2EloAfter,
			&r.WinnerID, &reason, &r.TotalRounds, &r.DurationSeconds, &r.LogJSON,
			&startMs, &endMs, &createdMs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan battle record: %w", err)
		}
		r.EndReason = models.EndReason(reason)
		r.StartTime = fromMillis(startMs)
		r.EndTime = fromMillis(endMs)
		r.CreatedAt = fromMillis(createdMs)
		records = append(records, r)
	}
	return records, rows.Err()
}

// CreateAccount создает аккаунт и возвращает его идентификатор
func (s *SQLiteStore) CreateAccount(ctx context.Context, a *models.Account) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (username, nickname, status, rating, gold, win_count, total_battles)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Username, a.Nickname, a.Status, a.Rating, a.Gold, a.WinCount, a.TotalBattles)
	if err != nil {
		return 0, fmt.Errorf("failed to create account: %w", err)
	}
	return res.LastInsertId()
}

// CreateCharacter создает персонажа и возвращает его идентификатор
func (s *SQLiteStore) CreateCharacter(ctx context.Context, c *models.Character) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO characters (account_id, name, max_hp, current_hp, attack, defense, speed, crit_rate, dodge_rate, active)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.AccountID, c.Name, c.MaxHP, c.CurrentHP, c.Attack, c.Defense, c.Speed, c.CritRate, c.DodgeRate, c.Active)
	if err != nil {
		return 0, fmt.Errorf("failed to create character: %w", err)
	}
	return res.LastInsertId()
}

// PutSkill создает или заменяет навык в справочнике
func (s *SQLiteStore) PutSkill(ctx context.Context, sk models.Skill) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skills (id, name, type, cooldown, multiplier, defense_multiplier, description)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, type = excluded.type, cooldown = excluded.cooldown,
		   multiplier = excluded.multiplier, defense_multiplier = excluded.defense_multiplier,
		   description = excluded.description`,
		sk.ID, sk.Name, sk.Type, sk.Cooldown, sk.Multiplier, sk.DefenseMultiplier, sk.Description)
	if err != nil {
		return fmt.Errorf("failed to put skill: %w", err)
	}
	return nil
}

// PutItem создает или заменяет предмет в справочнике
func (s *SQLiteStore) PutItem(ctx context.Context, it models.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, name, type, effect_value) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, type = excluded.type, effect_value = excluded.effect_value`,
		it.ID, it.Name, it.Type, it.EffectValue)
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// AttachSkill выдает навык персонажу
func (s *SQLiteStore) AttachSkill(ctx context.Context, characterID int64, skillID int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO character_skills (character_id, skill_id) VALUES (?, ?)`, characterID, skillID)
	if err != nil {
		return fmt.Errorf("failed to attach skill: %w", err)
	}
	return nil
}

// GrantItem добавляет предметы в инвентарь
func (s *SQLiteStore) GrantItem(ctx context.Context, accountID int64, itemID, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory (account_id, item_id, quantity) VALUES (?, ?, ?)
		 ON CONFLICT(account_id, item_id) DO UPDATE SET quantity = quantity + excluded.quantity`,
		accountID, itemID, quantity)
	if err != nil {
		return fmt.Errorf("failed to grant item: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
