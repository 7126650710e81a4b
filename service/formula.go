package service

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"chrono-battle/models"

	"github.com/Shopify/go-lua"
	"go.uber.org/zap"
)

//go:embed scripts/damage_formulas.lua
var defaultFormulaScript string

const (
	damageFunction = "calculateDamage"
	healFunction   = "calculateHeal"

	// Лимиты одного вызова скрипта; при превышении используется встроенная формула
	formulaStepBudget   = 1_000_000
	formulaTimeBudget   = 50 * time.Millisecond
	formulaHookInterval = 1000
)

var (
	errNotNumber      = errors.New("formula returned a non-number")
	errBudgetExceeded = errors.New("formula exceeded execution budget")
)

// FormulaEngine вычисляет урон и лечение Lua-скриптом.
// При любой ошибке скрипта используется встроенная формула.
type FormulaEngine struct {
	mu     sync.Mutex
	state  *lua.State
	path   string
	logger *zap.Logger

	metrics *Metrics
}

// NewFormulaEngine загружает скрипт из path или встроенный скрипт, если path пуст
func NewFormulaEngine(path string, logger *zap.Logger, metrics *Metrics) (*FormulaEngine, error) {
	state, err := compileFormulas(path)
	if err != nil {
		return nil, err
	}

	logger.Info("Formula script loaded", zap.String("path", scriptName(path)))

	return &FormulaEngine{
		state:   state,
		path:    path,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Reload перекомпилирует скрипт без перезапуска.
// При ошибке продолжает работать прежний скрипт.
func (e *FormulaEngine) Reload() error {
	state, err := compileFormulas(e.path)
	if err != nil {
		e.logger.Error("Formula reload failed", zap.String("path", scriptName(e.path)), zap.Error(err))
		return err
	}

	e.mu.Lock()
	e.state = state
	e.mu.Unlock()

	e.logger.Info("Formula script reloaded", zap.String("path", scriptName(e.path)))
	return nil
}

// Damage возвращает урон по защищающемуся (0 означает уклонение)
func (e *FormulaEngine) Damage(attacker, defender *models.BattlePlayer, skill *models.Skill) int {
	numbers := map[string]float64{
		"attackerAttack":  float64(attacker.Attack),
		"defenderDefense": float64(defender.Defense),
		"attackerCrit":    float64(attacker.CritRate),
		"defenderDodge":   float64(defender.DodgeRate),
		"skillMultiplier": skill.Multiplier,
		"skillDefBreak":   skill.DefenseMultiplier,
	}
	flags := map[string]bool{
		"defenderDefending": defender.Defending,
	}

	v, err := e.call(damageFunction, numbers, flags)
	if err != nil || v < 0 {
		e.fallback(damageFunction, err)
		return fallbackDamage(attacker, defender, skill)
	}
	return v
}

// Heal возвращает объем лечения
func (e *FormulaEngine) Heal(healer *models.BattlePlayer, skill *models.Skill) int {
	numbers := map[string]float64{
		"healerMaxHp":     float64(healer.MaxHP),
		"skillMultiplier": skill.Multiplier,
	}

	v, err := e.call(healFunction, numbers, nil)
	if err != nil || v < 1 {
		e.fallback(healFunction, err)
		return fallbackHeal(healer, skill)
	}
	return v
}

func (e *FormulaEngine) call(fn string, numbers map[string]float64, flags map[string]bool) (int, error) {
	start := time.Now()
	defer func() {
		e.metrics.FormulaLatency.WithLabelValues(fn).Observe(time.Since(start).Seconds())
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	l := e.state
	defer l.SetTop(0)

	l.Global(fn)
	if !l.IsFunction(-1) {
		return 0, fmt.Errorf("function %s is not defined", fn)
	}

	l.NewTable()
	for k, v := range numbers {
		l.PushNumber(v)
		l.SetField(-2, k)
	}
	for k, v := range flags {
		l.PushBoolean(v)
		l.SetField(-2, k)
	}

	release := limitExecution(l, formulaStepBudget, formulaTimeBudget)
	err := l.ProtectedCall(1, 1, 0)
	if release() {
		return 0, fmt.Errorf("%s: %w", fn, errBudgetExceeded)
	}
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w", fn, err)
	}

	n, ok := l.ToNumber(-1)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, errNotNumber
	}
	return int(n), nil
}

func (e *FormulaEngine) fallback(fn string, err error) {
	e.metrics.FormulaFallbacks.WithLabelValues(fn).Inc()
	e.logger.Warn("Formula fallback used", zap.String("function", fn), zap.Error(err))
}

func compileFormulas(path string) (*lua.State, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)

	release := limitExecution(l, formulaStepBudget, formulaTimeBudget)
	var err error
	if path == "" {
		err = lua.DoString(l, defaultFormulaScript)
	} else {
		err = lua.DoFile(l, path)
	}
	if release() {
		err = errBudgetExceeded
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load formula script %s: %w", scriptName(path), err)
	}

	for _, fn := range []string{damageFunction, healFunction} {
		l.Global(fn)
		defined := l.IsFunction(-1)
		l.Pop(1)
		if !defined {
			return nil, fmt.Errorf("formula script %s does not define %s", scriptName(path), fn)
		}
	}
	return l, nil
}

// limitExecution прерывает выполнение Lua после steps инструкций или по истечении timeout.
// Возвращенная функция снимает ограничение и сообщает, сработало ли оно.
func limitExecution(l *lua.State, steps int, timeout time.Duration) func() bool {
	deadline := time.Now().Add(timeout)
	executed := 0
	exceeded := false

	lua.SetDebugHook(l, func(l *lua.State, _ lua.Debug) {
		executed += formulaHookInterval
		if executed > steps || time.Now().After(deadline) {
			exceeded = true
			lua.Errorf(l, "execution budget exceeded")
		}
	}, lua.MaskCount, formulaHookInterval)

	return func() bool {
		lua.SetDebugHook(l, nil, 0, 0)
		return exceeded
	}
}

func scriptName(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

// fallbackDamage: max(1, atk*mult - def*defMult), вдвое меньше при защите
func fallbackDamage(attacker, defender *models.BattlePlayer, skill *models.Skill) int {
	damage := int(float64(attacker.Attack)*skill.Multiplier - float64(defender.Defense)*skill.DefenseMultiplier)
	if damage < 1 {
		damage = 1
	}
	if defender.Defending {
		damage /= 2
		if damage < 1 {
			damage = 1
		}
	}
	return damage
}

// fallbackHeal: max(1, round(maxHP*mult))
func fallbackHeal(healer *models.BattlePlayer, skill *models.Skill) int {
	amount := int(math.Round(float64(healer.MaxHP) * skill.Multiplier))
	if amount < 1 {
		amount = 1
	}
	return amount
}
