package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics метрики сервиса боев
type Metrics struct {
	OnlineSessions     prometheus.Gauge
	LiveBattles        prometheus.Gauge
	QueueLength        prometheus.Gauge
	MatchesMade        prometheus.Counter
	BattlesEnded       *prometheus.CounterVec
	FormulaFallbacks   *prometheus.CounterVec
	FormulaLatency     *prometheus.HistogramVec
	SettlementFailures prometheus.Counter
}

// NewMetrics создает метрики и регистрирует их в reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlineSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chrono_battle",
			Name:      "online_sessions",
			Help:      "Number of authenticated connections.",
		}),
		LiveBattles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chrono_battle",
			Name:      "live_battles",
			Help:      "Number of battles in the registry.",
		}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chrono_battle",
			Name:      "queue_length",
			Help:      "Matchmaking queue length observed by the last pass.",
		}),
		MatchesMade: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chrono_battle",
			Name:      "matches_made_total",
			Help:      "Pairs produced by the matching pass.",
		}),
		BattlesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chrono_battle",
			Name:      "battles_ended_total",
			Help:      "Battles ended, by reason.",
		}, []string{"reason"}),
		FormulaFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chrono_battle",
			Name:      "formula_fallbacks_total",
			Help:      "Formula evaluations answered by the compiled fallback.",
		}, []string{"function"}),
		FormulaLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chrono_battle",
			Name:      "formula_eval_seconds",
			Help:      "Lua formula evaluation latency.",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01},
		}, []string{"function"}),
		SettlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chrono_battle",
			Name:      "settlement_failures_total",
			Help:      "Settlements that failed to persist.",
		}),
	}

	reg.MustRegister(
		m.OnlineSessions,
		m.LiveBattles,
		m.QueueLength,
		m.MatchesMade,
		m.BattlesEnded,
		m.FormulaFallbacks,
		m.FormulaLatency,
		m.SettlementFailures,
	)
	return m
}
