package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the Prometheus metrics recorded by the planner
type Registry struct {
	Actions       *prometheus.CounterVec
	Transactions  *prometheus.CounterVec
	ActionLatency *prometheus.HistogramVec
	TradingLoss   *prometheus.CounterVec
}

// NewRegistry creates the action metrics and registers them with reg
func NewRegistry(reg prometheus.Registerer) (*Registry, error) {
	r := &Registry{
		Actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_actions_total",
				Help: "Total number of planned vault actions by result",
			},
			[]string{"action", "result"},
		),

		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_transactions_total",
				Help: "Total number of transaction intents emitted",
			},
			[]string{"action"},
		),

		ActionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vault_action_duration_seconds",
				Help:    "Time spent planning one vault action",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"action"},
		),

		TradingLoss: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vault_trading_loss_usd",
				Help: "Cumulative expected trading loss in USD",
			},
			[]string{"action"},
		),
	}

	if reg == nil {
		return r, nil
	}
	for _, c := range []prometheus.Collector{r.Actions, r.Transactions, r.ActionLatency, r.TradingLoss} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return r, nil
}

// ObserveAction records one finished action. A nil registry records nothing.
func (r *Registry) ObserveAction(action string, started time.Time, txCount int, tradingLoss float64, err error) {
	if r == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	r.Actions.WithLabelValues(action, result).Inc()
	r.ActionLatency.WithLabelValues(action).Observe(time.Since(started).Seconds())
	if err != nil {
		return
	}
	r.Transactions.WithLabelValues(action).Add(float64(txCount))
	if tradingLoss > 0 {
		r.TradingLoss.WithLabelValues(action).Add(tradingLoss)
	}
}
