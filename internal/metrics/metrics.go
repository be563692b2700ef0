// Package metrics exposes ledger counters to Prometheus.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "staking"

var (
	operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Ledger operations by kind and result.",
	}, []string{"op", "result"})

	rewardPaid = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reward_paid_total",
		Help:      "Reward units paid out per pool.",
	}, []string{"pool"})

	totalStaked = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "total_staked",
		Help:      "Principal currently staked per pool.",
	}, []string{"pool"})
)

// Register adds the ledger collectors to reg. Registering twice is not an
// error.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{operations, rewardPaid, totalStaked} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveOperation counts one operation outcome.
func ObserveOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operations.WithLabelValues(op, result).Inc()
}

// ObservePool records the pool total after a committed mutation.
func ObservePool(pool string, staked uint64) {
	totalStaked.WithLabelValues(pool).Set(float64(staked))
}

// ObserveReward adds a paid reward.
func ObserveReward(pool string, amount uint64) {
	if amount == 0 {
		return
	}
	rewardPaid.WithLabelValues(pool).Add(float64(amount))
}

// ForgetPool drops per-pool series after a pool is closed.
func ForgetPool(pool string) {
	totalStaked.DeleteLabelValues(pool)
	rewardPaid.DeleteLabelValues(pool)
}
