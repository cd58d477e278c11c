package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

var actionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relayscan_device_actions_total",
		Help: "Device-control calls by action and result.",
	},
	[]string{"action", "result"},
)

func init() {
	prometheus.MustRegister(actionsTotal)
}
