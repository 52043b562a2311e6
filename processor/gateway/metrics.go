package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contrail",
		Subsystem: "gateway",
		Name:      "submissions_total",
		Help:      "Contract submissions by outcome.",
	}, []string{"outcome"})

	metricTasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "contrail",
		Subsystem: "tasks",
		Name:      "finished_total",
		Help:      "Tasks reaching a terminal state, by status.",
	}, []string{"status"})

	metricTasksLive = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "contrail",
		Subsystem: "tasks",
		Name:      "tracked",
		Help:      "Tasks currently held by the registry.",
	}, func() float64 { return float64(trackedTasks()) })

	trackedTasksFn func() int
)

// SetTrackedTasksFunc wires the live-task gauge to the shared store. Call
// once during startup, before the metrics endpoint is scraped.
func SetTrackedTasksFunc(fn func() int) {
	trackedTasksFn = fn
}

func trackedTasks() int {
	if trackedTasksFn == nil {
		return 0
	}
	return trackedTasksFn()
}

// CountFinished records a terminal task status. The store observer calls
// this on every terminal transition so the counter covers timeouts as well
// as clean completions.
func CountFinished(status string) {
	metricTasksFinished.WithLabelValues(status).Inc()
}
