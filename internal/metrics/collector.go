// Package metrics exposes executor snapshots as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vtsched/internal/task/scheduler"
)

const namespace = "vtsched"

// Source is anything that can produce an executor snapshot.
type Source interface {
	Snapshot() scheduler.Snapshot
}

// Collector reads a fresh snapshot on every scrape. Virtual instants are
// reported as Unix seconds of the virtual clock.
type Collector struct {
	src Source

	virtualNow *prometheus.Desc
	nextDue    *prometheus.Desc
	pending    *prometheus.Desc
	shutdown   *prometheus.Desc
	terminated *prometheus.Desc

	submitted *prometheus.Desc
	executed  *prometheus.Desc
	failed    *prometheus.Desc
	discarded *prometheus.Desc
	rejected  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector over src. labels are attached to every
// metric (typically {"scenario": name}).
func NewCollector(src Source, labels prometheus.Labels) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}
	return &Collector{
		src:        src,
		virtualNow: desc("virtual_time_seconds", "Current virtual clock instant as Unix seconds."),
		nextDue:    desc("next_due_seconds", "Scheduled instant of the earliest pending task as Unix seconds, 0 when the queue is empty."),
		pending:    desc("tasks_pending", "Tasks currently in the due-queue."),
		shutdown:   desc("executor_shutdown", "1 once the executor stopped accepting work."),
		terminated: desc("executor_terminated", "1 while the due-queue is empty."),
		submitted:  desc("tasks_submitted_total", "Tasks accepted by the executor."),
		executed:   desc("task_executions_total", "Task executions, including failed ones."),
		failed:     desc("task_failures_total", "Task executions that returned an error or panicked."),
		discarded:  desc("tasks_discarded_total", "Cancelled tasks dropped from the due-queue."),
		rejected:   desc("tasks_rejected_total", "Submissions and re-arms rejected after shutdown."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.virtualNow, c.nextDue, c.pending, c.shutdown, c.terminated,
		c.submitted, c.executed, c.failed, c.discarded, c.rejected,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}

	gauge(c.virtualNow, unixSeconds(s.Now))
	if s.NextDue.IsZero() {
		gauge(c.nextDue, 0)
	} else {
		gauge(c.nextDue, unixSeconds(s.NextDue))
	}
	gauge(c.pending, float64(s.Pending))
	gauge(c.shutdown, boolFloat(s.Shutdown))
	gauge(c.terminated, boolFloat(s.Terminated))

	counter(c.submitted, s.Submitted)
	counter(c.executed, s.Executed)
	counter(c.failed, s.Failed)
	counter(c.discarded, s.Discarded)
	counter(c.rejected, s.Rejected)
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
