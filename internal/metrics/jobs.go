package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/navcom/groupctl/internal/model"
)

// JobLister lists rotation jobs.
type JobLister interface {
	List() []model.RotationJob
}

// KeyCounter reports key states per status.
type KeyCounter interface {
	CountByStatus() map[model.KeyStatus]int
}

var jobStatuses = []model.JobStatus{model.JobPending, model.JobFailed, model.JobCompleted}

// jobCollector reads rotation job and key state at scrape time.
type jobCollector struct {
	jobs JobLister
	keys KeyCounter

	jobsDesc *prometheus.Desc
	keysDesc *prometheus.Desc
}

// RegisterLifecycle adds scrape-time gauges for rotation jobs and keys. keys may be nil.
func (m *Metrics) RegisterLifecycle(jobs JobLister, keys KeyCounter) error {
	return m.Registry.Register(&jobCollector{
		jobs: jobs,
		keys: keys,
		jobsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rotation", "jobs"),
			"Rotation jobs by status.", []string{"status"}, nil),
		keysDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "keys", "states"),
			"Registered keys by status.", []string{"status"}, nil),
	})
}

func (c *jobCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsDesc
	ch <- c.keysDesc
}

func (c *jobCollector) Collect(ch chan<- prometheus.Metric) {
	counts := map[model.JobStatus]int{}
	for _, j := range c.jobs.List() {
		counts[j.Status]++
	}
	for _, s := range jobStatuses {
		ch <- prometheus.MustNewConstMetric(c.jobsDesc, prometheus.GaugeValue, float64(counts[s]), string(s))
	}
	if c.keys == nil {
		return
	}
	for s, n := range c.keys.CountByStatus() {
		ch <- prometheus.MustNewConstMetric(c.keysDesc, prometheus.GaugeValue, float64(n), string(s))
	}
}
