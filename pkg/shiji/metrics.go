package shiji

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	stageScripts     = "scripts"
	stageCompile     = "compile"
	stageExtract     = "extract"
	stageRender      = "render"
	stageDisassemble = "disassemble"
)

type metrics struct {
	runs          *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	memoryWords   *prometheus.GaugeVec
	utilization   *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		runs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "shiji",
			Name:      "runs_total",
			Help:      "Benchmark runs by outcome.",
		}, []string{"outcome"}),
		stageDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shiji",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each stage of a benchmark run.",
			Buckets:   []float64{0.001, 0.01, 0.1, 1, 10, 60, 120},
		}, []string{"stage"}),
		memoryWords: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shiji",
			Name:      "memory_words",
			Help:      "Number of words of the generated memory array.",
		}, []string{"benchmark", "memory"}),
		utilization: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shiji",
			Name:      "memory_utilization_ratio",
			Help:      "Bytes required by the sections over the declared memory size.",
		}, []string{"benchmark", "memory"}),
	}
}
