package metrics

import (
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

// Metrics — счётчики кондуктора и игровых инстансов.
// Регистрирует собственный реестр, чтобы не тащить дефолтные go_* серии.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedActors prometheus.Gauge
	OpenInstances   *prometheus.GaugeVec
	TickDuration    prometheus.Histogram
	MessagesRouted  prometheus.Counter
	LoginsTotal     *prometheus.CounterVec
}

// New создаёт и регистрирует все коллекторы
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ConnectedActors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shiku_connected_actors",
			Help: "Акторы с живым websocket-соединением",
		}),
		OpenInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shiku_open_instances",
			Help: "Живые игровые инстансы по модулям",
		}, []string{"module"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shiku_tick_duration_seconds",
			Help:    "Длительность одного тика кондуктора",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		MessagesRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shiku_messages_routed_total",
			Help: "Входящие кадры, дошедшие до маршрутизации",
		}),
		LoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shiku_logins_total",
			Help: "Завершённые логины по результату",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.ConnectedActors,
		m.OpenInstances,
		m.TickDuration,
		m.MessagesRouted,
		m.LoginsTotal,
		newProcessCollector(),
	)
	return m
}

// Handler отдаёт /metrics для отдельного порта
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// processCollector снимает CPU и RSS процесса через gopsutil
type processCollector struct {
	proc *process.Process

	cpuDesc *prometheus.Desc
	rssDesc *prometheus.Desc
}

func newProcessCollector() *processCollector {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &processCollector{
		proc: proc,
		cpuDesc: prometheus.NewDesc(
			"shiku_process_cpu_percent",
			"Доля CPU процесса сервера", nil, nil),
		rssDesc: prometheus.NewDesc(
			"shiku_process_resident_bytes",
			"Резидентная память процесса сервера", nil, nil),
	}
}

func (pc *processCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- pc.cpuDesc
	ch <- pc.rssDesc
}

func (pc *processCollector) Collect(ch chan<- prometheus.Metric) {
	if pc.proc == nil {
		return
	}
	if cpu, err := pc.proc.CPUPercent(); err == nil {
		ch <- prometheus.MustNewConstMetric(pc.cpuDesc, prometheus.GaugeValue, cpu)
	}
	if mem, err := pc.proc.MemoryInfo(); err == nil && mem != nil {
		ch <- prometheus.MustNewConstMetric(pc.rssDesc, prometheus.GaugeValue, float64(mem.RSS))
	}
}
