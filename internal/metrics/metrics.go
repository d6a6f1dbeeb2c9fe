// Package metrics содержит Prometheus-метрики пространственных индексов и движка.
//
// Все конструкторы принимают prometheus.Registerer: сервер передаёт
// prometheus.DefaultRegisterer, тесты свой prometheus.NewRegistry().
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "starfleet"

// IndexMetrics счётчики операций квадродеревьев галактики
type IndexMetrics struct {
	inserts   *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	queries   *prometheus.CounterVec
	results   *prometheus.HistogramVec
	indexSize *prometheus.GaugeVec
}

// NewIndexMetrics создаёт и регистрирует метрики индексов
func NewIndexMetrics(reg prometheus.Registerer) *IndexMetrics {
	m := &IndexMetrics{
		inserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "inserts_total",
			Help:      "Успешные вставки в индекс.",
		}, []string{"index"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "rejected_total",
			Help:      "Отклонённые вставки по причине.",
		}, []string{"index", "reason"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "queries_total",
			Help:      "Запросы соседей.",
		}, []string{"index"}),
		results: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "query_results",
			Help:      "Число точек в ответе на запрос соседей.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}, []string{"index"}),
		indexSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "values",
			Help:      "Число значений в индексе.",
		}, []string{"index"}),
	}

	reg.MustRegister(m.inserts, m.rejected, m.queries, m.results, m.indexSize)
	return m
}

// Inserted отмечает успешную вставку; size - новый размер индекса
func (m *IndexMetrics) Inserted(index string, size int) {
	if m == nil {
		return
	}
	m.inserts.WithLabelValues(index).Inc()
	m.indexSize.WithLabelValues(index).Set(float64(size))
}

// Rejected отмечает отказ во вставке
func (m *IndexMetrics) Rejected(index, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(index, reason).Inc()
}

// Queried отмечает запрос и размер ответа
func (m *IndexMetrics) Queried(index string, found int) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(index).Inc()
	m.results.WithLabelValues(index).Observe(float64(found))
}

// EngineMetrics метрики цикла событий
type EngineMetrics struct {
	ticks        prometheus.Counter
	tickDuration prometheus.Histogram
	overruns     prometheus.Counter
	systemErrors *prometheus.CounterVec
	saves        *prometheus.CounterVec
	snapshotSize prometheus.Gauge
}

// NewEngineMetrics создаёт и регистрирует метрики движка
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Обработанные тики.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_duration_seconds",
			Help:      "Длительность обработки тика.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.06, 0.1, 0.25},
		}),
		overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "tick_overruns_total",
			Help:      "Тики, не уложившиеся в период.",
		}),
		systemErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "system_errors_total",
			Help:      "Ошибки систем по имени.",
		}, []string{"system"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "snapshots_total",
			Help:      "Сохранения и загрузки снимков по результату.",
		}, []string{"op", "result"}),
		snapshotSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "snapshot_bytes",
			Help:      "Размер последнего снимка после сжатия.",
		}),
	}

	reg.MustRegister(m.ticks, m.tickDuration, m.overruns, m.systemErrors, m.saves, m.snapshotSize)
	return m
}

// Tick отмечает обработанный тик
func (m *EngineMetrics) Tick(d, budget time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
	if budget > 0 && d > budget {
		m.overruns.Inc()
	}
}

// SystemFailed отмечает ошибку системы
func (m *EngineMetrics) SystemFailed(name string) {
	if m == nil {
		return
	}
	m.systemErrors.WithLabelValues(name).Inc()
}

// Snapshot отмечает сохранение (op=save) или загрузку (op=load)
func (m *EngineMetrics) Snapshot(op string, size int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.saves.WithLabelValues(op, result).Inc()
	if err == nil && size > 0 {
		m.snapshotSize.Set(float64(size))
	}
}

// Register регистрирует коллекторы, пропуская уже зарегистрированные
func Register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
