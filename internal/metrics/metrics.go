// Package metrics holds the Prometheus collectors of the storefront.
// All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

type Metrics struct {
	registry *prometheus.Registry

	checkouts      *prometheus.CounterVec
	orderValue     prometheus.Histogram
	checkoutTime   prometheus.Histogram
	cartOps        *prometheus.CounterVec
	catalogReloads *prometheus.CounterVec
	stockAdjusts   prometheus.Counter
	lowStock       prometheus.Gauge
	emails         *prometheus.CounterVec
}

// New registers every collector on a fresh registry together with the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		checkouts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_checkouts_total",
			Help: "Checkout submissions by payment method and outcome",
		}, []string{"method", "outcome"}),
		orderValue: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_order_value",
			Help:    "Total of placed orders in store currency",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		checkoutTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_checkout_write_seconds",
			Help:    "Duration of the order write transaction",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		cartOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_cart_operations_total",
			Help: "Cart mutations by operation",
		}, []string{"op"}),
		catalogReloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_catalog_reloads_total",
			Help: "Catalog snapshot reloads by result",
		}, []string{"result"}),
		stockAdjusts: f.NewCounter(prometheus.CounterOpts{
			Name: "storefront_stock_adjustments_total",
			Help: "Inventory quantity adjustments",
		}),
		lowStock: f.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_low_stock_entries",
			Help: "Stock entries at or below their restock level at last load",
		}),
		emails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_emails_total",
			Help: "Transactional emails by template and outcome",
		}, []string{"template", "outcome"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) CheckoutOutcome(method, outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) OrderPlaced(total decimal.Decimal, seconds float64) {
	if m == nil {
		return
	}
	m.orderValue.Observe(total.InexactFloat64())
	m.checkoutTime.Observe(seconds)
}

func (m *Metrics) CartOp(op string) {
	if m == nil {
		return
	}
	m.cartOps.WithLabelValues(op).Inc()
}

func (m *Metrics) CatalogReload(result string) {
	if m == nil {
		return
	}
	m.catalogReloads.WithLabelValues(result).Inc()
}

func (m *Metrics) StockAdjusted() {
	if m == nil {
		return
	}
	m.stockAdjusts.Inc()
}

func (m *Metrics) LowStockEntries(n int) {
	if m == nil {
		return
	}
	m.lowStock.Set(float64(n))
}

func (m *Metrics) Email(template, outcome string) {
	if m == nil {
		return
	}
	m.emails.WithLabelValues(template, outcome).Inc()
}
