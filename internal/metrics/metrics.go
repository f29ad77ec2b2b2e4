// Package metrics exposes the resource-count gauges scraped from the
// ambient /metrics endpoint. It reads through persistence.Store and the
// registry rather than duplicating the coordinator's counters, so the
// exported values are always a direct reflection of backend state.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raphaottoni/camps-dct/internal/persistence"
	"github.com/raphaottoni/camps-dct/internal/registry"
)

// Collector is a prometheus.Collector that samples the persistence backend
// and the client registry on every scrape rather than tracking its own
// running counters — resource status belongs to the store, not to this
// package.
type Collector struct {
	store persistence.Store
	reg   *registry.Registry

	resourcesTotal     *prometheus.Desc
	resourcesCollected *prometheus.Desc
	clientsConnected   *prometheus.Desc
}

// New returns a Collector ready to be registered with a prometheus.Registry.
func New(store persistence.Store, reg *registry.Registry) *Collector {
	return &Collector{
		store: store,
		reg:   reg,
		resourcesTotal: prometheus.NewDesc(
			"campsd_resources_total", "Total number of resources known to the backend.", nil, nil,
		),
		resourcesCollected: prometheus.NewDesc(
			"campsd_resources_collected", "Number of resources currently SUCCEEDED.", nil, nil,
		),
		clientsConnected: prometheus.NewDesc(
			"campsd_clients_connected", "Number of clients currently registered.", nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.resourcesTotal
	ch <- c.resourcesCollected
	ch <- c.clientsConnected
}

// Collect implements prometheus.Collector. Store errors are dropped from
// the scrape rather than failing it — a transient backend hiccup should
// not take /metrics down.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()

	if total, err := c.store.TotalResourcesCount(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.resourcesTotal, prometheus.GaugeValue, float64(total))
	}
	if collected, err := c.store.ResourcesCollectedCount(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.resourcesCollected, prometheus.GaugeValue, float64(collected))
	}
	ch <- prometheus.MustNewConstMetric(c.clientsConnected, prometheus.GaugeValue, float64(c.reg.Len()))
}
