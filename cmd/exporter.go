package cmd

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/protosim/protosim/sim/telemetry"
)

// busCollector exposes the run's final telemetry metrics as prometheus
// series. The bus is read-only by the time the collector exists, so no
// locking is needed.
type busCollector struct {
	bus *telemetry.Bus
}

func (c *busCollector) Describe(ch chan<- *prometheus.Desc) {
	// Unchecked collector: descriptors depend on the run's label sets.
}

func (c *busCollector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.bus.Metrics() {
		keys, vals := splitLabels(m.Labels)
		name := "protosim_" + sanitizeMetricName(m.Name)
		desc := prometheus.NewDesc(name, "simulation metric", keys, nil)
		switch m.Kind {
		case telemetry.KindCounter:
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, m.Value, vals...)
		case telemetry.KindGauge:
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, m.Value, vals...)
		case telemetry.KindHistogram:
			buckets := make(map[float64]uint64, len(telemetry.HistogramBounds))
			cum := uint64(0)
			for i, bound := range telemetry.HistogramBounds {
				cum += m.Buckets[i]
				buckets[bound] = cum
			}
			ch <- prometheus.MustNewConstHistogram(desc, m.Count, m.Sum, buckets, vals...)
		}
	}
}

func splitLabels(labels map[string]string) ([]string, []string) {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	// Order must match between Desc and values.
	sort.Strings(keys)
	vals := make([]string, len(keys))
	for i, k := range keys {
		vals[i] = labels[k]
	}
	return keys, vals
}

func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

// serveMetrics publishes the final metric state at addr/metrics until a
// signal arrives on sigs.
func serveMetrics(addr string, bus *telemetry.Bus, sigs <-chan os.Signal) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(&busCollector{bus: bus}); err != nil {
		return fmt.Errorf("register collector: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logrus.Infof("serving metrics at http://%s/metrics (interrupt to exit)", addr)

	select {
	case err := <-errc:
		return err
	case <-sigs:
		return srv.Close()
	}
}
