package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Exporter renders a Collector's metrics in Prometheus text exposition
// format, the way the teacher's PrometheusExporter does for stream health.
type Exporter struct {
	collector *Collector
}

// NewExporter creates an Exporter over collector.
func NewExporter(collector *Collector) *Exporter {
	return &Exporter{collector: collector}
}

// ServeHTTP implements http.Handler, serving the current snapshot.
func (e *Exporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(e.Render()))
}

// Render formats the current snapshot as Prometheus exposition text.
func (e *Exporter) Render() string {
	metrics := e.collector.Snapshot()

	byName := make(map[string][]Metric)
	for _, m := range metrics {
		byName[m.Name] = append(byName[m.Name], m)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		group := byName[name]
		sb.WriteString(fmt.Sprintf("# TYPE %s %s\n", name, string(group[0].Type)))
		for _, m := range group {
			sb.WriteString(formatLine(m))
		}
	}
	return sb.String()
}

func formatLine(m Metric) string {
	var sb strings.Builder
	sb.WriteString(m.Name)

	if len(m.Labels) > 0 {
		keys := make([]string, 0, len(m.Labels))
		for k := range m.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(fmt.Sprintf("%s=%q", k, m.Labels[k]))
		}
		sb.WriteString("}")
	}

	sb.WriteString(fmt.Sprintf(" %v\n", m.Value))
	return sb.String()
}
