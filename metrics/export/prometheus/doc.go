// Package prometheus exposes controller metrics as a Prometheus collector.
//
// [Exporter] reads a metrics snapshot on every scrape; it never holds state of
// its own. Register it with any registry, or mount [Exporter.Handler] which
// serves a private registry.
package prometheus
