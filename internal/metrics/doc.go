// Package metrics defines the Prometheus instruments exported by the quote service.
package metrics
