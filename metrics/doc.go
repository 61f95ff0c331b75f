// Package metrics exports a coordinated detector to prometheus.
package metrics
