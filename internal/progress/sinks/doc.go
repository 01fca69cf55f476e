// Package sinks holds the progress.Sink implementations the harvester wires
// into its hub: a terminal renderer and Prometheus stage collectors.
package sinks
