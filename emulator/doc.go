// Package emulator provides an in-memory detector speaking the device protocol.
//
// A Device implements transport.Transport and can be handed to a session through its Factory.
// It serves tests with scripted records, spectra and injected faults, and gives the exporter a
// demo mode when no hardware is attached (see WithSimulation).
package emulator
