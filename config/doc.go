// Package config loads the YAML configuration of the radiacode-exporter daemon.
//
// A minimal file only names the device:
//
//	device: usb:RC-102-001234
//
// Every other field is optional. Durations use Go syntax ("5s", "1m30s"). Session and polling
// fields left at zero keep the library defaults; [Config.SessionOptions] and
// [Config.CoordinatorOptions] convert the file into functional options.
package config
