// Package device provides the Bluetooth Low Energy (BLE) transport abstractions
// consumed by the sensor pipeline.
//
// This package defines:
//   - Scanning and advertisement interfaces used for peripheral discovery
//   - Connection, Service and Characteristic handles for two-level GATT resolution
//   - PeripheralInfo, the observable record of a discovered peripheral
//   - The error taxonomy shared by scanning, negotiation and streaming
//   - UUID canonicalisation and prefix matching
//
// The go-ble backed implementation lives in the go-ble subpackage.
package device
