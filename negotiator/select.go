package negotiator

import (
	"github.com/srg/blethermo/internal/device"
)

// SelectService returns the first service whose UUID starts with prefix.
// Matching is case-insensitive on the dashed 128-bit form, so a short "ffe0"
// matches the prefix "0000ffe0".
func SelectService(services []device.Service, prefix string) (device.Service, error) {
	for _, svc := range services {
		if device.HasUUIDPrefix(svc.UUID(), prefix) {
			return svc, nil
		}
	}
	return nil, &device.ResolutionError{Reason: device.NoMatchingService, Target: prefix}
}

// SelectCharacteristic returns the first characteristic whose UUID starts with prefix
func SelectCharacteristic(chars []device.Characteristic, prefix string) (device.Characteristic, error) {
	for _, c := range chars {
		if device.HasUUIDPrefix(c.UUID(), prefix) {
			return c, nil
		}
	}
	return nil, &device.ResolutionError{Reason: device.NoMatchingCharacteristic, Target: prefix}
}
