package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blethermo/internal/device"
)

// BLEService represents a discovered GATT service
type BLEService struct {
	svc  *ble.Service
	conn *BLEConnection
}

func (s *BLEService) UUID() string {
	return device.NormalizeUUID(s.svc.UUID.String())
}

// Characteristics discovers the characteristics of this service
func (s *BLEService) Characteristics(ctx context.Context) ([]device.Characteristic, error) {
	if !s.conn.IsConnected() {
		return nil, device.ErrNotConnected
	}

	chars, err := runWithContext(ctx, func() ([]*ble.Characteristic, error) {
		return s.conn.client.DiscoverCharacteristics(nil, s.svc)
	})
	if err != nil {
		err = NormalizeError(err)
		s.conn.logger.WithFields(logrus.Fields{
			"service_uuid": s.UUID(),
			"error":        err,
		}).Error("Failed to discover characteristics")
		return nil, err
	}

	result := make([]device.Characteristic, 0, len(chars))
	for _, c := range chars {
		s.conn.logger.WithFields(logrus.Fields{
			"service_uuid": s.UUID(),
			"char_uuid":    c.UUID.String(),
		}).Debug("Found characteristic UUID")
		result = append(result, &BLECharacteristic{char: c, conn: s.conn})
	}
	return result, nil
}
