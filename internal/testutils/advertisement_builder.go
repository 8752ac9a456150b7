package testutils

import (
	"encoding/json"
	"fmt"
)

// FakeAdvertisement is a static device.Advertisement
type FakeAdvertisement struct {
	name        string
	address     string
	rssi        int
	services    []string
	manufData   []byte
	txPower     int
	connectable bool
}

func (a *FakeAdvertisement) LocalName() string        { return a.name }
func (a *FakeAdvertisement) ManufacturerData() []byte { return a.manufData }
func (a *FakeAdvertisement) Services() []string       { return a.services }
func (a *FakeAdvertisement) TxPowerLevel() int        { return a.txPower }
func (a *FakeAdvertisement) Connectable() bool        { return a.connectable }
func (a *FakeAdvertisement) RSSI() int                { return a.rssi }
func (a *FakeAdvertisement) Addr() string             { return a.address }

// AdvertisementBuilder builds fake BLE advertisements for testing.
// The builder starts connectable, with RSSI -50 and no TX power.
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder creates a new AdvertisementBuilder with default values.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		adv: FakeAdvertisement{
			rssi:        -50,
			txPower:     127,
			connectable: true,
		},
	}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.rssi = rssi
	return b
}

// WithServices adds service UUIDs to the advertisement.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.adv.services = append(b.adv.services, uuids...)
	return b
}

// WithManufacturerData sets the manufacturer-specific data.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.manufData = data
	return b
}

// WithTxPower sets the transmission power level.
func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.adv.txPower = power
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.adv.connectable = c
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Name             *string  `json:"name"`
		Address          *string  `json:"address"`
		RSSI             *int     `json:"rssi"`
		Services         []string `json:"services"`
		ManufacturerData []byte   `json:"manufacturerData"`
		TxPower          *int     `json:"txPower"`
		Connectable      *bool    `json:"connectable"`
	}

	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	if data.Services != nil {
		b.WithServices(data.Services...)
	}
	if data.ManufacturerData != nil {
		b.WithManufacturerData(data.ManufacturerData)
	}
	if data.TxPower != nil {
		b.WithTxPower(*data.TxPower)
	}
	if data.Connectable != nil {
		b.WithConnectable(*data.Connectable)
	}
	return b
}

// Build returns a copy of the configured advertisement.
func (b *AdvertisementBuilder) Build() *FakeAdvertisement {
	adv := b.adv
	adv.services = append([]string(nil), b.adv.services...)
	return &adv
}
