package device

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

// txPowerUnavailable is reported by the stack when the advertisement carries no TX power
const txPowerUnavailable = 127

// PeripheralInfo is the observable record of a discovered peripheral.
// Values are copied into scan events; the scanner owns the live record.
type PeripheralInfo struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Address            string    `json:"address"`
	RSSI               int       `json:"rssi"`
	TxPower            *int      `json:"tx_power,omitempty"`
	Connectable        bool      `json:"connectable"`
	Connected          bool      `json:"connected"`
	AdvertisedServices []string  `json:"advertised_services"`
	LastSeen           time.Time `json:"last_seen"`
}

// NewPeripheralInfo creates a record from the first advertisement seen for an address
func NewPeripheralInfo(adv Advertisement) PeripheralInfo {
	p := PeripheralInfo{
		ID:      adv.Addr(),
		Address: adv.Addr(),
	}
	p.Update(adv)
	return p
}

// Update refreshes the record from a new advertisement.
// A name, once known, is only replaced by another non-empty name.
func (p *PeripheralInfo) Update(adv Advertisement) {
	p.RSSI = adv.RSSI()
	p.Connectable = adv.Connectable()
	p.LastSeen = time.Now()

	if name := adv.LocalName(); name != "" {
		p.Name = name
	} else if p.Name == "" {
		p.Name = extractNameFromManufacturerData(adv.ManufacturerData())
	}

	needsSort := false
	for _, svc := range adv.Services() {
		normalized := NormalizeUUID(svc)
		if normalized == "" {
			continue
		}
		if !containsFold(p.AdvertisedServices, normalized) {
			p.AdvertisedServices = append(p.AdvertisedServices, normalized)
			needsSort = true
		}
	}
	if needsSort {
		sort.Strings(p.AdvertisedServices)
	}

	if tx := adv.TxPowerLevel(); tx != txPowerUnavailable {
		p.TxPower = &tx
	}
}

// Clone returns a deep copy safe to hand to another goroutine
func (p PeripheralInfo) Clone() PeripheralInfo {
	c := p
	if p.AdvertisedServices != nil {
		c.AdvertisedServices = append([]string(nil), p.AdvertisedServices...)
	}
	if p.TxPower != nil {
		tx := *p.TxPower
		c.TxPower = &tx
	}
	return c
}

// DisplayName returns the name, falling back to the address
func (p PeripheralInfo) DisplayName() string {
	if p.Name == "" {
		return p.Address
	}
	return p.Name
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// extractNameFromManufacturerData looks for an embedded printable ASCII run.
// Many cheap modules put their name there instead of the local name field.
func extractNameFromManufacturerData(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	for i := 0; i < len(data)-3; i++ {
		if !isReadableASCII(data[i]) {
			continue
		}
		var nameBytes []byte
		for j := i; j < len(data) && j < i+32; j++ {
			if !isReadableASCII(data[j]) {
				break
			}
			nameBytes = append(nameBytes, data[j])
		}
		if name := strings.TrimSpace(string(nameBytes)); isValidDeviceName(name) {
			return name
		}
	}
	return ""
}

func isReadableASCII(b byte) bool {
	return b >= 32 && b <= 126
}

// isValidDeviceName checks if a string looks like a valid device name
func isValidDeviceName(name string) bool {
	if len(name) < 3 || len(name) > 32 {
		return false
	}
	for _, r := range name {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
