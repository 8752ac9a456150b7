package device_test

import (
	"testing"

	"github.com/srg/blethermo/internal/device"
	"github.com/srg/blethermo/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeripheralInfo(t *testing.T) {
	t.Run("created from first advertisement", func(t *testing.T) {
		// GOAL: Verify a peripheral record captures identity and advertisement fields
		//
		// TEST SCENARIO: advertisement with name, RSSI, services → NewPeripheralInfo → fields populated, services normalized

		adv := testutils.NewAdvertisementBuilder().
			WithName("DSD TECH").
			WithAddress("AA:BB:CC:DD:EE:FF").
			WithRSSI(-61).
			WithServices("FFE0", "0000180F-0000-1000-8000-00805F9B34FB").
			Build()

		p := device.NewPeripheralInfo(adv)

		assert.Equal(t, "AA:BB:CC:DD:EE:FF", p.ID, "ID MUST be the address")
		assert.Equal(t, "DSD TECH", p.Name)
		assert.Equal(t, -61, p.RSSI)
		assert.True(t, p.Connectable, "connectable MUST default to true")
		assert.False(t, p.Connected, "connected MUST start false")
		assert.Equal(t, []string{"180f", "ffe0"}, p.AdvertisedServices, "services MUST be normalized and sorted")
		assert.Nil(t, p.TxPower, "TX power MUST be nil when unavailable")
		assert.False(t, p.LastSeen.IsZero(), "last seen MUST be set")
	})

	t.Run("update keeps known name when advertisement is anonymous", func(t *testing.T) {
		p := device.NewPeripheralInfo(testutils.NewAdvertisementBuilder().WithName("DSD TECH").WithAddress("AA").Build())

		p.Update(testutils.NewAdvertisementBuilder().WithAddress("AA").WithRSSI(-40).WithTxPower(4).Build())

		assert.Equal(t, "DSD TECH", p.Name, "name MUST NOT be cleared by an anonymous advertisement")
		assert.Equal(t, -40, p.RSSI, "RSSI MUST be refreshed")
		require.NotNil(t, p.TxPower)
		assert.Equal(t, 4, *p.TxPower)
	})

	t.Run("name extracted from manufacturer data", func(t *testing.T) {
		adv := testutils.NewAdvertisementBuilder().
			WithAddress("AA").
			WithManufacturerData([]byte{0x4c, 0x00, 'H', 'M', '-', '1', '0'}).
			Build()

		p := device.NewPeripheralInfo(adv)

		assert.Equal(t, "HM-10", p.Name, "printable manufacturer data MUST be used as a name")
		assert.Equal(t, "HM-10", p.DisplayName())
	})

	t.Run("display name falls back to address", func(t *testing.T) {
		p := device.NewPeripheralInfo(testutils.NewAdvertisementBuilder().WithAddress("AA:BB").Build())
		assert.Equal(t, "AA:BB", p.DisplayName())
	})

	t.Run("clone is independent", func(t *testing.T) {
		p := device.NewPeripheralInfo(testutils.NewAdvertisementBuilder().WithAddress("AA").WithServices("ffe0").WithTxPower(2).Build())

		c := p.Clone()
		c.AdvertisedServices[0] = "changed"
		*c.TxPower = 9

		assert.Equal(t, "ffe0", p.AdvertisedServices[0], "clone MUST NOT share service slice")
		assert.Equal(t, 2, *p.TxPower, "clone MUST NOT share TX power")
	})
}

func TestExtractNameFromManufacturerData(t *testing.T) {
	tests := []struct {
		name         string
		manufData    []byte
		expectedName string
	}{
		{
			name:         "extracts simple ASCII device name",
			manufData:    []byte{0x4C, 0x00, 'T', 'e', 's', 't', 'D', 'e', 'v', 'i', 'c', 'e'},
			expectedName: "TestDevice",
		},
		{
			name:         "extracts name with spaces",
			manufData:    []byte{0x00, 0x01, 'M', 'y', ' ', 'D', 'e', 'v', 'i', 'c', 'e'},
			expectedName: "My Device",
		},
		{
			name:         "ignores short strings",
			manufData:    []byte{0x00, 0x01, 'A', 'B'},
			expectedName: "AA:BB:CC:DD:EE:FF",
		},
		{
			name:         "ignores data without letters",
			manufData:    []byte{0x00, 0x01, '1', '2', '3', '4', '5'},
			expectedName: "AA:BB:CC:DD:EE:FF",
		},
		{
			name:         "extracts name from middle of data",
			manufData:    []byte{0x4C, 0x00, 0x01, 0x02, 'D', 'e', 'v', 'i', 'c', 'e', 'X', 0x00},
			expectedName: "DeviceX",
		},
		{
			name:         "handles empty manufacturer data",
			manufData:    []byte{},
			expectedName: "AA:BB:CC:DD:EE:FF",
		},
		{
			name:         "handles short manufacturer data",
			manufData:    []byte{0x4C},
			expectedName: "AA:BB:CC:DD:EE:FF",
		},
		{
			name:         "extracts three letter name",
			manufData:    []byte{0x4C, 0x00, 'Z', 'c', 'm', 0x00, 0x01, 0x02},
			expectedName: "Zcm",
		},
		{
			name:         "limits name length",
			manufData:    append([]byte{0x00, 0x01}, []byte("VeryLongDeviceNameThatShouldBeLimited1234567890")...),
			expectedName: "VeryLongDeviceNameThatShouldBeLi",
		},
		{
			name:         "stops at non-printable characters",
			manufData:    []byte{0x00, 0x01, 'T', 'e', 's', 't', 0x00, 0x01, 'D', 'e', 'v'},
			expectedName: "Test",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adv := testutils.NewAdvertisementBuilder().
				WithAddress("AA:BB:CC:DD:EE:FF").
				WithManufacturerData(tt.manufData).
				Build()

			assert.Equal(t, tt.expectedName, device.NewPeripheralInfo(adv).DisplayName())
		})
	}
}

func TestNameResolutionPrecedence(t *testing.T) {
	// GOAL: Verify local name beats manufacturer data and a known name is sticky
	//
	// TEST SCENARIO: manufacturer-only name → local name arrives → anonymous advertisement → local name kept

	p := device.NewPeripheralInfo(testutils.NewAdvertisementBuilder().
		WithAddress("AA").
		WithManufacturerData([]byte{0x00, 0x01, 'E', 'x', 't', 'r', 'a', 'c', 't', 'e', 'd'}).
		Build())
	assert.Equal(t, "Extracted", p.Name, "name MUST be extracted when no local name is advertised")

	p.Update(testutils.NewAdvertisementBuilder().
		WithName("OfficialName").
		WithAddress("AA").
		WithRSSI(-45).
		WithManufacturerData([]byte{0x00, 0x01, 'D', 'i', 'f', 'f', 'e', 'r', 'e', 'n', 't'}).
		Build())
	assert.Equal(t, "OfficialName", p.Name, "local name MUST take precedence")

	p.Update(testutils.NewAdvertisementBuilder().
		WithAddress("AA").
		WithRSSI(-40).
		WithManufacturerData([]byte{0x00, 0x01, 'N', 'e', 'w', 'N', 'a', 'm', 'e'}).
		Build())
	assert.Equal(t, "OfficialName", p.Name, "manufacturer data MUST NOT replace a known name")
	assert.Equal(t, -40, p.RSSI)
}
