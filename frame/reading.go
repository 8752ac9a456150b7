package frame

import (
	"fmt"
	"math"
)

// Reading is the latest temperature/humidity pair.
// Each value is NaN until the first successful decode.
type Reading struct {
	Temperature float64
	Humidity    float64
}

// EmptyReading returns a Reading with both values unset
func EmptyReading() Reading {
	return Reading{Temperature: math.NaN(), Humidity: math.NaN()}
}

// HasTemperature reports whether the temperature has been decoded
func (r Reading) HasTemperature() bool {
	return !math.IsNaN(r.Temperature)
}

// HasHumidity reports whether the humidity has been decoded
func (r Reading) HasHumidity() bool {
	return !math.IsNaN(r.Humidity)
}

// FriendlyTemperature renders the temperature as "23.50C", or "--" when unset
func (r Reading) FriendlyTemperature() string {
	if !r.HasTemperature() {
		return "--"
	}
	return fmt.Sprintf("%.2fC", r.Temperature)
}

// FriendlyHumidity renders the humidity as "55.10%", or "--" when unset
func (r Reading) FriendlyHumidity() string {
	if !r.HasHumidity() {
		return "--"
	}
	return fmt.Sprintf("%.2f%%", r.Humidity)
}

func (r Reading) String() string {
	return fmt.Sprintf("T=%s H=%s", r.FriendlyTemperature(), r.FriendlyHumidity())
}
