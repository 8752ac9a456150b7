package sensor

import (
	"fmt"

	"github.com/srg/blethermo/internal/device"
)

// Property names an observable field of the Coordinator
type Property int

const (
	PropertyState Property = iota
	PropertyTemperature
	PropertyHumidity
	PropertyFriendlyTemperature
	PropertyFriendlyHumidity
	PropertyTargetAcquired
	PropertyConnected
)

func (p Property) String() string {
	switch p {
	case PropertyState:
		return "State"
	case PropertyTemperature:
		return "Temperature"
	case PropertyHumidity:
		return "Humidity"
	case PropertyFriendlyTemperature:
		return "FriendlyTemperature"
	case PropertyFriendlyHumidity:
		return "FriendlyHumidity"
	case PropertyTargetAcquired:
		return "TargetAcquired"
	case PropertyConnected:
		return "Connected"
	default:
		return fmt.Sprintf("Property(%d)", int(p))
	}
}

// readingProperties is the batch sent after every decoded frame
var readingProperties = []Property{
	PropertyTemperature,
	PropertyHumidity,
	PropertyFriendlyTemperature,
	PropertyFriendlyHumidity,
}

// ChangeType says how the observable peripheral set changed
type ChangeType int

const (
	PeripheralAdded ChangeType = iota
	PeripheralUpdated
	PeripheralRemoved
)

func (t ChangeType) String() string {
	switch t {
	case PeripheralAdded:
		return "added"
	case PeripheralUpdated:
		return "updated"
	case PeripheralRemoved:
		return "removed"
	default:
		return fmt.Sprintf("ChangeType(%d)", int(t))
	}
}

type PeripheralChange struct {
	Type       ChangeType
	Peripheral device.PeripheralInfo
}

// Observer receives Coordinator notifications. Property notifications only
// name what changed; current values are read back from the Coordinator.
//
// Every call goes through the Coordinator's dispatcher. With the default
// inline dispatcher calls arrive on internal goroutines and may overlap.
type Observer interface {
	PropertiesChanged(props []Property)
	PeripheralChanged(change PeripheralChange)
	LogLine(line string)
	RawText(text string)
}

// BaseObserver implements Observer with no-ops, for embedding
type BaseObserver struct{}

func (BaseObserver) PropertiesChanged([]Property)      {}
func (BaseObserver) PeripheralChanged(PeripheralChange) {}
func (BaseObserver) LogLine(string)                     {}
func (BaseObserver) RawText(string)                     {}

// Dispatcher runs a notification on the caller's execution context
type Dispatcher func(fn func())

// InlineDispatcher runs notifications on the notifying goroutine
func InlineDispatcher(fn func()) {
	fn()
}
