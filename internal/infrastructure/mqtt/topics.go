package mqtt

import "fmt"

// Topic prefixes for the DALI Core MQTT surface.
//
// Light topics follow the scheme: dalicore/light/{light_id}/{...}
// Bus topics expose raw traffic: dalicore/bus/{rx|error|state}
const (
	// TopicPrefix is the base for all DALI Core topics.
	TopicPrefix = "dalicore"

	// TopicPrefixLight is the base for per-light topics.
	TopicPrefixLight = "dalicore/light"

	// TopicPrefixBus is the base for raw bus traffic topics.
	TopicPrefixBus = "dalicore/bus"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "dalicore/system"
)

// Topics provides builders for DALI Core MQTT topics. Using these
// helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.LightState("hall")
//	// Returns: "dalicore/light/hall/state"
type Topics struct{}

// LightSet returns the on/off command topic for a light.
//
// Example: dalicore/light/hall/set
func (Topics) LightSet(lightID string) string {
	return fmt.Sprintf("%s/%s/set", TopicPrefixLight, lightID)
}

// LightState returns the retained on/off state topic for a light.
//
// Example: dalicore/light/hall/state
func (Topics) LightState(lightID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixLight, lightID)
}

// LightBrightnessSet returns the brightness command topic for a light.
//
// Example: dalicore/light/hall/brightness/set
func (Topics) LightBrightnessSet(lightID string) string {
	return fmt.Sprintf("%s/%s/brightness/set", TopicPrefixLight, lightID)
}

// LightBrightnessState returns the retained brightness state topic.
//
// Example: dalicore/light/hall/brightness/state
func (Topics) LightBrightnessState(lightID string) string {
	return fmt.Sprintf("%s/%s/brightness/state", TopicPrefixLight, lightID)
}

// LightColorTempSet returns the colour temperature command topic.
//
// Example: dalicore/light/hall/color_temperature/set
func (Topics) LightColorTempSet(lightID string) string {
	return fmt.Sprintf("%s/%s/color_temperature/set", TopicPrefixLight, lightID)
}

// LightColorTempState returns the retained colour temperature state topic.
//
// Example: dalicore/light/hall/color_temperature/state
func (Topics) LightColorTempState(lightID string) string {
	return fmt.Sprintf("%s/%s/color_temperature/state", TopicPrefixLight, lightID)
}

// BusRx returns the topic carrying every decoded frame.
//
// Example: dalicore/bus/rx
func (Topics) BusRx() string {
	return fmt.Sprintf("%s/rx", TopicPrefixBus)
}

// BusDecodeError returns the topic carrying decode failures.
//
// Example: dalicore/bus/error
func (Topics) BusDecodeError() string {
	return fmt.Sprintf("%s/error", TopicPrefixBus)
}

// BusState returns the retained bus occupancy topic.
//
// Example: dalicore/bus/state
func (Topics) BusState() string {
	return fmt.Sprintf("%s/state", TopicPrefixBus)
}

// SystemStatus returns the system status topic, also used for the LWT.
//
// Example: dalicore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllLightCommands returns a pattern matching every light command topic.
//
// Pattern: dalicore/light/+/set
func (Topics) AllLightCommands() string {
	return fmt.Sprintf("%s/+/set", TopicPrefixLight)
}

// AllTopics returns a pattern matching all DALI Core topics.
// Use with caution, this receives ALL traffic.
//
// Pattern: dalicore/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
