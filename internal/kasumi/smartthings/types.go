package smartthings

import (
	"encoding/json"
	"fmt"
)

// envelope is the JSON wrapper every list endpoint returns.
type envelope[T any] struct {
	Items []T `json:"items"`
}

// Location is one SmartThings location on the account.
type Location struct {
	LocationID string `json:"locationId"`
	Name       string `json:"name"`
}

// Room is one room within a location.
type Room struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// Device is one device on the account. RoomID ties it to a room.
type Device struct {
	DeviceID string `json:"deviceId"`
	Label    string `json:"label"`
	RoomID   string `json:"roomId"`
}

// AttributeValue is one capability attribute's current reading. Value is
// kept raw because readings are numeric for measurement capabilities but
// strings for presence/motion style capabilities.
type AttributeValue struct {
	Value json.RawMessage `json:"value"`
	Unit  string          `json:"unit"`
}

// Float interprets the reading as a number.
func (a AttributeValue) Float() (float64, bool) {
	var f float64
	if err := json.Unmarshal(a.Value, &f); err != nil {
		return 0, false
	}
	return f, true
}

// Text interprets the reading as a string.
func (a AttributeValue) Text() (string, bool) {
	var s string
	if err := json.Unmarshal(a.Value, &s); err != nil {
		return "", false
	}
	return s, true
}

// attributeFor maps a capability name to the attribute its status response
// is keyed under.
func attributeFor(capability string) string {
	switch capability {
	case "temperatureMeasurement":
		return "temperature"
	case "relativeHumidityMeasurement":
		return "humidity"
	case "illuminanceMeasurement":
		return "illuminance"
	case "presenceSensor":
		return "presence"
	case "motionSensor":
		return "motion"
	}
	return capability
}

// --- lookup failure taxonomy ---
//
// Lookup misses are explicit outcomes reported to the user as chat messages,
// never crashes.

// RoomNotFoundError means no room in the location matched the requested name.
type RoomNotFoundError struct {
	Room string
}

func (e *RoomNotFoundError) Error() string {
	return fmt.Sprintf("smartthings: no room matching %q", e.Room)
}

// NoDevicesError means the matched room has no device with the requested
// capability.
type NoDevicesError struct {
	Room       string
	Capability string
}

func (e *NoDevicesError) Error() string {
	return fmt.Sprintf("smartthings: no %s devices in room %q", e.Capability, e.Room)
}
