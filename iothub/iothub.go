// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package iothub derives Azure IoT Hub topic names from a device identity.
package iothub

import (
	"errors"
	"net/url"
	"strings"
)

const (
	// TelemetryTopicFormat is the topic device-to-cloud messages are published to.
	TelemetryTopicFormat = "devices/{device_id}/messages/events/"

	// PropertyContentType and PropertyContentEncoding are the system
	// properties which describe the message payload.
	PropertyContentType     = "$.ct"
	PropertyContentEncoding = "$.ce"
)

var (
	ErrMissingHostname = errors.New("iot hub hostname is required")
	ErrMissingDeviceID = errors.New("device id is required")
	ErrInvalidDeviceID = errors.New("device id contains a topic separator or wildcard")
)

// Identity is the identity of a device within an IoT hub.
type Identity struct {
	Hostname string `yaml:"hostname" json:"hostname"`
	DeviceID string `yaml:"device_id" json:"device_id"`
}

// Validate ensures the identity can be used to derive topic names.
func (i Identity) Validate() error {
	if i.Hostname == "" {
		return ErrMissingHostname
	}

	return ValidateDeviceID(i.DeviceID)
}

// ValidateDeviceID ensures a device id can be placed in a topic name.
func ValidateDeviceID(id string) error {
	if id == "" {
		return ErrMissingDeviceID
	}

	if strings.ContainsAny(id, "/+#") {
		return ErrInvalidDeviceID
	}

	return nil
}

// TelemetryTopic returns the telemetry topic for the device, with any message
// properties appended in url-encoded form.
func (i Identity) TelemetryTopic(properties map[string]string) string {
	return TelemetryTopic(i.DeviceID, properties)
}

// TelemetryTopic returns the telemetry topic of a device, with any message
// properties appended in url-encoded form.
func TelemetryTopic(deviceID string, properties map[string]string) string {
	topic := strings.Replace(TelemetryTopicFormat, "{device_id}", deviceID, 1)
	if len(properties) == 0 {
		return topic
	}

	v := url.Values{}
	for key, val := range properties {
		v.Set(key, val)
	}

	return topic + v.Encode()
}
