// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2023 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/jinzhu/copier"
	"gopkg.in/yaml.v3"

	mqttsn "github.com/mochi-mqtt/mqttsn-telemetry"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/debug"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage/badger"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage/bolt"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage/pebble"
	"github.com/mochi-mqtt/mqttsn-telemetry/hooks/storage/redis"
)

// Environment variables read by FromEnv.
const (
	EnvDeviceID       = "AZ_IOT_DEVICE_ID"
	EnvHubHostname    = "AZ_IOT_HUB_HOSTNAME"
	EnvGatewayAddress = "AZ_IOT_SN_GATEWAY_ADDRESS"
	EnvGatewayPort    = "AZ_IOT_SN_GATEWAY_PORT"
)

var (
	ErrMissingEnv = errors.New("missing required environment variable") // a required variable is unset
	ErrInvalidEnv = errors.New("invalid environment variable")          // a variable could not be parsed
)

// config defines the structure of configuration data to be parsed from a config source.
type config struct {
	Options     mqttsn.Options `yaml:"options" json:"options"`
	HookConfigs HookConfigs    `yaml:"hooks" json:"hooks"`
}

// HookConfigs contains configurations to enable individual hooks.
type HookConfigs struct {
	Storage *HookStorageConfig `yaml:"storage" json:"storage"`
	Debug   *debug.Options     `yaml:"debug" json:"debug"`
}

// HookStorageConfig contains configurations for the different journal storage hooks.
type HookStorageConfig struct {
	Badger *badger.Options `yaml:"badger" json:"badger"`
	Bolt   *bolt.Options   `yaml:"bolt" json:"bolt"`
	Pebble *pebble.Options `yaml:"pebble" json:"pebble"`
	Redis  *redis.Options  `yaml:"redis" json:"redis"`
}

// ToHooks converts Hook file configurations into Hooks to be added to the client.
func (hc HookConfigs) ToHooks() []mqttsn.HookLoadConfig {
	var hlc []mqttsn.HookLoadConfig

	if hc.Storage != nil {
		hlc = append(hlc, hc.toHooksStorage()...)
	}

	if hc.Debug != nil {
		hlc = append(hlc, mqttsn.HookLoadConfig{
			Hook:   new(debug.Hook),
			Config: hc.Debug,
		})
	}

	return hlc
}

// toHooksStorage converts storage hook configurations into storage hooks.
func (hc HookConfigs) toHooksStorage() []mqttsn.HookLoadConfig {
	var hlc []mqttsn.HookLoadConfig
	if hc.Storage.Badger != nil {
		hlc = append(hlc, mqttsn.HookLoadConfig{
			Hook:   new(badger.Hook),
			Config: hc.Storage.Badger,
		})
	}

	if hc.Storage.Bolt != nil {
		hlc = append(hlc, mqttsn.HookLoadConfig{
			Hook:   new(bolt.Hook),
			Config: hc.Storage.Bolt,
		})
	}

	if hc.Storage.Redis != nil {
		hlc = append(hlc, mqttsn.HookLoadConfig{
			Hook:   new(redis.Hook),
			Config: hc.Storage.Redis,
		})
	}

	if hc.Storage.Pebble != nil {
		hlc = append(hlc, mqttsn.HookLoadConfig{
			Hook:   new(pebble.Hook),
			Config: hc.Storage.Pebble,
		})
	}
	return hlc
}

// FromBytes unmarshals a byte slice of JSON or YAML config data into a valid client options value.
// Values are decoded over the default options, so any key present in the data wins.
// Any hooks configurations are converted into Hooks using the toHooks methods in this package.
func FromBytes(b []byte) (*mqttsn.Options, error) {
	c := &config{
		Options: *mqttsn.DefaultOptions(),
	}

	if len(b) > 0 {
		if b[0] == '{' {
			err := json.Unmarshal(b, c)
			if err != nil {
				return nil, err
			}
		} else {
			err := yaml.Unmarshal(b, c)
			if err != nil {
				return nil, err
			}
		}
	}

	o := c.Options
	o.Hooks = c.HookConfigs.ToHooks()

	return &o, nil
}

// FromFile reads a JSON or YAML config file into a valid client options value.
func FromFile(path string) (*mqttsn.Options, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return FromBytes(b)
}

// FromEnv overlays the device identity and gateway address from the environment
// onto o. Unset variables leave o unchanged. The device id and hub hostname must
// be known once the overlay is applied.
func FromEnv(o *mqttsn.Options, getenv func(string) string) error {
	env := mqttsn.Options{
		ClientID:    getenv(EnvDeviceID),
		HubHostname: getenv(EnvHubHostname),
		GatewayHost: getenv(EnvGatewayAddress),
	}

	if v := getenv(EnvGatewayPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("%w: %s=%q", ErrInvalidEnv, EnvGatewayPort, v)
		}
		env.GatewayPort = port
	}

	err := copier.CopyWithOption(o, &env, copier.Option{IgnoreEmpty: true})
	if err != nil {
		return err
	}

	if o.ClientID == "" {
		return fmt.Errorf("%w: %s", ErrMissingEnv, EnvDeviceID)
	}

	if o.HubHostname == "" {
		return fmt.Errorf("%w: %s", ErrMissingEnv, EnvHubHostname)
	}

	return nil
}
