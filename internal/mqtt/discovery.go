package mqtt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// nonAlphanumeric matches any character that is not alphanumeric or underscore.
var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// DiscoveryConfig is one retained HA discovery message. An empty Payload
// removes the sensor.
type DiscoveryConfig struct {
	Topic   string
	Payload []byte
}

// HADevice is the "device" block in HA discovery payloads.
type HADevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// SensorConfig is the HA discovery payload for sensor.
type SensorConfig struct {
	Name              string   `json:"name"`
	ObjectID          string   `json:"object_id"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	ValueTemplate     string   `json:"value_template"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	StateClass        string   `json:"state_class,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	Device            HADevice `json:"device"`
}

// sensor describes one snapshot field exposed to Home Assistant.
type sensor struct {
	key      string
	name     string
	template string
	unit     string
	icon     string
}

var snapshotSensors = []sensor{
	{key: "total", name: "Total Weight", template: "{{ value_json.total | round(2) }}", unit: "g", icon: "mdi:scale"},
	{key: "categories", name: "Categories", template: "{{ value_json.categories | count }}", icon: "mdi:shape"},
	{key: "baseline", name: "Zero", template: "{{ value_json.baseline | round(2) }}", unit: "g", icon: "mdi:scale-balance"},
	{key: "current", name: "Current", template: "{{ value_json.current | round(2) }}", unit: "g", icon: "mdi:weight-gram"},
	{key: "mode", name: "Mode", template: "{{ value_json.mode }}", icon: "mdi:state-machine"},
}

// SafeObjectID sanitizes a string for use as an HA object_id.
// Replaces any non-alphanumeric character (except underscore) with underscore,
// lowercases, and trims leading/trailing underscores.
func SafeObjectID(s string) string {
	s = strings.ToLower(s)
	s = nonAlphanumeric.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

func device(clientID, version string) HADevice {
	return HADevice{
		Identifiers:  []string{"tally_" + SafeObjectID(clientID)},
		Name:         "Tally " + clientID,
		Model:        "Scale piece counter",
		Manufacturer: "tally",
		SWVersion:    version,
	}
}

func sensorConfig(clientID, topicPrefix, version string, s sensor) SensorConfig {
	id := "tally_" + SafeObjectID(clientID) + "_" + s.key
	cfg := SensorConfig{
		Name:              s.name,
		ObjectID:          id,
		UniqueID:          id,
		StateTopic:        topicPrefix + "/snapshot",
		ValueTemplate:     s.template,
		UnitOfMeasurement: s.unit,
		Icon:              s.icon,
		AvailabilityTopic: topicPrefix + "/status",
		Device:            device(clientID, version),
	}
	if s.unit != "" {
		cfg.StateClass = "measurement"
	}
	return cfg
}

func discoveryTopic(haPrefix, clientID, key string) string {
	return fmt.Sprintf("%s/sensor/tally_%s/%s/config", haPrefix, SafeObjectID(clientID), key)
}

// BuildCounterDiscoveryConfigs creates the fixed HA sensors. All read the
// retained snapshot topic.
func BuildCounterDiscoveryConfigs(clientID, topicPrefix, haPrefix, version string) []DiscoveryConfig {
	configs := make([]DiscoveryConfig, 0, len(snapshotSensors))
	for _, s := range snapshotSensors {
		payload, err := json.Marshal(sensorConfig(clientID, topicPrefix, version, s))
		if err != nil {
			continue
		}
		configs = append(configs, DiscoveryConfig{
			Topic:   discoveryTopic(haPrefix, clientID, s.key),
			Payload: payload,
		})
	}
	return configs
}

func categoryKey(id int) string {
	return "category_" + strconv.Itoa(id)
}

// BuildCategoryDiscoveryConfig creates a piece-count sensor for one category.
func BuildCategoryDiscoveryConfig(clientID, topicPrefix, haPrefix, version string, id int) DiscoveryConfig {
	s := sensor{
		key:  categoryKey(id),
		name: fmt.Sprintf("Category %d Count", id),
		template: fmt.Sprintf(
			"{{ value_json.categories | selectattr('id', 'equalto', %d) | map(attribute='count') | first | default(0) }}", id),
		icon: "mdi:counter",
	}
	cfg := sensorConfig(clientID, topicPrefix, version, s)
	cfg.StateClass = "measurement"
	payload, _ := json.Marshal(cfg)
	return DiscoveryConfig{Topic: discoveryTopic(haPrefix, clientID, s.key), Payload: payload}
}

// RemoveCategoryDiscoveryConfig deletes the sensor for a category.
func RemoveCategoryDiscoveryConfig(clientID, haPrefix string, id int) DiscoveryConfig {
	return DiscoveryConfig{Topic: discoveryTopic(haPrefix, clientID, categoryKey(id))}
}
