package routing

import (
	"fmt"
	"strings"
)

// Infrastructure topic prefixes. Device-scoped topics deliberately have no
// prefix: their names are part of the wire contract and must remain stable
// across implementations.
const (
	// TopicPrefixAnnounce is the base for retained device announcements.
	TopicPrefixAnnounce = "navis/announce"

	// TopicPrefixAdmin is the base for the id service request/reply pair.
	TopicPrefixAdmin = "navis/admin"
)

// Topics provides builders for Navis bus topics. Using these helpers keeps
// topic naming consistent across the codebase and preserves the injectivity
// of the (device id, channel) → topic mapping: device ids are router-assigned
// UUIDs and channel names are validated to contain no separator, so no two
// distinct pairs can collide.
//
//	topics := routing.Topics{}
//	measTopic := topics.Measurement("dev-1f2e", "pose")
//	// Returns: "dev-1f2e/measurement/pose"
type Topics struct{}

// Measurement returns the telemetry topic for one device channel.
//
// Example: dev-1f2e/measurement/pose
func (Topics) Measurement(deviceID, channel string) string {
	return fmt.Sprintf("%s/measurement/%s", deviceID, channel)
}

// Command returns the topic commands to a device are published on.
//
// Example: dev-1f2e/command
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command", deviceID)
}

// Ack returns the topic a device publishes command acknowledgements on.
//
// Example: dev-1f2e/ack
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack", deviceID)
}

// Announce returns the retained announcement topic for a device.
//
// Example: navis/announce/dev-1f2e
func (Topics) Announce(deviceID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixAnnounce, deviceID)
}

// RegisterRequest returns the id service request topic.
//
// Example: navis/admin/register/request
func (Topics) RegisterRequest() string {
	return fmt.Sprintf("%s/register/request", TopicPrefixAdmin)
}

// RegisterReply returns the id service reply topic for one request token.
//
// Example: navis/admin/register/reply/tok-abc123
func (Topics) RegisterReply(token string) string {
	return fmt.Sprintf("%s/register/reply/%s", TopicPrefixAdmin, token)
}

// AllAnnouncements returns a pattern matching every device announcement.
//
// Pattern: navis/announce/+
func (Topics) AllAnnouncements() string {
	return TopicPrefixAnnounce + "/+"
}

// AllMeasurements returns a pattern matching every device measurement.
//
// Pattern: +/measurement/+
func (Topics) AllMeasurements() string {
	return "+/measurement/+"
}

// SplitMeasurement extracts the device id and channel from a concrete
// measurement topic. It is the inverse of Measurement for topics received
// via the AllMeasurements pattern.
func (Topics) SplitMeasurement(topic string) (deviceID, channel string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[1] != "measurement" {
		return "", "", false
	}
	if parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// AnnouncedDevice extracts the device id from a concrete announcement topic.
func (Topics) AnnouncedDevice(topic string) (deviceID string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixAnnounce+"/")
	if !found || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// ValidChannel reports whether a channel name may appear in a topic.
// Channel names must be non-empty and contain no topic separator or
// wildcard characters, which would break topic injectivity.
func ValidChannel(channel string) bool {
	if channel == "" {
		return false
	}
	return !strings.ContainsAny(channel, "/+#")
}
