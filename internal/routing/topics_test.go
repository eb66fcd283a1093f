package routing

import (
	"testing"
)

func TestTopicNamesAreWireStable(t *testing.T) {
	topics := Topics{}

	if got := topics.Measurement("dev-1", "pose"); got != "dev-1/measurement/pose" {
		t.Errorf("Measurement() = %q, want %q", got, "dev-1/measurement/pose")
	}
	if got := topics.Command("dev-1"); got != "dev-1/command" {
		t.Errorf("Command() = %q, want %q", got, "dev-1/command")
	}
	if got := topics.Ack("dev-1"); got != "dev-1/ack" {
		t.Errorf("Ack() = %q, want %q", got, "dev-1/ack")
	}
	if got := topics.Announce("dev-1"); got != "navis/announce/dev-1" {
		t.Errorf("Announce() = %q, want %q", got, "navis/announce/dev-1")
	}
}

func TestTopicDerivationInjective(t *testing.T) {
	topics := Topics{}

	devices := []string{"dev-1", "dev-2", "dev-10"}
	channels := []string{"pose", "battery", "imu"}

	seen := make(map[string]string)
	record := func(topic, source string) {
		t.Helper()
		if prev, ok := seen[topic]; ok {
			t.Errorf("topic collision: %q produced by both %s and %s", topic, prev, source)
		}
		seen[topic] = source
	}

	for _, d := range devices {
		for _, ch := range channels {
			record(topics.Measurement(d, ch), "measurement "+d+"/"+ch)
		}
		record(topics.Command(d), "command "+d)
		record(topics.Ack(d), "ack "+d)
	}
}

func TestSplitMeasurement(t *testing.T) {
	topics := Topics{}

	dev, ch, ok := topics.SplitMeasurement("dev-1/measurement/pose")
	if !ok || dev != "dev-1" || ch != "pose" {
		t.Errorf("SplitMeasurement() = (%q, %q, %v), want (dev-1, pose, true)", dev, ch, ok)
	}

	for _, bad := range []string{"dev-1/command", "dev-1/measurement", "/measurement/pose", "dev-1/measurement/", "a/b/c/d"} {
		if _, _, ok := topics.SplitMeasurement(bad); ok {
			t.Errorf("SplitMeasurement(%q) ok = true, want false", bad)
		}
	}
}

func TestAnnouncedDevice(t *testing.T) {
	topics := Topics{}

	dev, ok := topics.AnnouncedDevice("navis/announce/dev-1")
	if !ok || dev != "dev-1" {
		t.Errorf("AnnouncedDevice() = (%q, %v), want (dev-1, true)", dev, ok)
	}
	for _, bad := range []string{"navis/announce/", "navis/announce/a/b", "dev-1/command"} {
		if _, ok := topics.AnnouncedDevice(bad); ok {
			t.Errorf("AnnouncedDevice(%q) ok = true, want false", bad)
		}
	}
}

func TestValidChannel(t *testing.T) {
	valid := []string{"pose", "battery-1", "imu_raw"}
	invalid := []string{"", "a/b", "a+b", "a#b"}

	for _, ch := range valid {
		if !ValidChannel(ch) {
			t.Errorf("ValidChannel(%q) = false, want true", ch)
		}
	}
	for _, ch := range invalid {
		if ValidChannel(ch) {
			t.Errorf("ValidChannel(%q) = true, want false", ch)
		}
	}
}
