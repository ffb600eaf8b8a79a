package mqtt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestLoadOrCreateInstanceID_CreatesFile(t *testing.T) {
	dir := t.TempDir()

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != id {
		t.Errorf("file content = %q, want %q", got, id)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("id %q is not a UUID: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Errorf("UUID version = %d, want 7", parsed.Version())
	}
}

func TestLoadOrCreateInstanceID_ReturnsExisting(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}
	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}

func TestLoadOrCreateInstanceID_ReplacesGarbage(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "instance_id"), []byte("not-a-uuid\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	id, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if id == "not-a-uuid" {
		t.Error("invalid stored id should have been replaced")
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("replacement %q is not a UUID: %v", id, err)
	}
}

func TestLoadOrCreateInstanceID_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	if _, err := LoadOrCreateInstanceID(dir); err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "instance_id")); err != nil {
		t.Errorf("instance_id not written: %v", err)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("test-instance-id", "test-device")
	if info.Name != "test-device" {
		t.Errorf("Name = %q, want %q", info.Name, "test-device")
	}
	if len(info.Identifiers) != 1 || info.Identifiers[0] != "test-instance-id" {
		t.Errorf("Identifiers = %v, want [test-instance-id]", info.Identifiers)
	}
	if info.Manufacturer != "Hollow Oak" {
		t.Errorf("Manufacturer = %q, want %q", info.Manufacturer, "Hollow Oak")
	}
	if info.SWVersion == "" {
		t.Error("SWVersion should not be empty")
	}
}

func TestPresenceConfig_JSON(t *testing.T) {
	device := NewDeviceInfo("abc", "gw")
	cfg := presenceConfig("abc", device, "home/gw/Service")

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want := map[string]string{
		"name":            "gw Presence",
		"unique_id":       "abc",
		"state_topic":     "home/gw/Service",
		"payload_on":      "Started",
		"payload_off":     "Stopped",
		"device_class":    "running",
		"entity_category": "diagnostic",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %q", k, got[k], v)
		}
	}
	dev, ok := got["device"].(map[string]any)
	if !ok {
		t.Fatalf("device = %T, want object", got["device"])
	}
	if dev["name"] != "gw" {
		t.Errorf("device.name = %v, want gw", dev["name"])
	}
}
