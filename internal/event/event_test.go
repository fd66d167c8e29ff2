package event

import (
	"testing"
	"time"
)

func TestDecodeValid(t *testing.T) {
	raw := []byte(`{
		"event": "container.created",
		"container_id": "c-123",
		"container_name": "demo-1",
		"container_ip": "172.17.0.2",
		"image_id": "img-9",
		"internal_port": 8080,
		"external_port": 30001,
		"app_hostname": "demo",
		"user_id": "u-7",
		"timestamp": "2026-08-01T10:00:00Z"
	}`)

	e, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if e.Event != KindCreated {
		t.Errorf("Event = %q, want %q", e.Event, KindCreated)
	}
	if e.ContainerID != "c-123" {
		t.Errorf("ContainerID = %q, want c-123", e.ContainerID)
	}
	if e.ExternalPort != 30001 {
		t.Errorf("ExternalPort = %d, want 30001", e.ExternalPort)
	}
	if got := string(e.PartitionKey()); got != "c-123" {
		t.Errorf("PartitionKey = %q, want c-123", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Error("Decode of malformed JSON = nil error, want error")
	}
}

func TestDecodeMissingFields(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no container id", `{"event":"container.created"}`},
		{"no kind", `{"container_id":"c-1"}`},
		{"bad port", `{"event":"container.created","container_id":"c-1","external_port":70000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.raw)); err == nil {
				t.Error("Decode = nil error, want validation error")
			}
		})
	}
}

func TestKindKnown(t *testing.T) {
	for _, k := range []Kind{KindCreated, KindStarted, KindStopped, KindDeleted} {
		if !k.Known() {
			t.Errorf("Known(%q) = false, want true", k)
		}
	}
	if Kind("container.exploded").Known() {
		t.Error("Known(container.exploded) = true, want false")
	}
}

func TestTimeCoercion(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	e := &Lifecycle{Event: KindCreated, ContainerID: "c-1"}
	if got := e.Time(now); !got.Equal(now) {
		t.Errorf("Time with nil timestamp = %s, want now %s", got, now)
	}

	est := time.FixedZone("EST", -5*3600)
	ts := time.Date(2026, 8, 1, 7, 0, 0, 0, est)
	e.Timestamp = &ts
	got := e.Time(now)
	if got.Location() != time.UTC {
		t.Errorf("Time location = %v, want UTC", got.Location())
	}
	if !got.Equal(ts) {
		t.Errorf("Time = %s, want same instant as %s", got, ts)
	}
}
