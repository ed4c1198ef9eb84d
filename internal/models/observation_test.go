package models

import (
	"encoding/json"
	"testing"
	"time"
)

func floatPtr(f float64) *float64 { return &f }

// TestObservation_MarshalJSON_FlattensExtra verifies passthrough fields appear
// at the top level of the JSON object alongside the typed fields.
func TestObservation_MarshalJSON_FlattensExtra(t *testing.T) {
	obs := Observation{
		ID:          "abc-123",
		City:        "Delhi",
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Temperature: floatPtr(31),
		Details:     "Haze",
		Extra:       map[string]any{"aqi": 204, "uv_index": 7.5},
	}

	raw, err := json.Marshal(obs)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if m["city"] != "Delhi" || m["temperature"] != 31.0 {
		t.Errorf("typed fields = city %v temperature %v, want Delhi / 31", m["city"], m["temperature"])
	}
	if m["aqi"] != 204.0 || m["uv_index"] != 7.5 {
		t.Errorf("extra fields = aqi %v uv_index %v, want flattened 204 / 7.5", m["aqi"], m["uv_index"])
	}
	if _, ok := m["Extra"]; ok {
		t.Error("Extra map leaked as its own JSON key")
	}
}

// TestObservation_MarshalJSON_KnownFieldsWin verifies an Extra key colliding
// with a typed field never overrides it.
func TestObservation_MarshalJSON_KnownFieldsWin(t *testing.T) {
	obs := Observation{
		ID:        "abc-123",
		City:      "Delhi",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Extra:     map[string]any{"city": "Spoofville"},
	}

	raw, err := json.Marshal(obs)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if m["city"] != "Delhi" {
		t.Errorf("city = %v, want typed field Delhi to win", m["city"])
	}
}

// TestObservation_MarshalJSON_OmitsAbsentNumerics verifies partial records
// keep absent numeric fields out of the JSON entirely.
func TestObservation_MarshalJSON_OmitsAbsentNumerics(t *testing.T) {
	obs := Observation{ID: "abc", City: "Chennai", Timestamp: time.Now().UTC()}

	raw, err := json.Marshal(obs)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"temperature", "humidity", "windspeed", "feels_like"} {
		if _, ok := m[key]; ok {
			t.Errorf("key %q present, want omitted for partial record", key)
		}
	}
}

func TestProviderReading_Payload(t *testing.T) {
	r := ProviderReading{
		City:        "Delhi",
		Country:     "IN",
		Temperature: 31,
		Humidity:    70,
		WindSpeed:   3.6,
		FeelsLike:   35,
		Details:     "Haze",
	}

	p := r.Payload()
	if p["temperature"] != 31.0 || p["feels_like"] != 35.0 || p["details"] != "Haze" || p["country"] != "IN" {
		t.Errorf("Payload() = %v, want reading fields mapped to ingest keys", p)
	}
	if _, ok := p["city"]; ok {
		t.Error("Payload() includes city, want it carried separately by the caller")
	}
}
