package models

import (
	"encoding/json"
	"time"
)

// Observation is one persisted weather reading for one city at one instant.
// Timestamp is assigned at ingestion time, never taken from caller input.
// Numeric fields are pointers because partial payloads are accepted and stored as-is.
type Observation struct {
	ID          string         `json:"id"`
	City        string         `json:"city"`
	Timestamp   time.Time      `json:"timestamp"`
	Temperature *float64       `json:"temperature,omitempty"`
	Humidity    *float64       `json:"humidity,omitempty"`
	WindSpeed   *float64       `json:"windspeed,omitempty"`
	FeelsLike   *float64       `json:"feels_like,omitempty"`
	Details     string         `json:"details,omitempty"`
	Country     string         `json:"country,omitempty"`
	Extra       map[string]any `json:"-"`
}

// observationJSON mirrors Observation for (un)marshalling with Extra flattened
// into the top-level object, matching the open payload shape callers send.
type observationJSON Observation

// MarshalJSON flattens Extra into the top-level JSON object. Known fields win
// on key collision.
func (o Observation) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(observationJSON(o))
	if err != nil {
		return nil, err
	}
	if len(o.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(o.Extra)+8)
	for k, v := range o.Extra {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(base, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// ProviderReading is a current-weather reading as returned by the upstream
// provider, before it is stamped and persisted as an Observation.
type ProviderReading struct {
	City        string  `json:"city"`
	Country     string  `json:"country"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	WindSpeed   float64 `json:"windspeed"`
	FeelsLike   float64 `json:"feels_like"`
	Details     string  `json:"details"`
}

// Payload converts a provider reading into the open field map the ingestion
// path accepts, so poller writes take the same shape as external callers'.
func (r ProviderReading) Payload() map[string]any {
	return map[string]any{
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
		"windspeed":   r.WindSpeed,
		"feels_like":  r.FeelsLike,
		"details":     r.Details,
		"country":     r.Country,
	}
}
