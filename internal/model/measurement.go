package model

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// TimestampLayout is the ISO-8601 layout used for the ts column.
const TimestampLayout = time.RFC3339Nano

// Measurement is one row of readings, built once per cycle.
// A nil pointer means the capability was not configured (or failed).
type Measurement struct {
	Timestamp   time.Time
	Humidity    *float64 // %RH
	Temperature *float64 // °F
	Moisture    *bool    // true = wet
	ImageURL    *string
}

// Row returns the spreadsheet cells in the fixed column order
// [timestamp, humidity, temperature, moisture, image_url].
// Absent values are empty strings so that the columns never shift.
func (m Measurement) Row() []interface{} {
	row := []interface{}{m.Timestamp.UTC().Format(TimestampLayout), "", "", "", ""}
	if m.Humidity != nil {
		row[1] = *m.Humidity
	}
	if m.Temperature != nil {
		row[2] = *m.Temperature
	}
	if m.Moisture != nil {
		row[3] = *m.Moisture
	}
	if m.ImageURL != nil {
		row[4] = *m.ImageURL
	}
	return row
}

// Annotation is the text burned into the captured photo.
func (m Measurement) Annotation() string {
	return fmt.Sprintf("%s T: %s H: %s%% S: %s",
		m.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		formatOptional(m.Temperature),
		formatOptional(m.Humidity),
		MoistureLabel(m.Moisture),
	)
}

// MoistureLabel renders the moisture state as Wet/Dry; an absent reading is Dry.
func MoistureLabel(wet *bool) string {
	if wet != nil && *wet {
		return "Wet"
	}
	return "Dry"
}

type measurementJSON struct {
	Timestamp   string   `json:"ts"`
	Humidity    *float64 `json:"humidity"`
	Temperature *float64 `json:"temperature"`
	Moisture    *bool    `json:"moisture"`
	ImageURL    *string  `json:"image_url"`
}

func (m Measurement) MarshalJSON() ([]byte, error) {
	return json.Marshal(measurementJSON{
		Timestamp:   m.Timestamp.UTC().Format(TimestampLayout),
		Humidity:    m.Humidity,
		Temperature: m.Temperature,
		Moisture:    m.Moisture,
		ImageURL:    m.ImageURL,
	})
}

func (m *Measurement) UnmarshalJSON(b []byte) error {
	var raw measurementJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ts, err := time.Parse(TimestampLayout, raw.Timestamp)
	if err != nil {
		return fmt.Errorf("measurement ts: %w", err)
	}
	*m = Measurement{
		Timestamp:   ts.UTC(),
		Humidity:    raw.Humidity,
		Temperature: raw.Temperature,
		Moisture:    raw.Moisture,
		ImageURL:    raw.ImageURL,
	}
	return nil
}

// LogValue groups the record under one key in structured logs.
func (m Measurement) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("ts", m.Timestamp.UTC().Format(TimestampLayout))}
	if m.Humidity != nil {
		attrs = append(attrs, slog.Float64("humidity", *m.Humidity))
	}
	if m.Temperature != nil {
		attrs = append(attrs, slog.Float64("temperature", *m.Temperature))
	}
	if m.Moisture != nil {
		attrs = append(attrs, slog.Bool("moisture", *m.Moisture))
	}
	if m.ImageURL != nil {
		attrs = append(attrs, slog.String("image_url", *m.ImageURL))
	}
	return slog.GroupValue(attrs...)
}

func formatOptional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%g", *v)
}
