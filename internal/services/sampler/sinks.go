package sampler

import (
	"context"
	"encoding/json"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/clever_harvest/internal/model"
	"github.com/LeonardoBeccarini/clever_harvest/internal/sheets"
	"github.com/LeonardoBeccarini/clever_harvest/pkg/mqttbus"
)

// RowAppender is the part of a worksheet the sampler writes to.
type RowAppender interface {
	AppendRow(ctx context.Context, row []interface{}) error
}

// SheetOpener authenticates and opens the target worksheet.
type SheetOpener func(ctx context.Context) (RowAppender, error)

// SheetSink appends the record as one row. The worksheet is opened again on
// every write; nothing is kept between cycles.
type SheetSink struct {
	open SheetOpener
}

func NewSheetSink(open SheetOpener) *SheetSink {
	return &SheetSink{open: open}
}

// GoogleSheetOpener opens the spreadsheet named title with a service account.
func GoogleSheetOpener(credentialsJSON []byte, title string) SheetOpener {
	return func(ctx context.Context) (RowAppender, error) {
		client, err := sheets.New(ctx, credentialsJSON)
		if err != nil {
			return nil, err
		}
		ws, err := client.Open(ctx, title)
		if err != nil {
			return nil, err
		}
		return ws, nil
	}
}

func (s *SheetSink) Name() string { return "sheet" }

func (s *SheetSink) Write(ctx context.Context, rec model.Measurement) error {
	ws, err := s.open(ctx)
	if err != nil {
		return fmt.Errorf("open worksheet: %w", err)
	}
	return ws.AppendRow(ctx, rec.Row())
}

// MQTTSink publishes the record as JSON.
type MQTTSink struct {
	pub mqttbus.Publisher
}

func NewMQTTSink(pub mqttbus.Publisher) *MQTTSink {
	return &MQTTSink{pub: pub}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Write(_ context.Context, rec model.Measurement) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode measurement: %w", err)
	}
	return s.pub.Publish(payload)
}

// PointWriter is satisfied by influxdb2's api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes one point per record, tagged with the project title.
type InfluxSink struct {
	w           PointWriter
	measurement string
	title       string
}

func NewInfluxSink(w PointWriter, measurement, title string) *InfluxSink {
	return &InfluxSink{w: w, measurement: measurement, title: title}
}

func (s *InfluxSink) Name() string { return "influx" }

func (s *InfluxSink) Write(ctx context.Context, rec model.Measurement) error {
	return s.w.WritePoint(ctx, MeasurementToPoint(s.measurement, s.title, rec))
}

// MeasurementToPoint maps present fields only; count lets queries tell an
// empty cycle from a missing one.
func MeasurementToPoint(measurement, title string, rec model.Measurement) *write.Point {
	fields := map[string]interface{}{"count": 1}
	if rec.Humidity != nil {
		fields["humidity"] = *rec.Humidity
	}
	if rec.Temperature != nil {
		fields["temperature"] = *rec.Temperature
	}
	if rec.Moisture != nil {
		fields["wet"] = *rec.Moisture
	}
	if rec.ImageURL != nil {
		fields["image_url"] = *rec.ImageURL
	}
	return influxdb2.NewPoint(measurement, map[string]string{"title": title}, fields, rec.Timestamp)
}
