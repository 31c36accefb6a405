package dashboard

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/clever_harvest/internal/model"
)

// Column positions in the measurement sheet.
const (
	colTimestamp = iota
	colHumidity
	colTemperature
	colMoisture
	colImageURL
)

const (
	colorTemperature = "#3e95cd"
	colorHumidity    = "#8e5ea2"
	colorMoisture    = "#e0a732"
)

// Chart is a Chart.js configuration object.
type Chart struct {
	Type string    `json:"type"`
	Data ChartData `json:"data"`
}

type ChartData struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

type Dataset struct {
	Data        interface{} `json:"data"`
	Label       string      `json:"label"`
	BorderColor string      `json:"borderColor"`
	Fill        bool        `json:"fill"`
}

// View is everything the page template needs.
type View struct {
	Title        string
	Empty        bool
	LastImageURL string
	LastUpdated  string
	Temperature  Chart
	Humidity     Chart
	Moisture     Chart
}

// timestamp layouts seen in the ts column; zone-less rows are UTC
var tsLayouts = []string{
	model.TimestampLayout,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// BuildView renders the last row as the current state and the last
// trendSize rows as the trend, labelled HH:MM in loc.
func BuildView(title string, rows [][]string, loc *time.Location, trendSize int) View {
	v := View{Title: title}
	if len(rows) == 0 {
		v.Empty = true
		return v
	}
	last := rows[len(rows)-1]
	trend := rows
	if trendSize > 0 && len(trend) > trendSize {
		trend = trend[len(trend)-trendSize:]
	}

	labels := make([]string, len(trend))
	temps := make([]*float64, len(trend))
	hums := make([]*float64, len(trend))
	wet := make([]bool, len(trend))
	for i, row := range trend {
		labels[i] = clockLabel(cell(row, colTimestamp), loc)
		temps[i] = number(cell(row, colTemperature))
		hums[i] = number(cell(row, colHumidity))
		wet[i] = isTrue(cell(row, colMoisture))
	}

	v.LastImageURL = cell(last, colImageURL)
	if ts, ok := parseTimestamp(cell(last, colTimestamp)); ok {
		v.LastUpdated = ts.In(loc).Format("2006-01-02 15:04 MST")
	}

	moistureLabel := "Dry"
	if isTrue(cell(last, colMoisture)) {
		moistureLabel = "Wet"
	}
	v.Temperature = lineChart(labels, temps, "Temperature ("+orNA(cell(last, colTemperature))+")", colorTemperature)
	v.Humidity = lineChart(labels, hums, "Humidity ("+orNA(cell(last, colHumidity))+")", colorHumidity)
	v.Moisture = lineChart(labels, wet, "Moisture ("+moistureLabel+")", colorMoisture)
	return v
}

func lineChart(labels []string, data interface{}, label, color string) Chart {
	return Chart{
		Type: "line",
		Data: ChartData{
			Labels: labels,
			Datasets: []Dataset{{
				Data:        data,
				Label:       label,
				BorderColor: color,
				Fill:        false,
			}},
		},
	}
}

// cell tolerates short rows: the Sheets API trims trailing empty cells.
func cell(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

// number is nil for blank or unparseable cells so the chart shows a gap.
func number(s string) *float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func isTrue(s string) bool { return strings.EqualFold(s, "TRUE") }

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range tsLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func clockLabel(s string, loc *time.Location) string {
	t, ok := parseTimestamp(s)
	if !ok {
		return s
	}
	return t.In(loc).Format("15:04")
}
