package report

import (
	"fmt"
	"strconv"
	"time"
)

type Point struct {
	X string  `json:"x"`
	Y float64 `json:"y"`
}

type Link struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Value  float64 `json:"value"`
}

// Series is the mapped result of one widget: Links for flow charts, Points
// for everything else.
type Series struct {
	Points []Point `json:"points,omitempty"`
	Links  []Link  `json:"links,omitempty"`
}

// MapRows converts raw aggregate rows into the chart family's shape. Drivers
// disagree on column types, so text and numbers are coerced leniently.
func MapRows(cfg Config, rows []map[string]any) Series {
	if cfg.ChartType == ChartSankey {
		links := make([]Link, 0, len(rows))
		for _, r := range rows {
			links = append(links, Link{
				Source: toText(r["source"]),
				Target: toText(r["target"]),
				Value:  toFloat(r["value"]),
			})
		}
		return Series{Links: links}
	}
	points := make([]Point, 0, len(rows))
	for _, r := range rows {
		points = append(points, Point{X: toText(r["x"]), Y: toFloat(r["y"])})
	}
	return Series{Points: points}
}

func toText(v any) string {
	switch t := v.(type) {
	case nil:
		return unknownLabel
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format("2006-01-02")
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case int:
		return float64(t)
	case float64:
		return t
	case float32:
		return float64(t)
	case []byte:
		f, _ := strconv.ParseFloat(string(t), 64)
		return f
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case fmt.Stringer:
		f, _ := strconv.ParseFloat(t.String(), 64)
		return f
	default:
		f, _ := strconv.ParseFloat(fmt.Sprint(t), 64)
		return f
	}
}
