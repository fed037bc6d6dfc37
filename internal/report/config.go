// Package report turns user-authored widget configs into aggregate queries,
// executes them on the site's backend and maps the rows into chart series.
package report

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/aak1247/sitetap/internal/apperr"
)

const ConfigVersion = 1

type ChartType string

const (
	ChartBar    ChartType = "bar"
	ChartLine   ChartType = "line"
	ChartPie    ChartType = "pie"
	ChartFunnel ChartType = "funnel"
	ChartSankey ChartType = "sankey"
)

type Aggregation string

const (
	AggCount       Aggregation = "count"
	AggUniqueUsers Aggregation = "unique_users"
	AggSum         Aggregation = "sum"
	AggAvg         Aggregation = "avg"
)

// Config is one widget as authored. It is untrusted input: field names are
// only usable after ValidateFields.
type Config struct {
	Version      int            `json:"version"`
	Title        string         `json:"title,omitempty"`
	ChartType    ChartType      `json:"chart_type"`
	XField       string         `json:"x_field,omitempty"`
	YField       string         `json:"y_field,omitempty"`
	SourceField  string         `json:"source_field,omitempty"`
	TargetField  string         `json:"target_field,omitempty"`
	Aggregation  Aggregation    `json:"aggregation"`
	ColorPalette []string       `json:"color_palette,omitempty"`
	Limit        Limit          `json:"limit"`
	Layout       map[string]any `json:"layout,omitempty"`
}

// Check validates the parts of a config that do not depend on the schema.
func (c Config) Check() error {
	if c.Version != ConfigVersion {
		return apperr.Validation("version", "unsupported widget config version "+strconv.Itoa(c.Version))
	}
	switch c.ChartType {
	case ChartBar, ChartLine, ChartPie, ChartFunnel, ChartSankey:
	default:
		return apperr.Validation("chart_type", "unknown chart type "+strconv.Quote(string(c.ChartType)))
	}
	switch c.aggregation() {
	case AggCount, AggUniqueUsers, AggSum, AggAvg:
	default:
		return apperr.Validation("aggregation", "unknown aggregation "+strconv.Quote(string(c.Aggregation)))
	}
	return nil
}

func (c Config) aggregation() Aggregation {
	if c.Aggregation == "" {
		return AggCount
	}
	return c.Aggregation
}

// DecodeConfig parses and checks a single widget document.
func DecodeConfig(b []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, apperr.Validation("widget", "invalid widget JSON")
	}
	if err := c.Check(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// DecodeWidgets parses the stored widget list of a report.
func DecodeWidgets(b []byte) ([]Config, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return []Config{}, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, apperr.Validation("widgets", "widgets must be a JSON array")
	}
	out := make([]Config, 0, len(raw))
	for _, r := range raw {
		c, err := DecodeConfig(r)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

const (
	DefaultLimit = 25
	MinLimit     = 1
	MaxLimit     = 500
)

// ClampLimit maps any requested limit into [MinLimit, MaxLimit]. Non-finite
// values fall back to DefaultLimit and fractions are floored.
func ClampLimit(v float64) int {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return DefaultLimit
	}
	v = math.Floor(v)
	if v < MinLimit {
		return MinLimit
	}
	if v > MaxLimit {
		return MaxLimit
	}
	return int(v)
}

// Limit is the widget's row cap as authored. It accepts JSON numbers, numeric
// strings ("NaN" included) and null.
type Limit struct {
	Value float64
	Set   bool
}

func LimitOf(v float64) Limit { return Limit{Value: v, Set: true} }

// Rows is the effective clamped limit.
func (l Limit) Rows() int {
	if !l.Set {
		return DefaultLimit
	}
	return ClampLimit(l.Value)
}

func (l *Limit) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*l = Limit{}
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// Unparseable limits behave like NaN.
		*l = Limit{Value: math.NaN(), Set: true}
		return nil
	}
	*l = Limit{Value: v, Set: true}
	return nil
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if !l.Set || math.IsNaN(l.Value) || math.IsInf(l.Value, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(l.Value, 'f', -1, 64)), nil
}
