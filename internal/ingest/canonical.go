package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aak1247/sitetap/internal/apperr"
	"github.com/aak1247/sitetap/internal/model"
)

// Canonicalize turns a loosely-typed pixel payload into an EventRecord. Every
// optional field that is missing, empty or of the wrong shape ends up nil, so
// all backends receive the same shape. Server-assigned fields (id, ingest id)
// are never taken from the payload.
func Canonicalize(payload map[string]any) (model.EventRecord, error) {
	if payload == nil {
		return model.EventRecord{}, apperr.Validation("event", "payload is empty")
	}

	event := stringField(payload, "event")
	if event == nil {
		return model.EventRecord{}, apperr.Validation("event", "event is required")
	}
	tagID := stringField(payload, "tag_id")
	if tagID == nil {
		return model.EventRecord{}, apperr.Validation("tag_id", "tag_id is required")
	}

	createdAt, ok := timeField(payload, "created_at")
	if !ok {
		createdAt = time.Now().UTC()
	}
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	updatedAt, ok := timeField(payload, "updated_at")
	if !ok {
		updatedAt = createdAt
	}
	updatedAt = updatedAt.UTC().Truncate(time.Microsecond)

	referer := stringField(payload, "referer")
	if referer == nil {
		referer = stringField(payload, "referrer")
	}

	rec := model.EventRecord{
		SiteID:          int64Field(payload, "site_id"),
		TeamID:          int64Field(payload, "team_id"),
		TagID:           *tagID,
		Event:           *event,
		PageURL:         stringField(payload, "page_url"),
		ClientPageURL:   stringField(payload, "client_page_url"),
		Referer:         referer,
		QueryParams:     attrsField(payload, "query_params"),
		CustomData:      attrsField(payload, "custom_data"),
		BotData:         attrsField(payload, "bot_data"),
		Browser:         stringField(payload, "browser"),
		OperatingSystem: stringField(payload, "operating_system"),
		DeviceType:      stringField(payload, "device_type"),
		ScreenWidth:     intField(payload, "screen_width"),
		ScreenHeight:    intField(payload, "screen_height"),
		Country:         stringField(payload, "country"),
		Region:          stringField(payload, "region"),
		City:            stringField(payload, "city"),
		Postal:          stringField(payload, "postal"),
		RID:             stringField(payload, "rid"),
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
	}
	if err := checkWidths(&rec); err != nil {
		return model.EventRecord{}, err
	}
	return rec, nil
}

// checkWidths rejects values longer than their varchar column. Widths are in
// characters, as Postgres counts them.
func checkWidths(rec *model.EventRecord) error {
	bounded := []struct {
		name  string
		value *string
		max   int
	}{
		{"tag_id", &rec.TagID, 64},
		{"event", &rec.Event, 200},
		{"browser", rec.Browser, 100},
		{"operating_system", rec.OperatingSystem, 100},
		{"device_type", rec.DeviceType, 50},
		{"country", rec.Country, 100},
		{"region", rec.Region, 100},
		{"city", rec.City, 200},
		{"postal", rec.Postal, 32},
		{"rid", rec.RID, 255},
	}
	for _, f := range bounded {
		if f.value != nil && utf8.RuneCountInString(*f.value) > f.max {
			return apperr.Validation(f.name, fmt.Sprintf("%s exceeds %d characters", f.name, f.max))
		}
	}
	return nil
}

// CanonicalizeJSON decodes a JSON object and canonicalizes it.
func CanonicalizeJSON(body []byte) (model.EventRecord, error) {
	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return model.EventRecord{}, apperr.Validation("", fmt.Sprintf("invalid event json: %v", err))
	}
	return Canonicalize(payload)
}

// Recanonicalize runs a record through its JSON form and back. The result is
// equal to the input for any record Canonicalize produced.
func Recanonicalize(rec model.EventRecord) (model.EventRecord, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return model.EventRecord{}, err
	}
	return CanonicalizeJSON(b)
}

func stringField(m map[string]any, key string) *string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func numberField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func intField(m map[string]any, key string) *int {
	f, ok := numberField(m, key)
	if !ok || f < 0 || f > math.MaxInt32 {
		return nil
	}
	n := int(f)
	return &n
}

func int64Field(m map[string]any, key string) int64 {
	f, ok := numberField(m, key)
	if !ok || f <= 0 {
		return 0
	}
	return int64(f)
}

func attrsField(m map[string]any, key string) model.Attrs {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil
		}
		return model.Attrs(t)
	case model.Attrs:
		if len(t) == 0 {
			return nil
		}
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if strings.HasPrefix(s, "{") {
			var out map[string]any
			if err := json.Unmarshal([]byte(s), &out); err != nil || len(out) == 0 {
				return nil
			}
			return model.Attrs(out)
		}
		// Raw query strings ("a=1&b=2") are accepted for query_params.
		values, err := url.ParseQuery(strings.TrimPrefix(s, "?"))
		if err != nil || len(values) == 0 {
			return nil
		}
		out := make(model.Attrs, len(values))
		for k, vs := range values {
			if len(vs) == 1 {
				out[k] = vs[0]
				continue
			}
			items := make([]any, 0, len(vs))
			for _, item := range vs {
				items = append(items, item)
			}
			out[k] = items
		}
		return out
	default:
		return nil
	}
}

func timeField(m map[string]any, key string) (time.Time, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, true
			}
		}
	}
	f, ok := numberField(m, key)
	if !ok || f <= 0 {
		return time.Time{}, false
	}
	// Values above 1e12 are epoch milliseconds.
	if f > 1e12 {
		return time.UnixMilli(int64(f)), true
	}
	return time.Unix(int64(f), 0), true
}
