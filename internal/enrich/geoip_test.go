package enrich

import (
	"testing"

	"github.com/aak1247/sitetap/internal/model"
)

type fixedLocator map[string]Geo

func (f fixedLocator) Lookup(ip string) (Geo, bool) {
	g, ok := f[ip]
	return g, ok
}

func TestNewGeoIP_Disabled(t *testing.T) {
	t.Parallel()

	g, err := NewGeoIP("  ")
	if err != nil || g != nil {
		t.Fatalf("expected nil reader, got %v %v", g, err)
	}
	if _, ok := g.Lookup("8.8.8.8"); ok {
		t.Fatalf("nil GeoIP should not resolve")
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := NewGeoIP("/nonexistent/city.mmdb"); err == nil {
		t.Fatalf("expected error for missing database")
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	loc := fixedLocator{"203.0.113.9": {Country: "DE", Region: "BE", City: "Berlin", Postal: "10115"}}

	var rec model.EventRecord
	if !Apply(loc, &rec, "203.0.113.9") {
		t.Fatalf("expected enrichment")
	}
	if *rec.Country != "DE" || *rec.City != "Berlin" || *rec.Postal != "10115" || *rec.Region != "BE" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	fr := "FR"
	sent := model.EventRecord{Country: &fr}
	if Apply(loc, &sent, "203.0.113.9") || sent.City != nil {
		t.Fatalf("client supplied country must win: %+v", sent)
	}

	var unknown model.EventRecord
	if Apply(loc, &unknown, "198.51.100.1") || unknown.Country != nil {
		t.Fatalf("unknown ip should leave record untouched")
	}
	if Apply(nil, &unknown, "203.0.113.9") {
		t.Fatalf("nil locator should be a no-op")
	}
}
