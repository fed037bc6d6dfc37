package enrich

import (
	"net"
	"strings"

	"github.com/aak1247/sitetap/internal/model"
	"github.com/oschwald/geoip2-golang"
)

type Geo struct {
	Country string
	Region  string
	City    string
	Postal  string
}

// Locator resolves a client IP to a location.
type Locator interface {
	Lookup(ip string) (Geo, bool)
}

type GeoIP struct {
	city *geoip2.Reader
}

// NewGeoIP opens a MaxMind City database. An empty path disables enrichment
// and returns a nil *GeoIP, which is safe to use.
func NewGeoIP(cityPath string) (*GeoIP, error) {
	cityPath = strings.TrimSpace(cityPath)
	if cityPath == "" {
		return nil, nil
	}
	r, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, err
	}
	return &GeoIP{city: r}, nil
}

func (g *GeoIP) Close() error {
	if g == nil || g.city == nil {
		return nil
	}
	return g.city.Close()
}

func (g *GeoIP) Lookup(ipStr string) (Geo, bool) {
	if g == nil || g.city == nil {
		return Geo{}, false
	}
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return Geo{}, false
	}
	rec, err := g.city.City(ip)
	if err != nil {
		return Geo{}, false
	}

	out := Geo{Country: rec.Country.IsoCode, Postal: rec.Postal.Code}
	if len(rec.Subdivisions) > 0 {
		out.Region = rec.Subdivisions[0].IsoCode
	}
	if name := strings.TrimSpace(rec.City.Names["en"]); name != "" {
		out.City = name
	}
	return out, out != Geo{}
}

// Apply fills location fields from the client IP when the payload carried no
// country. Fields the client did send are never overwritten.
func Apply(loc Locator, rec *model.EventRecord, clientIP string) bool {
	if loc == nil || rec == nil || clientIP == "" {
		return false
	}
	if rec.Country != nil && *rec.Country != "" {
		return false
	}
	g, ok := loc.Lookup(clientIP)
	if !ok {
		return false
	}
	set := func(dst **string, v string) {
		if v != "" && (*dst == nil || **dst == "") {
			*dst = &v
		}
	}
	set(&rec.Country, g.Country)
	set(&rec.Region, g.Region)
	set(&rec.City, g.City)
	set(&rec.Postal, g.Postal)
	return true
}
