package storms

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"sparkify/pkg/errors"
)

// Region is the outline of a set of storm events.
type Region struct {
	Name   string
	Events int
	Points []Point
	// Hull is nil when the points span no area.
	Hull   []Point
	Center Point
}

// NewRegion collects the points of events and their convex hull.
func NewRegion(name string, events []Event) (*Region, error) {
	points := Points(events)
	center, ok := Centroid(points)
	if !ok {
		return nil, errors.New(errors.ErrCodeNoResults, "No storm events with coordinates").
			WithContext("region", name).
			WithSuggestions("Check the state and episode filters", "Events without coordinates cannot be mapped")
	}
	return &Region{
		Name:   name,
		Events: len(events),
		Points: points,
		Hull:   ConvexHull(points),
		Center: center,
	}, nil
}

func toOrb(p Point) orb.Point { return orb.Point{p.Lon, p.Lat} }

// Ring returns the closed hull ring, or nil without a hull.
func (r *Region) Ring() orb.Ring {
	if len(r.Hull) == 0 {
		return nil
	}
	ring := make(orb.Ring, 0, len(r.Hull)+1)
	for _, p := range r.Hull {
		ring = append(ring, toOrb(p))
	}
	return append(ring, ring[0])
}

// FeatureCollection renders the region as point features followed by the
// hull polygon when there is one. The collection carries the bounding box.
func (r *Region) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	var multi orb.MultiPoint
	for _, p := range r.Points {
		pt := toOrb(p)
		multi = append(multi, pt)
		f := geojson.NewFeature(pt)
		f.Properties["kind"] = "event"
		fc.Append(f)
	}

	if ring := r.Ring(); ring != nil {
		f := geojson.NewFeature(orb.Polygon{ring})
		f.Properties["name"] = r.Name
		f.Properties["kind"] = "region"
		f.Properties["events"] = r.Events
		f.Properties["center"] = []float64{r.Center.Lon, r.Center.Lat}
		fc.Append(f)
	}

	if len(multi) > 0 {
		fc.BBox = geojson.NewBBox(multi.Bound())
	}
	return fc
}

// GeoJSON encodes the region.
func (r *Region) GeoJSON() ([]byte, error) {
	data, err := r.FeatureCollection().MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed to encode storm region")
	}
	return data, nil
}
