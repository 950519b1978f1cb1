// Package storms outlines the region covered by a storm episode from NOAA
// storm event detail files.
package storms

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sparkify/internal/logging"
	"sparkify/pkg/errors"
)

// DetailsPattern matches the NOAA detail files inside a directory.
const DetailsPattern = "*details*.csv"

// DefaultState is the state selected when none is given.
const DefaultState = "FLORIDA"

// DefaultEventTypes are the weather events that make up a storm.
var DefaultEventTypes = []string{
	"Thunderstorm Wind", "Lightning", "Flood", "Heavy Rain",
	"Tornado", "Hail",
	"Strong Wind", "Funnel Cloud", "Flash Flood",
	"Tropical Storm", "Tropical Depression", "High Wind",
	"Dust Devil", "Hurricane",
}

// Point is a longitude and latitude pair.
type Point struct {
	Lon float64
	Lat float64
}

// Event is one row of a detail file. Begin and End are nil when the file
// has no coordinates for them.
type Event struct {
	EventID       int64
	EpisodeID     int64
	EventType     string
	Year          int
	BeginDateTime string
	State         string
	CZName        string
	Magnitude     string
	Begin         *Point
	End           *Point
}

// Filter selects events. An EpisodeID of 0 keeps every episode.
type Filter struct {
	State      string
	EventTypes []string
	EpisodeID  int64
}

// Match reports whether e passes the filter. State and event types compare
// case-insensitively.
func (f Filter) Match(e Event) bool {
	if f.State != "" && !strings.EqualFold(f.State, e.State) {
		return false
	}
	if f.EpisodeID != 0 && f.EpisodeID != e.EpisodeID {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if strings.EqualFold(t, e.EventType) {
			return true
		}
	}
	return false
}

var requiredColumns = []string{
	"EVENT_ID", "EPISODE_ID", "EVENT_TYPE", "STATE",
	"BEGIN_LAT", "BEGIN_LON", "END_LAT", "END_LON",
}

// DetailFiles lists the detail files in dir in name order.
func DetailFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, DetailsPattern))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "Invalid storm data directory").
			WithContext("dir", dir)
	}
	if len(files) == 0 {
		return nil, errors.New(errors.ErrCodeFileNotFound, "No storm detail files found").
			WithContext("dir", dir).
			WithSuggestions("Download StormEvents_details-*.csv files from the NOAA storm events database")
	}
	sort.Strings(files)
	return files, nil
}

// Read parses a detail file and keeps the events matching filter.
func Read(r io.Reader, filter Filter) ([]Event, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileCorrupted, "Failed to read storm file header")
	}
	index := map[string]int{}
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, errors.New(errors.ErrCodeFileCorrupted, "Storm file is missing a column").
				WithContext("column", col)
		}
	}
	get := func(record []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var events []Event
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeFileCorrupted, "Failed to read storm record").
				WithContext("line", line)
		}

		e, err := parseEvent(record, get)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeFileCorrupted, "Invalid storm record").
				WithContext("line", line)
		}
		if filter.Match(e) {
			events = append(events, e)
		}
	}
	return events, nil
}

func parseEvent(record []string, get func([]string, string) string) (Event, error) {
	e := Event{
		EventType:     get(record, "EVENT_TYPE"),
		State:         get(record, "STATE"),
		BeginDateTime: get(record, "BEGIN_DATE_TIME"),
		CZName:        get(record, "CZ_NAME"),
		Magnitude:     get(record, "MAGNITUDE"),
	}

	var err error
	if e.EventID, err = strconv.ParseInt(get(record, "EVENT_ID"), 10, 64); err != nil {
		return e, err
	}
	if e.EpisodeID, err = parseOptionalInt(get(record, "EPISODE_ID")); err != nil {
		return e, err
	}
	year, err := parseOptionalInt(get(record, "YEAR"))
	if err != nil {
		return e, err
	}
	e.Year = int(year)

	if e.Begin, err = parsePoint(get(record, "BEGIN_LON"), get(record, "BEGIN_LAT")); err != nil {
		return e, err
	}
	if e.End, err = parsePoint(get(record, "END_LON"), get(record, "END_LAT")); err != nil {
		return e, err
	}
	return e, nil
}

func parseOptionalInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// parsePoint returns nil when either coordinate is empty.
func parsePoint(lon, lat string) (*Point, error) {
	if lon == "" || lat == "" {
		return nil, nil
	}
	x, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return nil, err
	}
	y, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return nil, err
	}
	return &Point{Lon: x, Lat: y}, nil
}

// Load reads files concurrently and returns the matching events in file
// order.
func Load(ctx context.Context, files []string, filter Filter, log logrus.FieldLogger) ([]Event, error) {
	log = logging.OrDiscard(log)
	results := make([][]Event, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeFileNotFound, "Failed to open storm file").
					WithContext("file", file)
			}
			defer f.Close()

			events, err := Read(f, filter)
			if err != nil {
				var appErr *errors.AppError
				if errors.As(err, &appErr) {
					return appErr.WithContext("file", file)
				}
				return err
			}
			log.WithFields(logrus.Fields{"file": filepath.Base(file), "events": len(events)}).Debug("Storm file read")
			results[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var events []Event
	for _, r := range results {
		events = append(events, r...)
	}
	log.WithFields(logrus.Fields{"files": len(files), "events": len(events)}).Info("Storm events selected")
	return events, nil
}

// Points collects the begin and end points of events, skipping missing
// coordinates.
func Points(events []Event) []Point {
	var points []Point
	for _, e := range events {
		if e.Begin != nil {
			points = append(points, *e.Begin)
		}
	}
	for _, e := range events {
		if e.End != nil {
			points = append(points, *e.End)
		}
	}
	return points
}

// Centroid is the mean of points, the natural map center for a region.
func Centroid(points []Point) (Point, bool) {
	if len(points) == 0 {
		return Point{}, false
	}
	var c Point
	for _, p := range points {
		c.Lon += p.Lon
		c.Lat += p.Lat
	}
	n := float64(len(points))
	return Point{Lon: c.Lon / n, Lat: c.Lat / n}, true
}

func cross(o, a, b Point) float64 {
	return (a.Lon-o.Lon)*(b.Lat-o.Lat) - (a.Lat-o.Lat)*(b.Lon-o.Lon)
}

// ConvexHull returns the hull vertices counter-clockwise starting from the
// lowest longitude, without repeating the first vertex. Collinear points are
// dropped. It returns nil when the points span no area.
func ConvexHull(points []Point) []Point {
	sorted := append([]Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Lon != sorted[j].Lon {
			return sorted[i].Lon < sorted[j].Lon
		}
		return sorted[i].Lat < sorted[j].Lat
	})

	distinct := sorted[:0]
	for i, p := range sorted {
		if i == 0 || p != sorted[i-1] {
			distinct = append(distinct, p)
		}
	}
	if len(distinct) < 3 {
		return nil
	}

	hull := make([]Point, 0, 2*len(distinct))
	for _, p := range distinct {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(distinct) - 2; i >= 0; i-- {
		p := distinct[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	hull = hull[:len(hull)-1]

	if len(hull) < 3 {
		return nil
	}
	return hull
}
