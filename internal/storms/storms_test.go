package storms

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkify/pkg/errors"
)

const details = `BEGIN_YEARMONTH,EPISODE_ID,EVENT_ID,STATE,STATE_FIPS,YEAR,EVENT_TYPE,CZ_TYPE,CZ_FIPS,CZ_NAME,BEGIN_DATE_TIME,MAGNITUDE,MAGNITUDE_TYPE,BEGIN_LAT,BEGIN_LON,END_LAT,END_LON
202107,162055,980001,FLORIDA,12,2021,Tornado,C,33,ESCAMBIA,07-JUL-21 10:00:00,,EF0,30.0,-84.0,30.5,-83.5
202107,162055,980002,FLORIDA,12,2021,Thunderstorm Wind,C,33,ESCAMBIA,07-JUL-21 11:00:00,50,EG,31.0,-84.0,31.0,-83.0
202107,162055,980003,FLORIDA,12,2021,Flash Flood,C,33,ESCAMBIA,07-JUL-21 12:00:00,,,,,,
202107,162056,980004,FLORIDA,12,2021,Hail,C,5,BAY,08-JUL-21 10:00:00,1.00,,30.2,-85.6,30.2,-85.6
202107,162100,980005,GEORGIA,13,2021,Tornado,C,1,APPLING,08-JUL-21 10:00:00,,EF1,31.7,-82.3,31.8,-82.2
202107,162055,980006,FLORIDA,12,2021,Rip Current,Z,1,COASTAL BAY,07-JUL-21 12:00:00,,,,,,
`

func episode(id int64) Filter {
	return Filter{State: "Florida", EventTypes: DefaultEventTypes, EpisodeID: id}
}

func ids(events []Event) []int64 {
	var out []int64
	for _, e := range events {
		out = append(out, e.EventID)
	}
	return out
}

func TestRead(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{name: "episode", filter: episode(162055), want: []int64{980001, 980002, 980003}},
		{name: "state", filter: Filter{State: DefaultState, EventTypes: DefaultEventTypes}, want: []int64{980001, 980002, 980003, 980004}},
		{name: "all", filter: Filter{}, want: []int64{980001, 980002, 980003, 980004, 980005, 980006}},
		{name: "none", filter: Filter{State: "TEXAS"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := Read(strings.NewReader(details), tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(events))
		})
	}
}

func TestReadFields(t *testing.T) {
	events, err := Read(strings.NewReader(details), episode(162055))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, Event{
		EventID:       980001,
		EpisodeID:     162055,
		EventType:     "Tornado",
		Year:          2021,
		BeginDateTime: "07-JUL-21 10:00:00",
		State:         "FLORIDA",
		CZName:        "ESCAMBIA",
		Begin:         &Point{Lon: -84, Lat: 30},
		End:           &Point{Lon: -83.5, Lat: 30.5},
	}, events[0])
	assert.Nil(t, events[2].Begin)
	assert.Nil(t, events[2].End)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(strings.NewReader("EVENT_ID,STATE\n1,FLORIDA\n"), Filter{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileCorrupted, errors.GetErrorCode(err))

	bad := strings.Replace(details, "30.0,-84.0", "north,-84.0", 1)
	_, err = Read(strings.NewReader(bad), Filter{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileCorrupted, errors.GetErrorCode(err))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 2, appErr.Context["line"])

	_, err = Read(strings.NewReader(""), Filter{})
	assert.Equal(t, errors.ErrCodeFileCorrupted, errors.GetErrorCode(err))
}

func TestConvexHull(t *testing.T) {
	square := []Point{{0, 0}, {1, 1}, {0, 1}, {0.5, 0.5}, {1, 0}, {1, 1}}
	assert.Equal(t, []Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}, ConvexHull(square))

	assert.Nil(t, ConvexHull(nil))
	assert.Nil(t, ConvexHull([]Point{{1, 1}, {1, 1}, {2, 2}}))
	assert.Nil(t, ConvexHull([]Point{{0, 0}, {1, 1}, {2, 2}, {3, 3}}))
}

func TestPointsAndCentroid(t *testing.T) {
	events, err := Read(strings.NewReader(details), episode(162055))
	require.NoError(t, err)

	points := Points(events)
	assert.Equal(t, []Point{{-84, 30}, {-84, 31}, {-83.5, 30.5}, {-83, 31}}, points)

	center, ok := Centroid(points)
	require.True(t, ok)
	assert.InDelta(t, -83.625, center.Lon, 1e-9)
	assert.InDelta(t, 30.625, center.Lat, 1e-9)

	_, ok = Centroid(nil)
	assert.False(t, ok)
}

func TestRegionGeoJSON(t *testing.T) {
	events, err := Read(strings.NewReader(details), episode(162055))
	require.NoError(t, err)

	region, err := NewRegion("episode 162055", events)
	require.NoError(t, err)
	assert.Equal(t, []Point{{-84, 30}, {-83, 31}, {-84, 31}}, region.Hull)

	data, err := region.GeoJSON()
	require.NoError(t, err)

	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 5)
	assert.Equal(t, "Point", fc.Features[0].Geometry.GeoJSONType())

	polygon := fc.Features[4]
	assert.Equal(t, "Polygon", polygon.Geometry.GeoJSONType())
	assert.Equal(t, "episode 162055", polygon.Properties.MustString("name"))
	ring := region.Ring()
	assert.Len(t, ring, 4)
	assert.Equal(t, ring[0], ring[len(ring)-1])
	assert.Equal(t, []float64{-84, 30, -83, 31}, []float64(fc.BBox))
}

func TestRegionWithoutHull(t *testing.T) {
	events, err := Read(strings.NewReader(details), episode(162056))
	require.NoError(t, err)

	region, err := NewRegion("hail", events)
	require.NoError(t, err)
	assert.Nil(t, region.Hull)
	assert.Nil(t, region.Ring())
	assert.Len(t, region.FeatureCollection().Features, 2)

	_, err = NewRegion("empty", nil)
	assert.Equal(t, errors.ErrCodeNoResults, errors.GetErrorCode(err))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	georgia := strings.Join(strings.Split(details, "\n")[:1], "\n") + "\n" +
		"202108,170001,990001,GEORGIA,13,2021,Hail,C,1,APPLING,01-AUG-21 10:00:00,1.00,,31.0,-82.0,31.0,-82.0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "StormEvents_details-ftp_v1.0_d2021_c20220101.csv"), []byte(details), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "StormEvents_details-ftp_v1.0_d2022_c20230101.csv"), []byte(georgia), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "StormEvents_locations-ftp_v1.0_d2021_c20220101.csv"), []byte("x"), 0644))

	files, err := DetailFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)

	events, err := Load(context.Background(), files, Filter{State: "georgia", EventTypes: DefaultEventTypes}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{980005, 990001}, ids(events))

	_, err = DetailFiles(t.TempDir())
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetErrorCode(err))
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "StormEvents_details-bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("EVENT_ID\n1\n"), 0644))

	_, err := Load(context.Background(), []string{path}, Filter{}, nil)
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.ErrCodeFileCorrupted, appErr.Code)
	assert.Equal(t, path, appErr.Context["file"])
}
