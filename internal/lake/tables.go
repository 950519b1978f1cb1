package lake

import (
	"sort"
	"time"

	"sparkify/internal/songdata"
)

// SongRow is a row of the songs table.
type SongRow struct {
	SongID   string
	Title    string
	ArtistID string
	Year     int
	Duration float64
}

// ArtistRow is a row of the artists table.
type ArtistRow struct {
	ArtistID  string
	Name      string
	Location  string
	Latitude  *float64
	Longitude *float64
}

// UserRow is a row of the users table.
type UserRow struct {
	UserID    int64
	FirstName string
	LastName  string
	Gender    string
	Level     string
}

// SongplayRow is a row of the songplays fact table. SongID and ArtistID are
// empty when the play matched no song.
type SongplayRow struct {
	SongplayID int64
	StartTime  time.Time
	UserID     int64
	Level      string
	SongID     string
	ArtistID   string
	SessionID  int64
	Location   string
	UserAgent  string
}

// Tables holds the star schema built in memory.
type Tables struct {
	Songs     []SongRow
	Artists   []ArtistRow
	Users     []UserRow
	Time      []songdata.Time
	Songplays []SongplayRow
}

// songKey matches a play to a song the way the warehouse join does.
type songKey struct {
	artist   string
	title    string
	duration float64
}

// BuildTables derives every table from the decoded input. Rows come out
// sorted by their key so repeated runs write identical files.
func BuildTables(songs []songdata.Song, events []songdata.LogEvent) *Tables {
	return &Tables{
		Songs:     buildSongs(songs),
		Artists:   buildArtists(songs, events),
		Users:     buildUsers(events),
		Time:      buildTime(events),
		Songplays: buildSongplays(songs, events),
	}
}

// buildSongs keeps one row per song id, taking the maximum of each column.
func buildSongs(songs []songdata.Song) []SongRow {
	byID := map[string]*SongRow{}
	for _, s := range songs {
		row, ok := byID[s.SongID]
		if !ok {
			byID[s.SongID] = &SongRow{SongID: s.SongID, Title: s.Title, ArtistID: s.ArtistID, Year: s.Year, Duration: s.Duration}
			continue
		}
		row.Title = maxString(row.Title, s.Title)
		row.ArtistID = maxString(row.ArtistID, s.ArtistID)
		if s.Year > row.Year {
			row.Year = s.Year
		}
		if s.Duration > row.Duration {
			row.Duration = s.Duration
		}
	}

	rows := make([]SongRow, 0, len(byID))
	for _, row := range byID {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SongID < rows[j].SongID })
	return rows
}

func maxString(a, b string) string {
	if b > a {
		return b
	}
	return a
}

// buildArtists keeps, per artist, the song with the latest year and then
// the latest play of that song. Songs never played rank below played ones.
func buildArtists(songs []songdata.Song, events []songdata.LogEvent) []ArtistRow {
	lastPlay := map[songKey]int64{}
	for _, e := range events {
		if e.Artist == nil || e.Song == nil || e.Length == nil {
			continue
		}
		key := songKey{artist: *e.Artist, title: *e.Song, duration: *e.Length}
		if ts, ok := lastPlay[key]; !ok || e.TS > ts {
			lastPlay[key] = e.TS
		}
	}

	type candidate struct {
		song   songdata.Song
		played int64
	}
	best := map[string]candidate{}
	for _, s := range songs {
		c := candidate{song: s, played: -1}
		if ts, ok := lastPlay[songKey{artist: s.ArtistName, title: s.Title, duration: s.Duration}]; ok {
			c.played = ts
		}

		cur, ok := best[s.ArtistID]
		switch {
		case !ok,
			c.song.Year > cur.song.Year,
			c.song.Year == cur.song.Year && c.played > cur.played,
			c.song.Year == cur.song.Year && c.played == cur.played && c.song.SongID < cur.song.SongID:
			best[s.ArtistID] = c
		}
	}

	rows := make([]ArtistRow, 0, len(best))
	for id, c := range best {
		rows = append(rows, ArtistRow{
			ArtistID:  id,
			Name:      c.song.ArtistName,
			Location:  c.song.ArtistLocation,
			Latitude:  c.song.ArtistLatitude,
			Longitude: c.song.ArtistLongitude,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ArtistID < rows[j].ArtistID })
	return rows
}

// buildUsers keeps the latest event per user id across every page, so a
// free to paid change keeps the newest level.
func buildUsers(events []songdata.LogEvent) []UserRow {
	latest := map[int64]songdata.LogEvent{}
	for _, e := range events {
		if !e.UserID.Valid {
			continue
		}
		if cur, ok := latest[e.UserID.Value]; !ok || e.TS > cur.TS {
			latest[e.UserID.Value] = e
		}
	}

	rows := make([]UserRow, 0, len(latest))
	for id, e := range latest {
		rows = append(rows, UserRow{
			UserID:    id,
			FirstName: songdata.Str(e.FirstName),
			LastName:  songdata.Str(e.LastName),
			Gender:    songdata.Str(e.Gender),
			Level:     e.Level,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].UserID < rows[j].UserID })
	return rows
}

// buildTime has one row per distinct song play timestamp. Weekday counts
// from Sunday = 0, matching EXTRACT(WEEKDAY) in the warehouse time table.
func buildTime(events []songdata.LogEvent) []songdata.Time {
	seen := map[int64]bool{}
	var rows []songdata.Time
	for _, e := range events {
		if !e.IsSongPlay() || seen[e.TS] {
			continue
		}
		seen[e.TS] = true
		row := songdata.TimeOf(e.StartTime())
		row.Weekday = int(row.StartTime.Weekday())
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StartTime.Before(rows[j].StartTime) })
	return rows
}

// buildSongplays joins song plays to songs on artist name, title and
// duration. When several songs match, the lowest song id is used. Ids are
// assigned from 0 in start time order.
func buildSongplays(songs []songdata.Song, events []songdata.LogEvent) []SongplayRow {
	match := map[songKey]songdata.Song{}
	for _, s := range songs {
		key := songKey{artist: s.ArtistName, title: s.Title, duration: s.Duration}
		if cur, ok := match[key]; !ok || s.SongID < cur.SongID {
			match[key] = s
		}
	}

	var plays []songdata.LogEvent
	for _, e := range events {
		if e.IsSongPlay() && e.UserID.Valid {
			plays = append(plays, e)
		}
	}
	sort.SliceStable(plays, func(i, j int) bool { return plays[i].TS < plays[j].TS })

	rows := make([]SongplayRow, 0, len(plays))
	for i, e := range plays {
		row := SongplayRow{
			SongplayID: int64(i),
			StartTime:  e.StartTime(),
			UserID:     e.UserID.Value,
			Level:      e.Level,
			SessionID:  e.SessionID,
			Location:   songdata.Str(e.Location),
			UserAgent:  songdata.Str(e.UserAgent),
		}
		if e.Artist != nil && e.Song != nil && e.Length != nil {
			if s, ok := match[songKey{artist: *e.Artist, title: *e.Song, duration: *e.Length}]; ok {
				row.SongID = s.SongID
				row.ArtistID = s.ArtistID
			}
		}
		rows = append(rows, row)
	}
	return rows
}
