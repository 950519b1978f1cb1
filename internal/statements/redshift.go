// Package statements holds the SQL text run against the warehouse backends.
// Deduplication stays in SQL so the database engine resolves ties.
package statements

import (
	"fmt"
	"strings"
)

// Statement is one SQL statement tied to the table it affects.
type Statement struct {
	Table string
	SQL   string
}

// Copy is a COPY from an S3 prefix into a staging table.
type Copy struct {
	Table  string
	Source string
	SQL    string
}

// CopySettings holds the values substituted into the COPY statements.
type CopySettings struct {
	IAMRoleARN  string
	LogData     string
	LogJSONPath string
	SongData    string
}

// Staging and star schema table names.
const (
	TableStagingEvents = "staging_events"
	TableStagingSongs  = "staging_songs"
	TableSongplay      = "songplay"
	TableUsers         = "users"
	TableSongs         = "songs"
	TableArtists       = "artists"
	TableTime          = "time"
)

// PrimaryKeyRemark marks primary key columns so quality checks can find
// them in SVV_COLUMNS.
const PrimaryKeyRemark = "PRIMARY KEY"

// StagingPrefix identifies staging tables by name.
const StagingPrefix = "staging"

var redshiftDropOrder = []string{
	TableStagingEvents,
	TableStagingSongs,
	TableSongplay,
	TableUsers,
	TableSongs,
	TableArtists,
	TableTime,
}

// RedshiftDrop returns DROP TABLE IF EXISTS for every warehouse table, the
// fact table ahead of the dimensions it references.
func RedshiftDrop() []Statement {
	drops := make([]Statement, 0, len(redshiftDropOrder))
	for _, table := range redshiftDropOrder {
		drops = append(drops, Statement{Table: table, SQL: "DROP TABLE IF EXISTS " + table})
	}
	return drops
}

type tableDDL struct {
	table      string
	primaryKey string
	columns    string
}

// Referenced tables precede songplay.
var redshiftTables = []tableDDL{
	{
		table: TableStagingEvents,
		columns: `
			artist VARCHAR(256),
			auth VARCHAR(256),
			firstName VARCHAR(256),
			gender VARCHAR(1),
			itemInSession SMALLINT,
			lastName VARCHAR(256),
			length DOUBLE PRECISION,
			level VARCHAR(4),
			location VARCHAR(256),
			method VARCHAR(3),
			page VARCHAR(256),
			registration BIGINT,
			sessionId BIGINT,
			song VARCHAR(256),
			status SMALLINT,
			ts BIGINT,
			userAgent VARCHAR(256),
			userId BIGINT`,
	},
	{
		table: TableStagingSongs,
		columns: `
			song_id VARCHAR(18),
			artist_id VARCHAR(18),
			title VARCHAR(256),
			year SMALLINT,
			duration DOUBLE PRECISION,
			artist_name VARCHAR(256),
			artist_location VARCHAR(256),
			artist_latitude DOUBLE PRECISION,
			artist_longitude DOUBLE PRECISION`,
	},
	{
		table:      TableUsers,
		primaryKey: "user_id",
		columns: `
			user_id BIGINT NOT NULL,
			first_name VARCHAR(256) NOT NULL,
			last_name VARCHAR(256) NOT NULL,
			gender VARCHAR(1) NOT NULL,
			level VARCHAR(4) NOT NULL,
			PRIMARY KEY (user_id)`,
	},
	{
		table:      TableSongs,
		primaryKey: "song_id",
		columns: `
			song_id VARCHAR(18) NOT NULL,
			title VARCHAR(256) NOT NULL,
			artist_id VARCHAR(18) NOT NULL,
			year SMALLINT,
			duration DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (song_id)`,
	},
	{
		table:      TableArtists,
		primaryKey: "artist_id",
		columns: `
			artist_id VARCHAR(18) NOT NULL,
			artist_name VARCHAR(256) NOT NULL,
			artist_location VARCHAR(256),
			artist_latitude DOUBLE PRECISION,
			artist_longitude DOUBLE PRECISION,
			PRIMARY KEY (artist_id)`,
	},
	{
		table:      TableTime,
		primaryKey: "start_time",
		columns: `
			start_time TIMESTAMP NOT NULL SORTKEY,
			hour SMALLINT NOT NULL,
			day SMALLINT NOT NULL,
			week SMALLINT NOT NULL,
			month SMALLINT NOT NULL,
			year SMALLINT NOT NULL,
			weekday SMALLINT NOT NULL,
			PRIMARY KEY (start_time)`,
	},
	{
		table:      TableSongplay,
		primaryKey: "songplay_id",
		columns: `
			songplay_id BIGINT IDENTITY(0,1),
			song_id VARCHAR(18),
			artist_id VARCHAR(18),
			start_time TIMESTAMP NOT NULL SORTKEY,
			user_id BIGINT NOT NULL,
			session_id BIGINT NOT NULL,
			level VARCHAR(4) NOT NULL,
			location VARCHAR(256),
			user_agent VARCHAR(256) NOT NULL,
			PRIMARY KEY (songplay_id),
			FOREIGN KEY (user_id) REFERENCES users(user_id),
			FOREIGN KEY (song_id) REFERENCES songs(song_id),
			FOREIGN KEY (artist_id) REFERENCES artists(artist_id),
			FOREIGN KEY (start_time) REFERENCES time(start_time)`,
	},
}

// RedshiftCreate returns CREATE TABLE statements in dependency order. Each
// star schema table is followed by a COMMENT marking its primary key,
// because Redshift does not enforce or expose key constraints to queries.
func RedshiftCreate() []Statement {
	var creates []Statement
	for _, ddl := range redshiftTables {
		creates = append(creates, Statement{
			Table: ddl.table,
			SQL:   fmt.Sprintf("CREATE TABLE %s (%s\n)", ddl.table, ddl.columns),
		})
		if ddl.primaryKey != "" {
			creates = append(creates, Statement{
				Table: ddl.table,
				SQL:   fmt.Sprintf("COMMENT ON COLUMN %s.%s IS '%s'", ddl.table, ddl.primaryKey, PrimaryKeyRemark),
			})
		}
	}
	return creates
}

// RedshiftCopy returns the staging COPY statements, events first.
func RedshiftCopy(s CopySettings) []Copy {
	events := strings.Join([]string{
		fmt.Sprintf("COPY %s FROM %s", TableStagingEvents, quote(s.LogData)),
		fmt.Sprintf("CREDENTIALS %s", quote("aws_iam_role="+s.IAMRoleARN)),
		"COMPUPDATE OFF",
		fmt.Sprintf("FORMAT AS JSON %s", quote(s.LogJSONPath)),
		"MAXERROR 10",
	}, "\n")

	songs := strings.Join([]string{
		fmt.Sprintf("COPY %s FROM %s", TableStagingSongs, quote(s.SongData)),
		fmt.Sprintf("CREDENTIALS %s", quote("aws_iam_role="+s.IAMRoleARN)),
		"COMPUPDATE OFF",
		"FORMAT JSON 'auto'",
		"MAXERROR 10",
	}, "\n")

	return []Copy{
		{Table: TableStagingEvents, Source: s.LogData, SQL: events},
		{Table: TableStagingSongs, Source: s.SongData, SQL: songs},
	}
}

// quote renders a SQL string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

const songplayInsert = `
INSERT INTO songplay (
	start_time,
	user_id,
	level,
	song_id,
	artist_id,
	session_id,
	location,
	user_agent
)
SELECT
	(TIMESTAMP 'epoch' + logs.ts/1000 * INTERVAL '1 Second ') AS start_time,
	logs.userId AS user_id,
	logs.level,
	songs.song_id,
	songs.artist_id,
	logs.sessionId AS session_id,
	logs.location,
	logs.userAgent AS user_agent
FROM staging_events AS logs
LEFT JOIN staging_songs AS songs
	ON songs.artist_name = logs.artist
	AND songs.title = logs.song
	AND songs.duration = logs.length
WHERE logs.page = 'NextSong'`

// latest row per user, so a free to paid change keeps the newest level
const usersInsert = `
INSERT INTO users
SELECT
	user_id,
	first_name,
	last_name,
	gender,
	level
FROM (
	SELECT
		userId AS user_id,
		firstName AS first_name,
		lastName AS last_name,
		gender,
		level,
		RANK() OVER (
			PARTITION BY user_id
			ORDER BY ts DESC NULLS LAST
		) AS _latest
	FROM staging_events
	WHERE user_id IS NOT NULL
) WHERE _latest = 1`

const songsInsert = `
INSERT INTO songs
SELECT
	song_id,
	title,
	artist_id,
	year,
	duration
FROM (
	SELECT
		song_id,
		MAX(title) AS title,
		MAX(artist_id) AS artist_id,
		MAX(year) AS year,
		MAX(duration) AS duration
	FROM staging_songs
	GROUP BY song_id
)`

// latest year wins, then latest play; remaining ties are broken arbitrarily
const artistsInsert = `
INSERT INTO artists
SELECT
	artist_id,
	artist_name,
	artist_location,
	artist_latitude,
	artist_longitude
FROM (
	SELECT
		staging_songs.artist_id,
		staging_songs.artist_name,
		staging_songs.artist_location,
		staging_songs.artist_latitude,
		staging_songs.artist_longitude,
		ROW_NUMBER() OVER (
			PARTITION BY staging_songs.artist_id
			ORDER BY staging_songs.year DESC, staging_events.ts DESC
		) AS _latest
	FROM staging_songs
	LEFT JOIN staging_events
		ON staging_songs.artist_name = staging_events.artist
		AND staging_songs.title = staging_events.song
		AND staging_songs.duration = staging_events.length
)
WHERE _latest = 1`

const timeInsert = `
INSERT INTO time (
	start_time,
	hour,
	day,
	week,
	month,
	year,
	weekday
)
SELECT
	_timestamp,
	EXTRACT(HOUR FROM _timestamp),
	EXTRACT(DAY FROM _timestamp),
	EXTRACT(WEEK FROM _timestamp),
	EXTRACT(MONTH FROM _timestamp),
	EXTRACT(YEAR FROM _timestamp),
	EXTRACT(WEEKDAY FROM _timestamp)
FROM (
	SELECT DISTINCT
		(TIMESTAMP 'epoch' + ts/1000 * INTERVAL '1 Second ') AS _timestamp
	FROM staging_events
	WHERE page = 'NextSong'
)`

// RedshiftInsert returns the staging to star schema inserts.
func RedshiftInsert() []Statement {
	return []Statement{
		{Table: TableSongplay, SQL: songplayInsert},
		{Table: TableUsers, SQL: usersInsert},
		{Table: TableSongs, SQL: songsInsert},
		{Table: TableArtists, SQL: artistsInsert},
		{Table: TableTime, SQL: timeInsert},
	}
}

// LoadErrorsPattern turns a COPY source into the LIKE pattern matched
// against stl_load_errors.filename, so nested prefixes are included.
func LoadErrorsPattern(source string) string {
	return source + "%"
}

// LoadErrorsStartTime finds the newest recorded load error for a source.
const LoadErrorsStartTime = `SELECT MAX(starttime) FROM stl_load_errors WHERE filename LIKE $1`

// LoadErrorsSince lists load errors for a source recorded after a time.
const LoadErrorsSince = `
SELECT filename, colname, err_reason
FROM stl_load_errors
WHERE filename LIKE $1
AND starttime > $2`

// LoadErrorsAll lists every load error for a source.
const LoadErrorsAll = `
SELECT filename, colname, err_reason
FROM stl_load_errors
WHERE filename LIKE $1`
