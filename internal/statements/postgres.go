package statements

// Local PostgreSQL star schema. Rows are inserted one at a time while the
// song and log files are walked.

// TableSongplays is the local fact table.
const TableSongplays = "songplays"

// PostgresDrop drops the local tables, the fact table first.
func PostgresDrop() []Statement {
	tables := []string{TableSongplays, TableUsers, TableSongs, TableArtists, TableTime}
	drops := make([]Statement, 0, len(tables))
	for _, table := range tables {
		drops = append(drops, Statement{Table: table, SQL: "DROP TABLE IF EXISTS " + table})
	}
	return drops
}

// PostgresCreate creates the local tables with dimensions ahead of the fact table.
func PostgresCreate() []Statement {
	return []Statement{
		{Table: TableUsers, SQL: `
CREATE TABLE users(
	user_id SMALLINT PRIMARY KEY,
	first_name VARCHAR NOT NULL,
	last_name VARCHAR NOT NULL,
	gender VARCHAR NOT NULL,
	level VARCHAR NOT NULL
)`},
		{Table: TableSongs, SQL: `
CREATE TABLE songs(
	song_id VARCHAR PRIMARY KEY,
	title VARCHAR NOT NULL,
	artist_id VARCHAR NOT NULL,
	year SMALLINT NOT NULL,
	duration DOUBLE PRECISION NOT NULL
)`},
		{Table: TableArtists, SQL: `
CREATE TABLE artists(
	artist_id VARCHAR PRIMARY KEY,
	name VARCHAR NOT NULL,
	location VARCHAR NOT NULL,
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION
)`},
		{Table: TableTime, SQL: `
CREATE TABLE time(
	start_time TIMESTAMP PRIMARY KEY,
	hour SMALLINT NOT NULL,
	day SMALLINT NOT NULL,
	week SMALLINT NOT NULL,
	month SMALLINT NOT NULL,
	year SMALLINT NOT NULL,
	weekday SMALLINT NOT NULL
)`},
		{Table: TableSongplays, SQL: `
CREATE TABLE songplays(
	songplay_id SERIAL PRIMARY KEY,
	start_time TIMESTAMP NOT NULL,
	user_id SMALLINT NOT NULL,
	level VARCHAR NOT NULL,
	song_id VARCHAR,
	artist_id VARCHAR,
	session_id SMALLINT NOT NULL,
	location VARCHAR NOT NULL,
	user_agent VARCHAR NOT NULL,
	CONSTRAINT user_id FOREIGN KEY (user_id) REFERENCES users(user_id),
	CONSTRAINT song_id FOREIGN KEY (song_id) REFERENCES songs(song_id),
	CONSTRAINT artist_id FOREIGN KEY (artist_id) REFERENCES artists(artist_id),
	CONSTRAINT start_time FOREIGN KEY (start_time) REFERENCES time(start_time)
)`},
	}
}

// Row inserts for the local schema.
const (
	SongplayInsert = `
INSERT INTO songplays
(start_time, user_id, level, song_id, artist_id, session_id, location, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	// a user moving between free and paid keeps the newest level
	UserInsert = `
INSERT INTO users
(user_id, first_name, last_name, gender, level)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE SET level = EXCLUDED.level`

	SongInsert = `
INSERT INTO songs
(song_id, title, artist_id, year, duration)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (song_id) DO NOTHING`

	ArtistInsert = `
INSERT INTO artists
(artist_id, name, location, latitude, longitude)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (artist_id) DO NOTHING`

	TimeInsert = `
INSERT INTO time
(start_time, hour, day, week, month, year, weekday)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (start_time) DO NOTHING`

	// log events carry song and artist names only
	SongSelect = `
SELECT songs.song_id, artists.artist_id
FROM songs
JOIN artists ON songs.artist_id = artists.artist_id
WHERE songs.title = $1 AND artists.name = $2 AND songs.duration = $3`
)
