package dashboard

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"sparkify/internal/database"
	"sparkify/internal/logging"
	"sparkify/pkg/errors"
)

// Report is the complete dashboard.
type Report struct {
	Engagement Engagement      `json:"engagement" yaml:"engagement"`
	UserLevels []Share         `json:"user_levels" yaml:"user_levels"`
	PlayLevels []Share         `json:"play_levels" yaml:"play_levels"`
	Comparison []CategoryStats `json:"level_comparison" yaml:"level_comparison"`
	Hourly     []HourCount     `json:"plays_by_hour" yaml:"plays_by_hour"`
	Daily      []DayCount      `json:"plays_by_day" yaml:"plays_by_day"`
	States     []StateCount    `json:"plays_by_state" yaml:"plays_by_state"`
	TopUsers   []TopUser       `json:"top_users" yaml:"top_users"`
	UserAgents []AgentCount    `json:"user_agents" yaml:"user_agents"`
	LevelRuns  []LevelRun      `json:"level_runs,omitempty" yaml:"level_runs,omitempty"`
}

// Build computes every section from the plays and the users table level
// counts.
func Build(plays []Play, userLevels map[string]int) *Report {
	runs := LevelRuns(plays)
	return &Report{
		Engagement: EngagementOf(runs),
		UserLevels: Shares(userLevels),
		PlayLevels: PlayLevels(plays),
		Comparison: CompareCategories(runs),
		Hourly:     PlaysByHour(plays),
		Daily:      PlaysByDay(plays),
		States:     PlaysByState(plays),
		TopUsers:   TopQuartile(plays),
		UserAgents: UserAgents(plays),
		LevelRuns:  runs,
	}
}

// Source reads plays and user levels from a star schema.
type Source struct {
	db    *database.Service
	table string
	log   logrus.FieldLogger
}

// NewSource reads from the fact table named table, "songplays" locally and
// "songplay" in the warehouse.
func NewSource(db *database.Service, table string, log logrus.FieldLogger) *Source {
	return &Source{db: db, table: table, log: logging.OrDiscard(log)}
}

// PlaysQuery selects the columns every section needs.
func PlaysQuery(table string) string {
	return fmt.Sprintf(`
SELECT
	user_id,
	level,
	session_id,
	start_time,
	COALESCE(location, '') AS location,
	COALESCE(user_agent, '') AS user_agent
FROM %s
ORDER BY user_id, start_time`, table)
}

// UserLevelsQuery counts users per subscription level.
const UserLevelsQuery = `
SELECT
	level,
	COUNT(*) AS user_count
FROM users
GROUP BY level`

// Plays reads every song play.
func (s *Source) Plays(ctx context.Context) ([]Play, error) {
	var plays []Play
	err := s.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var p Play
			if err := rows.Scan(&p.UserID, &p.Level, &p.SessionID, &p.StartTime, &p.Location, &p.UserAgent); err != nil {
				return errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to read song play row")
			}
			plays = append(plays, p)
		}
		return nil
	}, PlaysQuery(s.table))
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"table": s.table, "plays": len(plays)}).Info("Song plays read")
	return plays, nil
}

// UserLevels counts users per level.
func (s *Source) UserLevels(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	err := s.db.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			var level string
			var n int
			if err := rows.Scan(&level, &n); err != nil {
				return errors.Wrap(err, errors.ErrCodeResultParsing, "Failed to read user level row")
			}
			counts[level] = n
		}
		return nil
	}, UserLevelsQuery)
	return counts, err
}

// Report reads the data and builds the dashboard.
func (s *Source) Report(ctx context.Context) (*Report, error) {
	plays, err := s.Plays(ctx)
	if err != nil {
		return nil, err
	}
	if len(plays) == 0 {
		return nil, errors.New(errors.ErrCodeNoResults, fmt.Sprintf("No song plays in %s", s.table)).
			WithSuggestions("Load data with 'sparkify etl' or 'sparkify local load' first")
	}
	levels, err := s.UserLevels(ctx)
	if err != nil {
		return nil, err
	}
	return Build(plays, levels), nil
}

// Section is one titled table of the rendered dashboard.
type Section struct {
	Title  string
	Header []string
	Rows   [][]string
}

func pct(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) + "%" }

func itoa(n int) string { return strconv.Itoa(n) }

// Sections lays the report out as tables.
func (r *Report) Sections() []Section {
	sections := []Section{{
		Title:  "User Engagement",
		Header: []string{"Stat", "Value"},
		Rows: [][]string{
			{"Users", itoa(r.Engagement.Users)},
			{"Return Rate", pct(r.Engagement.ReturnRate)},
			{"Bounce Rate", pct(r.Engagement.BounceRate)},
			{"Upgrade Rate", pct(r.Engagement.UpgradeRate)},
		},
	}}

	shares := func(title, what string, s []Share) Section {
		sec := Section{Title: title, Header: []string{"Level", what, "Percent"}}
		for _, sh := range s {
			sec.Rows = append(sec.Rows, []string{sh.Level, itoa(sh.Count), pct(sh.Percent)})
		}
		return sec
	}
	sections = append(sections,
		shares("User Subscription Level", "Users", r.UserLevels),
		shares("Play Subscription Level", "Plays", r.PlayLevels))

	comparison := Section{Title: "User Level Comparison", Header: []string{"Category", "Runs", "Median Plays", "Median Sessions"}}
	for _, c := range r.Comparison {
		comparison.Rows = append(comparison.Rows, []string{
			c.Category, itoa(c.Runs),
			strconv.FormatFloat(c.MedianPlays, 'f', 1, 64),
			strconv.FormatFloat(c.MedianSessions, 'f', 1, 64),
		})
	}
	sections = append(sections, comparison)

	hourly := Section{Title: "Song Play Hourly Distribution", Header: []string{"Hour", "Plays"}}
	for _, h := range r.Hourly {
		hourly.Rows = append(hourly.Rows, []string{itoa(h.Hour), itoa(h.Plays)})
	}
	sections = append(sections, hourly)

	daily := Section{Title: "Song Play Date Trend", Header: []string{"Date", "Weekend", "Plays"}}
	for _, d := range r.Daily {
		weekend := ""
		if d.Weekend {
			weekend = "yes"
		}
		daily.Rows = append(daily.Rows, []string{d.Date, weekend, itoa(d.Plays)})
	}
	sections = append(sections, daily)

	top := Section{Title: "Top 25% of Users", Header: []string{"User ID", "Level", "Plays"}}
	for _, u := range r.TopUsers {
		top.Rows = append(top.Rows, []string{strconv.FormatInt(u.UserID, 10), u.Level, itoa(u.Plays)})
	}
	sections = append(sections, top)

	agents := Section{Title: "User Agent", Header: []string{"Operating System", "Browser", "Plays"}}
	for _, a := range r.UserAgents {
		agents.Rows = append(agents.Rows, []string{a.OS, a.Browser, itoa(a.Plays)})
	}
	sections = append(sections, agents)

	states := Section{Title: "Song Plays by State", Header: []string{"State", "Plays"}}
	for _, s := range r.States {
		name := s.State
		if name == "" {
			name = "unknown"
		}
		states.Rows = append(states.Rows, []string{name, itoa(s.Plays)})
	}
	return append(sections, states)
}
