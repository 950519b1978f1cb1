package dashboard

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkify/internal/testutil"
	"sparkify/pkg/errors"
)

var base = time.Date(2018, 11, 2, 10, 0, 0, 0, time.UTC) // a Friday

func at(days, hours int) time.Time {
	return base.Add(time.Duration(days)*24*time.Hour + time.Duration(hours)*time.Hour)
}

const (
	chromeMac  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_9_4) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/36.0.1985.143 Safari/537.36"
	firefoxWin = "Mozilla/5.0 (Windows NT 6.1; WOW64; rv:31.0) Gecko/20100101 Firefox/31.0"
	iphone     = "Mozilla/5.0 (iPhone; CPU iPhone OS 7_1_2 like Mac OS X) AppleWebKit/537.51.2 (KHTML, like Gecko) Version/7.0 Mobile/11D257 Safari/9537.53"
)

// user 1 upgrades, user 2 bounces, user 3 downgrades, user 4 stays paid
func fixturePlays() []Play {
	return []Play{
		{UserID: 1, Level: "free", SessionID: 10, StartTime: at(0, 0), Location: "Chicago-Naperville-Elgin, IL-IN-WI", UserAgent: chromeMac},
		{UserID: 1, Level: "free", SessionID: 11, StartTime: at(1, 0), Location: "Chicago-Naperville-Elgin, IL-IN-WI", UserAgent: chromeMac},
		{UserID: 1, Level: "paid", SessionID: 12, StartTime: at(2, 1), Location: "Chicago-Naperville-Elgin, IL-IN-WI", UserAgent: chromeMac},
		{UserID: 1, Level: "paid", SessionID: 12, StartTime: at(2, 2), Location: "Chicago-Naperville-Elgin, IL-IN-WI", UserAgent: chromeMac},
		{UserID: 2, Level: "free", SessionID: 20, StartTime: at(0, 3), Location: "Tampa-St. Petersburg-Clearwater, FL", UserAgent: firefoxWin},
		{UserID: 3, Level: "paid", SessionID: 30, StartTime: at(0, 1), Location: "Lansing-East Lansing, MI", UserAgent: iphone},
		{UserID: 3, Level: "free", SessionID: 31, StartTime: at(3, 1), Location: "Lansing-East Lansing, MI", UserAgent: iphone},
		{UserID: 4, Level: "paid", SessionID: 40, StartTime: at(0, 5), Location: "", UserAgent: ""},
		{UserID: 4, Level: "paid", SessionID: 40, StartTime: at(0, 6), Location: "", UserAgent: ""},
	}
}

func TestLevelRuns(t *testing.T) {
	// reversed input still yields runs in user and time order
	plays := fixturePlays()
	for i, j := 0, len(plays)-1; i < j; i, j = i+1, j-1 {
		plays[i], plays[j] = plays[j], plays[i]
	}

	runs := LevelRuns(plays)
	require.Len(t, runs, 6)

	assert.Equal(t, LevelRun{UserID: 1, Index: 0, Current: "free", Next: "paid", Sessions: 2, Plays: 2, Days: 2, Category: CategoryFreeThenPaid}, runs[0])
	assert.Equal(t, LevelRun{UserID: 1, Index: 1, Current: "paid", Previous: "free", Sessions: 1, Plays: 2, Days: 1, Category: CategoryPaidOnly}, runs[1])
	assert.Equal(t, CategoryFreeOnly, runs[2].Category)
	assert.Equal(t, CategoryPaidThenFree, runs[3].Category)
	assert.Equal(t, 1, runs[4].Index)
	assert.Equal(t, LevelRun{UserID: 4, Current: "paid", Sessions: 1, Plays: 2, Days: 1, Category: CategoryPaidOnly}, runs[5])
}

func TestEngagement(t *testing.T) {
	e := EngagementOf(LevelRuns(fixturePlays()))
	assert.Equal(t, 4, e.Users)
	assert.InDelta(t, 50.0, e.ReturnRate, 1e-9)
	assert.InDelta(t, 25.0, e.BounceRate, 1e-9)
	assert.InDelta(t, 25.0, e.UpgradeRate, 1e-9)

	assert.Equal(t, Engagement{}, EngagementOf(nil))
}

func TestShares(t *testing.T) {
	shares := PlayLevels(fixturePlays())
	require.Len(t, shares, 2)
	assert.Equal(t, "free", shares[0].Level)
	assert.Equal(t, 4, shares[0].Count)
	assert.InDelta(t, 44.44, shares[0].Percent, 0.01)
	assert.Equal(t, 5, shares[1].Count)

	assert.Empty(t, Shares(nil))
}

func TestCompareCategories(t *testing.T) {
	stats := CompareCategories(LevelRuns(fixturePlays()))
	require.Len(t, stats, 4)
	assert.Equal(t, CategoryStats{Category: CategoryFreeOnly, Runs: 2, MedianPlays: 1, MedianSessions: 1}, stats[0])
	assert.Equal(t, CategoryStats{Category: CategoryPaidOnly, Runs: 2, MedianPlays: 2, MedianSessions: 1}, stats[2])
}

func TestPlaysByHourAndDay(t *testing.T) {
	hours := PlaysByHour(fixturePlays())
	require.Len(t, hours, 24)
	assert.Equal(t, 2, hours[10].Plays)
	assert.Equal(t, 3, hours[11].Plays)

	days := PlaysByDay(fixturePlays())
	require.Len(t, days, 4)
	assert.Equal(t, DayCount{Date: "2018-11-02", Weekday: 4, Plays: 5}, days[0])
	assert.Equal(t, DayCount{Date: "2018-11-03", Weekday: 5, Weekend: true, Plays: 1}, days[1])
	assert.True(t, days[2].Weekend)
	assert.False(t, days[3].Weekend)
}

func TestStateOf(t *testing.T) {
	tests := map[string]string{
		"Minneapolis-St. Paul-Bloomington, MN-WI": "MN",
		"Lansing-East Lansing, MI":                "MI",
		"San Francisco":                           "",
		"":                                        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, StateOf(in), in)
	}

	states := PlaysByState(fixturePlays())
	assert.Equal(t, StateCount{State: "IL", Plays: 4}, states[0])
	assert.Equal(t, StateCount{State: "", Plays: 2}, states[1])
}

func TestTopQuartile(t *testing.T) {
	top := TopQuartile(fixturePlays())
	require.Len(t, top, 1)
	assert.Equal(t, TopUser{UserID: 1, Level: "paid", Plays: 4}, top[0])

	assert.Nil(t, TopQuartile(fixturePlays()[:1]))
}

func TestClassifyAgent(t *testing.T) {
	tests := []struct {
		agent, os, browser string
	}{
		{chromeMac, "Mac", "Chrome"},
		{firefoxWin, "Windows", "Firefox"},
		{iphone, "iPhone", "Mobile"},
		{"Mozilla/5.0 (Windows NT 6.1; Trident/7.0; rv:11.0) like Gecko", "Windows", "IE"},
		{"", otherAgent, otherAgent},
	}
	for _, tt := range tests {
		os, browser := ClassifyAgent(tt.agent)
		assert.Equal(t, tt.os, os)
		assert.Equal(t, tt.browser, browser)
	}

	agents := UserAgents(fixturePlays())
	require.Len(t, agents, 4)
	assert.Equal(t, AgentCount{OS: "Mac", Browser: "Chrome", Plays: 4}, agents[0])
}

func TestSections(t *testing.T) {
	report := Build(fixturePlays(), map[string]int{"free": 3, "paid": 1})
	sections := report.Sections()
	require.Len(t, sections, 9)

	assert.Equal(t, "User Engagement", sections[0].Title)
	assert.Equal(t, []string{"Return Rate", "50.0%"}, sections[0].Rows[1])
	assert.Equal(t, []string{"free", "3", "75.0%"}, sections[1].Rows[0])
	assert.Equal(t, []string{"unknown", "2"}, sections[8].Rows[1])
}

func newSource(t *testing.T) (*Source, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := testutil.MockDB(t)
	return NewSource(db, "songplays", nil), mock
}

func TestSourceReport(t *testing.T) {
	source, mock := newSource(t)

	rows := sqlmock.NewRows([]string{"user_id", "level", "session_id", "start_time", "location", "user_agent"})
	for _, p := range fixturePlays() {
		rows.AddRow(p.UserID, p.Level, p.SessionID, p.StartTime, p.Location, p.UserAgent)
	}
	mock.ExpectQuery(regexp.QuoteMeta(PlaysQuery("songplays"))).WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta(UserLevelsQuery)).WillReturnRows(
		sqlmock.NewRows([]string{"level", "user_count"}).AddRow("free", 3).AddRow("paid", 1))

	report, err := source.Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Engagement.Users)
	assert.Len(t, report.UserLevels, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceReportEmpty(t *testing.T) {
	source, mock := newSource(t)
	mock.ExpectQuery("FROM songplays").WillReturnRows(
		sqlmock.NewRows([]string{"user_id", "level", "session_id", "start_time", "location", "user_agent"}))

	_, err := source.Report(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoResults, errors.GetErrorCode(err))
}
