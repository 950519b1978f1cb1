// Package dashboard computes the user engagement report from song plays.
package dashboard

import (
	"sort"
	"strings"
	"time"
)

// Subscription levels.
const (
	LevelFree = "free"
	LevelPaid = "paid"
)

// Level run categories.
const (
	CategoryFreeThenPaid = "Free then Paid"
	CategoryPaidThenFree = "Paid then Free"
	CategoryFreeOnly     = "Free Only"
	CategoryPaidOnly     = "Paid Only"
)

// Play is one song play as read from the fact table.
type Play struct {
	UserID    int64
	Level     string
	SessionID int64
	StartTime time.Time
	Location  string
	UserAgent string
}

// LevelRun is a stretch of consecutive plays by one user at one level.
type LevelRun struct {
	UserID int64 `json:"user_id" yaml:"user_id"`
	// Index counts a user's runs from 0.
	Index    int    `json:"index" yaml:"index"`
	Current  string `json:"current" yaml:"current"`
	Previous string `json:"previous,omitempty" yaml:"previous,omitempty"`
	Next     string `json:"next,omitempty" yaml:"next,omitempty"`
	Sessions int    `json:"sessions" yaml:"sessions"`
	Plays    int    `json:"plays" yaml:"plays"`
	Days     int    `json:"days" yaml:"days"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

// LevelRuns splits each user's plays into level runs. Plays are sorted by
// user and start time first.
func LevelRuns(plays []Play) []LevelRun {
	sorted := make([]Play, len(plays))
	copy(sorted, plays)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].UserID != sorted[j].UserID {
			return sorted[i].UserID < sorted[j].UserID
		}
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})

	var runs []LevelRun
	var sessions map[int64]bool
	var days map[string]bool
	for i, p := range sorted {
		newUser := i == 0 || sorted[i-1].UserID != p.UserID
		if newUser || sorted[i-1].Level != p.Level {
			run := LevelRun{UserID: p.UserID, Current: p.Level}
			if !newUser {
				prev := &runs[len(runs)-1]
				prev.Next = p.Level
				run.Previous = prev.Current
				run.Index = prev.Index + 1
			}
			runs = append(runs, run)
			sessions = map[int64]bool{}
			days = map[string]bool{}
		}

		run := &runs[len(runs)-1]
		run.Plays++
		if !sessions[p.SessionID] {
			sessions[p.SessionID] = true
			run.Sessions++
		}
		day := p.StartTime.UTC().Format("2006-01-02")
		if !days[day] {
			days[day] = true
			run.Days++
		}
	}

	for i := range runs {
		runs[i].Category = category(runs[i])
	}
	return runs
}

func category(r LevelRun) string {
	switch {
	case r.Current == LevelFree && r.Next == LevelPaid:
		return CategoryFreeThenPaid
	case r.Current == LevelPaid && r.Next == LevelFree:
		return CategoryPaidThenFree
	case r.Current == LevelFree && r.Next == "":
		return CategoryFreeOnly
	case r.Current == LevelPaid && r.Next == "":
		return CategoryPaidOnly
	}
	return ""
}

// Engagement holds the headline user statistics. Rates are percentages.
type Engagement struct {
	Users       int     `json:"users" yaml:"users"`
	ReturnRate  float64 `json:"return_rate" yaml:"return_rate"`
	BounceRate  float64 `json:"bounce_rate" yaml:"bounce_rate"`
	UpgradeRate float64 `json:"upgrade_rate" yaml:"upgrade_rate"`
}

// EngagementOf computes the statistics from level runs.
//   - return: sessions summed over a user's runs exceed one
//   - bounce: a single free run with one session
//   - upgrade: the first run is free and the second paid
func EngagementOf(runs []LevelRun) Engagement {
	byUser := map[int64][]LevelRun{}
	var order []int64
	for _, r := range runs {
		if _, ok := byUser[r.UserID]; !ok {
			order = append(order, r.UserID)
		}
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}

	e := Engagement{Users: len(order)}
	if e.Users == 0 {
		return e
	}

	var returned, bounced, upgraded int
	for _, id := range order {
		userRuns := byUser[id]
		sessions := 0
		for _, r := range userRuns {
			sessions += r.Sessions
		}
		if sessions > 1 {
			returned++
		}
		if len(userRuns) == 1 && userRuns[0].Current == LevelFree && userRuns[0].Sessions == 1 {
			bounced++
		}
		if len(userRuns) > 1 && userRuns[0].Current == LevelFree && userRuns[1].Current == LevelPaid {
			upgraded++
		}
	}

	e.ReturnRate = percent(returned, e.Users)
	e.BounceRate = percent(bounced, e.Users)
	e.UpgradeRate = percent(upgraded, e.Users)
	return e
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// Share is one level's part of a total.
type Share struct {
	Level   string  `json:"level" yaml:"level"`
	Count   int     `json:"count" yaml:"count"`
	Percent float64 `json:"percent" yaml:"percent"`
}

// Shares turns counts per level into percentages, ordered by level.
func Shares(counts map[string]int) []Share {
	total := 0
	for _, n := range counts {
		total += n
	}
	shares := make([]Share, 0, len(counts))
	for level, n := range counts {
		shares = append(shares, Share{Level: level, Count: n, Percent: percent(n, total)})
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].Level < shares[j].Level })
	return shares
}

// PlayLevels counts plays per level.
func PlayLevels(plays []Play) []Share {
	counts := map[string]int{}
	for _, p := range plays {
		counts[p.Level]++
	}
	return Shares(counts)
}

// CategoryStats compares level run categories.
type CategoryStats struct {
	Category       string  `json:"category" yaml:"category"`
	Runs           int     `json:"runs" yaml:"runs"`
	MedianPlays    float64 `json:"median_plays" yaml:"median_plays"`
	MedianSessions float64 `json:"median_sessions" yaml:"median_sessions"`
}

// CompareCategories summarises plays and sessions per category.
func CompareCategories(runs []LevelRun) []CategoryStats {
	plays := map[string][]int{}
	sessions := map[string][]int{}
	for _, r := range runs {
		if r.Category == "" {
			continue
		}
		plays[r.Category] = append(plays[r.Category], r.Plays)
		sessions[r.Category] = append(sessions[r.Category], r.Sessions)
	}

	var stats []CategoryStats
	for _, c := range []string{CategoryFreeOnly, CategoryFreeThenPaid, CategoryPaidOnly, CategoryPaidThenFree} {
		if len(plays[c]) == 0 {
			continue
		}
		stats = append(stats, CategoryStats{
			Category:       c,
			Runs:           len(plays[c]),
			MedianPlays:    median(plays[c]),
			MedianSessions: median(sessions[c]),
		})
	}
	return stats
}

func median(values []int) float64 {
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return float64(sorted[n/2-1]+sorted[n/2]) / 2
}

// HourCount is the number of plays started in an hour of the day.
type HourCount struct {
	Hour  int `json:"hour" yaml:"hour"`
	Plays int `json:"plays" yaml:"plays"`
}

// PlaysByHour counts plays for each hour 0-23 in UTC.
func PlaysByHour(plays []Play) []HourCount {
	hours := make([]HourCount, 24)
	for h := range hours {
		hours[h].Hour = h
	}
	for _, p := range plays {
		hours[p.StartTime.UTC().Hour()].Plays++
	}
	return hours
}

// DayCount is the number of plays on a date.
type DayCount struct {
	Date    string `json:"date" yaml:"date"`
	Weekday int    `json:"weekday" yaml:"weekday"`
	Weekend bool   `json:"weekend" yaml:"weekend"`
	Plays   int    `json:"plays" yaml:"plays"`
}

// PlaysByDay counts plays per UTC date. Weekdays count from Monday = 0 and
// the weekend starts on Saturday.
func PlaysByDay(plays []Play) []DayCount {
	byDate := map[string]*DayCount{}
	for _, p := range plays {
		t := p.StartTime.UTC()
		date := t.Format("2006-01-02")
		day, ok := byDate[date]
		if !ok {
			weekday := (int(t.Weekday()) + 6) % 7
			day = &DayCount{Date: date, Weekday: weekday, Weekend: weekday >= 5}
			byDate[date] = day
		}
		day.Plays++
	}

	days := make([]DayCount, 0, len(byDate))
	for _, d := range byDate {
		days = append(days, *d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days
}

// StateCount is the number of plays from a state.
type StateCount struct {
	State string `json:"state" yaml:"state"`
	Plays int    `json:"plays" yaml:"plays"`
}

// StateOf extracts the first state code from a metro area location, e.g.
// "Minneapolis-St. Paul-Bloomington, MN-WI" gives "MN".
func StateOf(location string) string {
	parts := strings.Split(location, ",")
	if len(parts) < 2 {
		return ""
	}
	state, _, _ := strings.Cut(parts[1], "-")
	return strings.TrimSpace(state)
}

// PlaysByState counts plays per state, most plays first. Locations without
// a state are counted under "".
func PlaysByState(plays []Play) []StateCount {
	counts := map[string]int{}
	for _, p := range plays {
		counts[StateOf(p.Location)]++
	}
	states := make([]StateCount, 0, len(counts))
	for s, n := range counts {
		states = append(states, StateCount{State: s, Plays: n})
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].Plays != states[j].Plays {
			return states[i].Plays > states[j].Plays
		}
		return states[i].State < states[j].State
	})
	return states
}

// TopUser is a user in the top play count quartile.
type TopUser struct {
	UserID int64  `json:"user_id" yaml:"user_id"`
	Level  string `json:"level" yaml:"level"`
	Plays  int    `json:"plays" yaml:"plays"`
}

// TopQuartile returns users whose play count percent rank is at least 0.75,
// most plays first. A user's level is the highest seen, so paid wins.
func TopQuartile(plays []Play) []TopUser {
	byUser := map[int64]*TopUser{}
	for _, p := range plays {
		u, ok := byUser[p.UserID]
		if !ok {
			u = &TopUser{UserID: p.UserID, Level: p.Level}
			byUser[p.UserID] = u
		}
		u.Plays++
		if p.Level > u.Level {
			u.Level = p.Level
		}
	}

	users := make([]TopUser, 0, len(byUser))
	for _, u := range byUser {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Plays != users[j].Plays {
			return users[i].Plays > users[j].Plays
		}
		return users[i].UserID < users[j].UserID
	})

	n := len(users)
	if n < 2 {
		return nil
	}
	var top []TopUser
	for _, u := range users {
		// rank among ascending play counts, ties share the lowest rank
		fewer := 0
		for _, other := range users {
			if other.Plays < u.Plays {
				fewer++
			}
		}
		if float64(fewer)/float64(n-1) >= 0.75 {
			top = append(top, u)
		}
	}
	return top
}

// AgentCount is the number of plays from an operating system and browser.
type AgentCount struct {
	OS      string `json:"os" yaml:"os"`
	Browser string `json:"browser" yaml:"browser"`
	Plays   int    `json:"plays" yaml:"plays"`
}

// otherAgent labels user agents that match no known pattern.
const otherAgent = "Other"

var (
	osPatterns      = [][2]string{{"Windows", "Windows"}, {"Linux", "Linux"}, {"Macintosh", "Mac"}, {"iPhone", "iPhone"}}
	browserPatterns = [][2]string{{"Chrome", "Chrome"}, {"Firefox", "Firefox"}, {"Trident", "IE"}, {"Mobile", "Mobile"}, {"Safari", "Safari"}}
)

// ClassifyAgent maps a user agent to an operating system and browser. The
// first matching pattern wins, so Chrome is not reported as Safari.
func ClassifyAgent(userAgent string) (os, browser string) {
	os, browser = otherAgent, otherAgent
	for _, p := range osPatterns {
		if strings.Contains(userAgent, p[0]) {
			os = p[1]
			break
		}
	}
	for _, p := range browserPatterns {
		if strings.Contains(userAgent, p[0]) {
			browser = p[1]
			break
		}
	}
	return os, browser
}

// UserAgents counts plays per operating system and browser pair.
func UserAgents(plays []Play) []AgentCount {
	type key struct{ os, browser string }
	counts := map[key]int{}
	for _, p := range plays {
		os, browser := ClassifyAgent(p.UserAgent)
		counts[key{os, browser}]++
	}
	agents := make([]AgentCount, 0, len(counts))
	for k, n := range counts {
		agents = append(agents, AgentCount{OS: k.os, Browser: k.browser, Plays: n})
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].OS != agents[j].OS {
			return agents[i].OS < agents[j].OS
		}
		return agents[i].Browser < agents[j].Browser
	})
	return agents
}
