package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"sparkify/internal/config"
	"sparkify/internal/lake"
	"sparkify/internal/testutil"
	"sparkify/internal/ui"
	"sparkify/pkg/errors"
)

type run struct {
	out      string
	messages string
}

// resetFlags puts every flag back to its default, since rootCmd is shared
// between tests.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			var values []string
			if def := strings.Trim(f.DefValue, "[]"); def != "" {
				values = strings.Split(def, ",")
			}
			_ = sv.Replace(values)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (run, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, messages bytes.Buffer
	oldOut, oldErr := ui.Out, ui.Err
	ui.Out, ui.Err = &messages, &messages
	ui.SetColor(false)
	t.Cleanup(func() { ui.Out, ui.Err = oldOut, oldErr })

	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--log-level=error"))
	err := rootCmd.Execute()
	return run{out: out.String(), messages: messages.String()}, err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dwh.cfg")
	testutil.WriteFile(t, path, content)
	return path
}

func TestRootCommandHelp(t *testing.T) {
	r, err := execute(t, "--help")
	require.NoError(t, err)

	assert.Contains(t, r.out, "Available Commands:")
	for _, name := range []string{"infra", "lake", "tables", "etl", "check", "local", "dashboard", "storms", "config", "version"} {
		assert.Contains(t, r.out, name)
	}
}

func TestInvalidCommand(t *testing.T) {
	_, err := execute(t, "invalid-command")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestVersion(t *testing.T) {
	r, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "sparkify version dev\nBuilt at: unknown\n", r.out)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "check", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetErrorCode(err))
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "tables", "--config", filepath.Join(t.TempDir(), "missing.cfg"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigNotFound, errors.GetErrorCode(err))
}

func TestConfigEncrypt(t *testing.T) {
	t.Setenv("SPARKIFY_ENCRYPTION_KEY", "test-passphrase")

	r, err := execute(t, "config", "encrypt", "hunter2")
	require.NoError(t, err)

	encrypted := strings.TrimSpace(r.out)
	assert.True(t, config.IsEncrypted(encrypted))
	plain, err := config.DecryptValue(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestConfigEncryptPrompt(t *testing.T) {
	t.Setenv("SPARKIFY_ENCRYPTION_KEY", "test-passphrase")
	old := promptPassword
	promptPassword = func(string, string) (string, error) { return "from-prompt", nil }
	t.Cleanup(func() { promptPassword = old })

	r, err := execute(t, "config", "encrypt")
	require.NoError(t, err)
	plain, err := config.DecryptValue(strings.TrimSpace(r.out))
	require.NoError(t, err)
	assert.Equal(t, "from-prompt", plain)
}

func TestConfigStoreSecret(t *testing.T) {
	keyring.MockInit()
	old := promptPassword
	promptPassword = func(string, string) (string, error) { return "Passw0rd", nil }
	t.Cleanup(func() { promptPassword = old })

	r, err := execute(t, "config", "store-secret", "cluster", "db_password")
	require.NoError(t, err)
	assert.Contains(t, r.messages, "Stored CLUSTER.DB_PASSWORD")

	secret, err := keyring.Get(config.KeyringService, "CLUSTER.DB_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "Passw0rd", secret)

	_, err = execute(t, "config", "store-secret", "S3", "LOG_DATA")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetErrorCode(err))
}

func TestConfigShow(t *testing.T) {
	keyring.MockInit()
	path := writeConfig(t, `[INFRASTRUCTURE]
KEY = AKIAEXAMPLE
SECRET = aws-secret

[CLUSTER]
DB_NAME = dwh
DB_PASSWORD = Passw0rd
`)

	r, err := execute(t, "config", "show", "--config", path, "-o", "json")
	require.NoError(t, err)

	var settings []config.Setting
	require.NoError(t, json.Unmarshal([]byte(r.out), &settings))
	values := map[string]string{}
	for _, s := range settings {
		values[s.Section+"."+s.Key] = s.Value
	}
	assert.Equal(t, "AKIAEXAMPLE", values["INFRASTRUCTURE.KEY"])
	assert.Equal(t, config.Redacted, values["INFRASTRUCTURE.SECRET"])
	assert.Equal(t, config.Redacted, values["CLUSTER.DB_PASSWORD"])
	assert.Equal(t, "dwh", values["CLUSTER.DB_NAME"])
	assert.NotContains(t, r.out, "Passw0rd")

	r, err = execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, r.out, "DB_PASSWORD")
	assert.NotContains(t, r.out, "aws-secret")
}

func TestDashboardUnknownTarget(t *testing.T) {
	keyring.MockInit()
	path := writeConfig(t, "[CLUSTER]\nDB_NAME = dwh\n")

	_, err := execute(t, "dashboard", "--config", path, "--target", "spreadsheet")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetErrorCode(err))
}

func TestETLRequiresRole(t *testing.T) {
	keyring.MockInit()
	path := writeConfig(t, "[CLUSTER]\nHOST = dwh.example.com\nDB_NAME = dwh\nDB_USER = dwhuser\nDB_PASSWORD = p\n")

	_, err := execute(t, "etl", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[IAM_ROLE] ARN")
}

const lakeSong = `{"num_songs": 1, "artist_id": "ARD7TVE1187B99BFB1", "artist_latitude": null, "artist_longitude": null, "artist_location": "California - LA", "artist_name": "Casual", "song_id": "SOMZWCG12A8C13C480", "title": "I Didn't Mean To", "duration": 218.93179, "year": 2006}`

const lakeEvents = `{"artist":"Casual","auth":"Logged In","firstName":"Lily","gender":"F","itemInSession":6,"lastName":"Koch","length":218.93179,"level":"paid","location":"Chicago, IL","method":"PUT","page":"NextSong","registration":1541048010796.0,"sessionId":818,"song":"I Didn't Mean To","status":200,"ts":1542837407796,"userAgent":"Mozilla","userId":"15"}
`

func TestLakeRun(t *testing.T) {
	keyring.MockInit()
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "lake")
	testutil.WriteFile(t, filepath.Join(input, "song_data", "A", "A", "A", "TRAAAAW128F429D538.json"), lakeSong)
	testutil.WriteFile(t, filepath.Join(input, "log_data", "2018", "11", "2018-11-21-events.json"), lakeEvents)
	path := writeConfig(t, "[LAKE]\nINPUT = "+input+"\nOUTPUT = "+output+"\n")

	r, err := execute(t, "lake", "run", "--config", path, "-o", "json", "--concurrency", "2")
	require.NoError(t, err)

	var result lake.Result
	require.NoError(t, json.Unmarshal([]byte(r.out), &result))
	assert.Equal(t, 1, result.SongFiles)
	assert.Equal(t, 1, result.LogFiles)
	assert.Equal(t, 1, result.Rows[lake.TableSongplays])
	assert.FileExists(t, filepath.Join(output, "songplays", "year=2018", "month=11", lake.PartFile))
}

func TestLakeRunRequiresInput(t *testing.T) {
	keyring.MockInit()
	path := writeConfig(t, "[LAKE]\nOUTPUT = out\n")

	_, err := execute(t, "lake", "run", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[LAKE] INPUT")
}

const stormDetails = `EPISODE_ID,EVENT_ID,STATE,YEAR,EVENT_TYPE,CZ_NAME,BEGIN_DATE_TIME,MAGNITUDE,BEGIN_LAT,BEGIN_LON,END_LAT,END_LON
162055,980001,FLORIDA,2021,Tornado,ESCAMBIA,07-JUL-21 10:00:00,,30.0,-84.0,30.5,-83.5
162055,980002,FLORIDA,2021,Thunderstorm Wind,ESCAMBIA,07-JUL-21 11:00:00,50,31.0,-84.0,31.0,-83.0
162056,980004,FLORIDA,2021,Hail,BAY,08-JUL-21 10:00:00,1.00,30.2,-85.6,30.2,-85.6
`

func TestStorms(t *testing.T) {
	dir := t.TempDir()
	reports := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "StormEvents_details-ftp_v1.0_d2021_c20220124.csv"), stormDetails)

	r, err := execute(t, "storms", "--dir", dir, "--report-dir", reports, "--episode", "162055", "-o", "json")
	require.NoError(t, err)

	var result stormsResult
	require.NoError(t, json.Unmarshal([]byte(r.out), &result))
	assert.Equal(t, "FLORIDA episode 162055", result.Region)
	assert.Equal(t, 1, result.Files)
	assert.Equal(t, 2, result.Events)
	assert.Equal(t, 4, result.Points)
	assert.Equal(t, 3, result.Hull)

	data, err := os.ReadFile(filepath.Join(reports, "storm_region.geojson"))
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Len(t, fc.Features, 5)
}

func TestStormsWithoutHull(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, filepath.Join(dir, "details.csv"), stormDetails)

	r, err := execute(t, "storms", "--dir", dir, "--report-dir", t.TempDir(), "--types", "Hail", "--output", "hail.geojson")
	require.NoError(t, err)
	assert.Contains(t, r.messages, "without a region outline")
	assert.Contains(t, r.out, "hail.geojson")
}

func TestStormsNoFiles(t *testing.T) {
	_, err := execute(t, "storms", "--dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.GetErrorCode(err))
}

func TestRecordError(t *testing.T) {
	reports := t.TempDir()
	_, err := execute(t, "storms", "--dir", t.TempDir(), "--report-dir", reports)
	require.Error(t, err)

	recordError(err)
	data, readErr := os.ReadFile(filepath.Join(reports, errors.ErrorLogFile))
	require.NoError(t, readErr)

	var entry errors.ErrorLogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "sparkify storms", entry.Command)
	assert.Equal(t, errors.ErrCodeFileNotFound, entry.Code)
}

func TestErrorsCommand(t *testing.T) {
	reports := t.TempDir()
	for _, args := range [][]string{
		{"storms", "--dir", t.TempDir()},
		{"storms", "--dir", t.TempDir()},
		{"check", "--format", "xml"},
	} {
		_, err := execute(t, append(args, "--report-dir", reports)...)
		require.Error(t, err)
		recordError(err)
	}

	r, err := execute(t, "errors", "--report-dir", reports, "--format", "json")
	require.NoError(t, err)

	var got errorsResult
	require.NoError(t, json.Unmarshal([]byte(r.out), &got))
	require.Len(t, got.Entries, 3)
	assert.Equal(t, "sparkify storms", got.Entries[0].Command)
	assert.Equal(t, []errorCount{
		{Code: errors.ErrCodeFileNotFound, Count: 2},
		{Code: errors.ErrCodeValidationFailed, Count: 1},
	}, got.Summary)

	r, err = execute(t, "errors", "--report-dir", reports, "--last", "1", "--format", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(r.out), &got))
	require.Len(t, got.Entries, 1)
	assert.Equal(t, errors.ErrCodeValidationFailed, got.Entries[0].Code)
}

func TestErrorsCommandEmpty(t *testing.T) {
	r, err := execute(t, "errors", "--report-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, r.messages, "No failures recorded")
}
