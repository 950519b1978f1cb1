package ui

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sparkify/pkg/errors"
)

// capture redirects Out and Err and disables color for one test.
func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	oldOut, oldErr, oldColor := Out, Err, supportsColor
	Out, Err, supportsColor = &out, &errOut, false
	t.Cleanup(func() { Out, Err, supportsColor = oldOut, oldErr, oldColor })
	return &out, &errOut
}

func TestColorFunc(t *testing.T) {
	old := supportsColor
	defer SetColor(old)

	SetColor(false)
	assert.Equal(t, "text", ColorSuccess("text"))

	SetColor(true)
	colored := ColorError("text")
	assert.NotEqual(t, "text", colored)
	assert.Contains(t, colored, "text")
}

func TestShowMessages(t *testing.T) {
	out, _ := capture(t)

	ShowSuccess("tables created")
	ShowWarning("2 columns truncated")
	ShowInfo("cluster available")
	ShowKeyValue("Host", "dwh.example.redshift.amazonaws.com")

	assert.Equal(t, "SUCCESS: tables created\n"+
		"WARNING: 2 columns truncated\n"+
		"INFO: cluster available\n"+
		fmt.Sprintf("  %-22s %v\n", "Host:", "dwh.example.redshift.amazonaws.com"), out.String())
}

func TestShowError(t *testing.T) {
	_, errOut := capture(t)

	err := errors.Wrap(fmt.Errorf("dial tcp: connection refused"), errors.ErrCodeConnectionFailed, "Failed to connect").
		WithContext("host", "localhost").
		WithContext("port", 5439).
		WithSuggestions("Check [CLUSTER] HOST")
	ShowError(err)

	text := errOut.String()
	assert.Contains(t, text, "ERROR [SPK1001]: Failed to connect")
	assert.Contains(t, text, "dial tcp: connection refused")
	assert.Less(t, strings.Index(text, "host:"), strings.Index(text, "port:"))
	assert.Contains(t, text, "TIP: Check [CLUSTER] HOST")

	errOut.Reset()
	ShowError(fmt.Errorf("plain failure"))
	assert.Equal(t, "\nERROR: plain failure\n", errOut.String())
}

func TestShowHeaderAndBox(t *testing.T) {
	out, _ := capture(t)

	ShowHeader("Sparkify")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, len(lines[0]), len(lines[1]))

	out.Reset()
	Box("Cluster", "host: a\nport: 5439")
	lines = strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	for _, line := range lines {
		assert.Equal(t, len(lines[0]), len(line), line)
	}
}

func TestRenderTable(t *testing.T) {
	capture(t)
	var buf bytes.Buffer

	RenderTable(&buf, Table{
		Title:  "Song Plays by State",
		Header: []string{"State", "Plays"},
		Rows:   [][]string{{"CA", "1200"}, {"unknown", "3"}},
	})
	text := buf.String()
	assert.Contains(t, text, "Song Plays by State")
	assert.Contains(t, text, "State")
	assert.Contains(t, text, "unknown")
	assert.Contains(t, text, "1200")

	buf.Reset()
	RenderTables(&buf, []Table{{Title: "Top Users", Header: []string{"User"}}})
	assert.Contains(t, buf.String(), "(no rows)")
}

func TestStatusCell(t *testing.T) {
	capture(t)
	assert.Equal(t, "OK", StatusCell(true))
	assert.Equal(t, "FAIL", StatusCell(false))
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"", FormatTable, true},
		{"json", FormatJSON, true},
		{" YAML ", FormatYAML, true},
		{"csv", "", false},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if !tt.ok {
			assert.Equal(t, errors.ErrCodeValidationFailed, errors.GetErrorCode(err))
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestWrite(t *testing.T) {
	capture(t)
	v := struct {
		Users int `json:"users" yaml:"users"`
	}{Users: 96}
	tables := []Table{{Title: "Users", Header: []string{"Users"}, Rows: [][]string{{"96"}}}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, v, tables))
	assert.JSONEq(t, `{"users": 96}`, buf.String())

	buf.Reset()
	require.NoError(t, Write(&buf, FormatYAML, v, tables))
	assert.YAMLEq(t, "users: 96\n", buf.String())

	buf.Reset()
	require.NoError(t, Write(&buf, FormatTable, v, tables))
	assert.Contains(t, buf.String(), "96")

	assert.Error(t, Write(&buf, Format("xml"), v, tables))
}

func fakeAsk(t *testing.T, answer bool, err error) *int {
	t.Helper()
	calls := 0
	old := askOne
	askOne = func(p survey.Prompt, response interface{}, opts ...survey.AskOpt) error {
		calls++
		if err != nil {
			return err
		}
		*(response.(*bool)) = answer
		return nil
	}
	t.Cleanup(func() { askOne = old })
	return &calls
}

func TestConfirm(t *testing.T) {
	fakeAsk(t, true, nil)
	ok, err := Confirm("Delete cluster?", false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConfirmInterrupted(t *testing.T) {
	fakeAsk(t, true, terminal.InterruptErr)
	ok, err := Confirm("Delete cluster?", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConfirmDestructive(t *testing.T) {
	calls := fakeAsk(t, false, nil)

	require.NoError(t, ConfirmDestructive("Delete the Redshift cluster", true))
	assert.Equal(t, 0, *calls)

	err := ConfirmDestructive("Delete the Redshift cluster", false)
	assert.Equal(t, errors.ErrCodeUserInput, errors.GetErrorCode(err))
	assert.Equal(t, 1, *calls)
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		500 * time.Millisecond:         "500ms",
		45 * time.Second:               "45.0s",
		3*time.Minute + 30*time.Second: "3m30s",
		2*time.Hour + 15*time.Minute:   "2h15m",
	}
	for d, want := range tests {
		assert.Equal(t, want, formatDuration(d))
	}
}

func TestProgressBar(t *testing.T) {
	_, errOut := capture(t)

	pb := NewProgressBar("Local load")
	pb.Update("a.json", 1, 2, true)
	pb.Update("b.json", 2, 2, false)
	assert.Contains(t, errOut.String(), "[2/2] b.json")
	assert.Contains(t, errOut.String(), "100%")

	pb.Finish()
	assert.Contains(t, errOut.String(), "1 files loaded")
	assert.Contains(t, errOut.String(), "1 failed")
}

func TestSpinner(t *testing.T) {
	_, errOut := capture(t)

	s := NewSpinner("Waiting for cluster")
	s.Start()
	s.UpdateMessage("Still waiting")
	s.Stop(true, "Cluster available")
	assert.True(t, strings.HasSuffix(errOut.String(), "✓ Cluster available\n"))
}
