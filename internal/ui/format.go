// Package ui renders command output for the terminal.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"

	"sparkify/pkg/errors"
)

var (
	// Out and Err receive all rendered output.
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr

	// Check if output supports colors
	supportsColor = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	// Color functions
	ColorSuccess  = colorFunc(ansi.Green)
	ColorError    = colorFunc(ansi.Red)
	ColorWarning  = colorFunc(ansi.Yellow)
	ColorInfo     = colorFunc(ansi.Cyan)
	ColorProgress = colorFunc(ansi.Blue)
	ColorBold     = colorFunc("default+b")
	ColorDim      = colorFunc("default+h")
)

// colorFunc returns a function that colors text if supported
func colorFunc(color string) func(string) string {
	return func(text string) string {
		if supportsColor {
			return ansi.Color(text, color)
		}
		return text
	}
}

// SetColor forces colored output on or off.
func SetColor(enabled bool) {
	supportsColor = enabled
}

// ShowHeader displays a formatted header
func ShowHeader(title string) {
	width := 50
	if len(title)+4 > width {
		width = len(title) + 4
	}
	padding := (width - len(title) - 2) / 2

	fmt.Fprintln(Out, "\n+"+strings.Repeat("-", width-2)+"+")
	fmt.Fprintf(Out, "|%s%s%s|\n",
		strings.Repeat(" ", padding),
		ColorBold(title),
		strings.Repeat(" ", width-2-padding-len(title)),
	)
	fmt.Fprintln(Out, "+"+strings.Repeat("-", width-2)+"+")
}

// ShowError displays an error with its code, context and suggestions.
func ShowError(err error) {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		fmt.Fprintf(Err, "\n%s %s\n", ColorError("ERROR:"), err.Error())
		return
	}

	fmt.Fprintf(Err, "\n%s %s\n", ColorError(fmt.Sprintf("ERROR [%s]:", appErr.Code)), appErr.Message)
	if appErr.Cause != nil {
		fmt.Fprintf(Err, "  %s\n", ColorDim(appErr.Cause.Error()))
	}

	if len(appErr.Context) > 0 {
		keys := make([]string, 0, len(appErr.Context))
		for k := range appErr.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(Err)
		for _, k := range keys {
			fmt.Fprintf(Err, "  %-14s %v\n", ColorDim(k+":"), appErr.Context[k])
		}
	}

	for _, s := range appErr.Suggestions {
		fmt.Fprintf(Err, "\n  %s %s", ColorInfo("TIP:"), s)
	}
	if len(appErr.Suggestions) > 0 {
		fmt.Fprintln(Err)
	}
}

// ShowSuccess displays a success message
func ShowSuccess(message string) {
	fmt.Fprintf(Out, "%s %s\n", ColorSuccess("SUCCESS:"), message)
}

// ShowWarning displays a warning message
func ShowWarning(message string) {
	fmt.Fprintf(Out, "%s %s\n", ColorWarning("WARNING:"), ColorWarning(message))
}

// ShowInfo displays an info message
func ShowInfo(message string) {
	fmt.Fprintf(Out, "%s %s\n", ColorInfo("INFO:"), message)
}

// ShowKeyValue prints an aligned key and value.
func ShowKeyValue(key string, value interface{}) {
	fmt.Fprintf(Out, "  %-22s %v\n", ColorDim(key+":"), value)
}

// Box draws a box around content
func Box(title, content string) {
	lines := strings.Split(content, "\n")
	maxLen := len(title)
	for _, line := range lines {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}

	fmt.Fprintf(Out, "+- %s %s+\n", ColorBold(title), strings.Repeat("-", maxLen-len(title)))
	for _, line := range lines {
		fmt.Fprintf(Out, "| %s%s  |\n", line, strings.Repeat(" ", maxLen-len(line)))
	}
	fmt.Fprintf(Out, "+%s+\n", strings.Repeat("-", maxLen+3))
}
