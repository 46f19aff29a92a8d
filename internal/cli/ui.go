package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"spotlx/internal/progress"
)

// Output colors. They respect color.NoColor at print time.
var (
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// Successf prints a green line with a checkmark prefix.
func Successf(w io.Writer, format string, args ...any) {
	_, _ = green.Fprintf(w, "✓ "+format+"\n", args...)
}

// Warningf prints a yellow line with a warning prefix.
func Warningf(w io.Writer, format string, args ...any) {
	_, _ = yellow.Fprintf(w, "⚠ "+format+"\n", args...)
}

// Errorf prints a red line with an X prefix.
func Errorf(w io.Writer, format string, args ...any) {
	_, _ = red.Fprintf(w, "✗ "+format+"\n", args...)
}

// Infof prints a cyan line with an info prefix.
func Infof(w io.Writer, format string, args ...any) {
	_, _ = cyan.Fprintf(w, "ℹ "+format+"\n", args...)
}

// promptConfirmer lists the tables about to be dropped on out and reads a
// y/yes answer from in. Anything else, including EOF, declines.
func promptConfirmer(in io.Reader, out io.Writer) progress.Confirmer {
	return func(tables []string) bool {
		_, _ = bold.Fprintln(out, "The following tables will be dropped:")
		for _, t := range tables {
			fmt.Fprintf(out, "  %s\n", t)
		}
		_, _ = yellow.Fprint(out, "Continue? [y/N] ")

		answer, _ := bufio.NewReader(in).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}
