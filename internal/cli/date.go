package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"spotlx/internal/dateparse"
)

var dateCmd = &cobra.Command{
	Use:   "date <date>...",
	Short: "Print the interval bounds a YAGO date string resolves to",
	Long: `Date prints, for every argument, the earliest and latest epoch
millisecond the date can denote, e.g.

  spotlx date 1900-##-## 19##-##-## "-0044-03-15"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, s := range args {
			printDate(cmd.OutOrStdout(), s)
		}
		return nil
	},
}

func printDate(w io.Writer, s string) {
	floor, ceil := dateparse.Floor(s), dateparse.Ceil(s)
	fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", s, floor, ceil, formatMillis(floor), formatMillis(ceil))
}

// formatMillis renders ms as RFC 3339 in UTC with millisecond precision.
// Strings without a date print the open interval sentinels.
func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
