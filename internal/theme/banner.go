package theme

import (
	"fmt"
)

// Banner returns the startup banner shown by `trendpost run`.
func Banner(variant, source string) string {
	const cyan = "\033[36m"
	const magenta = "\033[35m"
	const yellow = "\033[33m"
	const reset = "\033[0m"

	art := "" +
		"  ▲▲▲   " + magenta + "TRENDPOST" + reset + "   ▲▲▲\n" +
		cyan + "   trending  ->  research  ->  draft  ->  post\n" + reset +
		yellow + "   ──────────────────────────────────────────\n" + reset
	flow := fmt.Sprintf("   workflow: %s%s%s   discovery: %s%s%s\n", magenta, variant, reset, magenta, source, reset)
	return art + flow
}

// PrintBanner prints the banner to stdout.
func PrintBanner(variant, source string) {
	fmt.Print(Banner(variant, source))
}
