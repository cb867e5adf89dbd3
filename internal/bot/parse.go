package bot

import (
	"strings"
)

// Command is a parsed chat command.
type Command struct {
	Name string // without the leading slash, e.g. "search"
	Arg  string
}

// Parse splits "/name@bot rest" into a command. Names are case-sensitive.
// ok is false for text that is not a command.
func Parse(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return Command{}, false
	}
	head, rest, _ := strings.Cut(text, " ")
	if i := strings.IndexAny(head, "\n\t"); i >= 0 {
		rest = head[i:] + " " + rest
		head = head[:i]
	}
	name := strings.TrimPrefix(head, "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return Command{}, false
	}
	return Command{Name: name, Arg: strings.TrimSpace(rest)}, true
}
