package tmux

import (
	"strconv"
	"strings"

	"sessioncast.io/agent/schema"
)

// ParseSessionLine parses one line of `tmux ls` output, shaped like
//
//	main: 3 windows (created Mon Jan 26 19:54:13 2026) (attached)
//
// The name is everything before the first colon; the window count is the
// integer before " windows"/" window", defaulting to 1 when absent or
// unparsable; attached means the literal substring "(attached)" occurs.
// A line that fits none of this still yields a minimal record carrying the
// whole line as the name rather than being dropped.
func ParseSessionLine(line string) schema.Session {
	colon := strings.Index(line, ":")
	if colon < 0 {
		return schema.Session{Name: strings.TrimSpace(line), Windows: 1}
	}

	session := schema.Session{
		Name:     strings.TrimSpace(line[:colon]),
		Windows:  1,
		Attached: strings.Contains(line, "(attached)"),
	}

	rest := line[colon+1:]
	idx := strings.Index(rest, " windows")
	if idx < 0 {
		idx = strings.Index(rest, " window")
	}
	if idx >= 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(rest[:idx])); err == nil {
			session.Windows = n
		}
	}
	return session
}
