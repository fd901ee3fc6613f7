package psub

import (
	"strings"
	"unicode"
)

// Event is one parsed feed line.
type Event struct {
	Channel int `json:"channel"`
	Status  int `json:"status"`
}

// Handler receives events in stream order.
type Handler func(ev Event)

// ParseLine parses "<status> <channel>". Blank lines report ok=false.
// Missing or non-numeric fields become 0 so a garbage line never stops the feed.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}
	status, rest := line, ""
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		status, rest = line[:i], strings.TrimSpace(line[i:])
	}
	return Event{Status: leadingInt(status), Channel: leadingInt(rest)}, true
}

// leadingInt parses an optional sign followed by the leading run of digits;
// anything else yields 0. Overflow saturates instead of wrapping.
func leadingInt(s string) int {
	i, neg := 0, false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	const limit = int(^uint(0) >> 1)
	n := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		d := int(s[i] - '0')
		if n > (limit-d)/10 {
			n = limit
			break
		}
		n = n*10 + d
	}
	if neg {
		return -n
	}
	return n
}
