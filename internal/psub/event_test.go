package psub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		line string
		want Event
		ok   bool
	}{
		{name: "basic", line: "1 42", want: Event{Status: 1, Channel: 42}, ok: true},
		{name: "surrounding whitespace", line: "  2\t7 \r", want: Event{Status: 2, Channel: 7}, ok: true},
		{name: "blank", line: "   ", ok: false},
		{name: "empty", line: "", ok: false},
		{name: "malformed", line: "abc", want: Event{}, ok: true},
		{name: "missing channel", line: "3", want: Event{Status: 3}, ok: true},
		{name: "numeric prefix", line: "4x 12abc", want: Event{Status: 4, Channel: 12}, ok: true},
		{name: "extra fields", line: "5 6 7", want: Event{Status: 5, Channel: 6}, ok: true},
		{name: "negative", line: "-1 9", want: Event{Status: -1, Channel: 9}, ok: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLeadingIntSaturates(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int(^uint(0)>>1), leadingInt("99999999999999999999999999"))
}
