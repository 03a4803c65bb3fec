package app

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Target is one URL to fetch.
type Target struct {
	URL      string
	Priority int
}

// ParseTargets reads "url [priority]" lines. Blank lines and lines starting
// with '#' are skipped. Higher priority runs first.
func ParseTargets(r io.Reader) ([]Target, error) {
	var out []Target
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		fields := strings.Fields(s)
		t := Target{URL: fields[0]}
		switch len(fields) {
		case 1:
		case 2:
			p, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid priority %q", line, fields[1])
			}
			t.Priority = p
		default:
			return nil, fmt.Errorf("line %d: expected \"url [priority]\", got %d fields", line, len(fields))
		}
		out = append(out, t)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
