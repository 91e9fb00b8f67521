package netsuite

import (
	"fmt"
	"strings"
	"time"
)

// remoteTimeLayouts covers the formats NetSuite hands back depending on the
// account's locale: ISO-8601 with offset from SuiteQL, and US locale strings
// from older RESTlet responses.
var remoteTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02 15:04:05",
	"1/2/2006 3:04 pm",
	"1/2/2006 3:04:05 pm",
	"1/2/2006 3:04 PM",
	"1/2/2006 3:04:05 PM",
	"02/01/2006 15:04",
}

// ParseRemoteTime normalizes a remote timestamp string into a single
// comparable UTC instant.
func ParseRemoteTime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, layout := range remoteTimeLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("no known layout matches %q", trimmed)
}
