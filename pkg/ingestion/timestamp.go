package ingestion

import (
	"strings"
	"time"
)

// eventTimeLayout matches "13 Jan 2026 9:36:7" as well as "13 Jan 2026 09:36:07".
// The unpadded minute and second verbs accept one or two digits.
const eventTimeLayout = "2 Jan 2006 15:4:5"

// ParseEventTime parses the device-supplied date-time text. Devices send the
// time as free text, so a false result is expected from time to time and is
// never treated as a failure of the message.
func ParseEventTime(s string) (time.Time, bool) {
	t, err := time.Parse(eventTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
