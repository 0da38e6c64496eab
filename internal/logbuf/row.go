package logbuf

import (
	"strings"
	"time"

	"github.com/starford/livedesk/internal/checksum"
)

// TimestampFormat is the display form of a row timestamp. Row IDs are
// derived from this form, so two events within the same second with the
// same level and text collapse into one row.
const TimestampFormat = "2006-01-02 15:04:05"

// Level is the severity of a row. Server-sourced rows may carry levels not
// listed here; they are kept verbatim.
type Level string

const (
	LevelTrace    Level = "TRACE"
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// ParseLevel normalises s to upper case. Empty input maps to INFO.
func ParseLevel(s string) Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return LevelInfo
	}
	return Level(s)
}

// Row is a single displayable log/message entry.
type Row struct {
	ID    string `json:"id"`
	Time  string `json:"time"`
	Level Level  `json:"level"`
	Text  string `json:"text"`
}

// RowID derives the stable identifier of (stamp, level, text).
func RowID(stamp string, level Level, text string) string {
	line := strings.Join([]string{stamp, string(level), text}, "##")
	return "msg_" + checksum.String(line)
}

// NewRow builds a row stamped with an already formatted time string, as
// delivered by the server.
func NewRow(stamp string, level Level, text string) Row {
	return Row{
		ID:    RowID(stamp, level, text),
		Time:  stamp,
		Level: level,
		Text:  text,
	}
}

// NewRowAt builds a row for a local event at t.
func NewRowAt(t time.Time, level Level, text string) Row {
	return NewRow(t.Format(TimestampFormat), level, text)
}
