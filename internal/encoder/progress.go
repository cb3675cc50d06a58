package encoder

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var errBadTimeFormat = errors.New("invalid ffmpeg time format")

// stats holds what is extracted from one ffmpeg progress line: only the
// time= position, which drives progress. speed, bitrate, fps and frame are
// not parsed.
type stats struct {
	Time  time.Duration
	Valid bool
}

// parseStats extracts time=HH:MM:SS.xx from an ffmpeg stderr line via
// substring search rather than a strict regex, matching the teacher's
// ParseFFmpegStats strategy. Returns nil if the line has no usable field.
func parseStats(line string) *stats {
	if !strings.Contains(line, "time=") {
		return nil
	}

	val := extractField(line, "time=")
	if val == "" || val == "N/A" {
		return nil
	}
	d, err := parseFFmpegTime(val)
	if err != nil {
		return nil
	}
	return &stats{Time: d, Valid: true}
}

func extractField(line, key string) string {
	idx := strings.Index(line, key)
	if idx == -1 {
		return ""
	}
	rest := strings.TrimLeft(line[idx+len(key):], " ")
	if rest == "" {
		return ""
	}
	if sp := strings.Index(rest, " "); sp != -1 {
		return rest[:sp]
	}
	return rest
}

// parseFFmpegTime parses "HH:MM:SS.mm".
func parseFFmpegTime(val string) (time.Duration, error) {
	parts := strings.Split(val, ":")
	if len(parts) != 3 {
		return 0, errBadTimeFormat
	}
	hours, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, err
	}
	mins, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, err
	}
	secs, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, err
	}
	total := hours*3600 + mins*60 + secs
	return time.Duration(total * float64(time.Second)), nil
}

// progressPercent computes min(100, current/duration*100), per §4.5.
func progressPercent(current time.Duration, totalSeconds float64) float64 {
	if totalSeconds <= 0 {
		return 0
	}
	pct := current.Seconds() / totalSeconds * 100
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}
