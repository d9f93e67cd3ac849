package filesystem

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	ticksPerSecond = int64(time.Second / 100)
	//Ticks between 0001-01-01 and the unix epoch.
	unixEpochTicks = int64(621355968000000000)
	fileExtension  = ".json"
)

/*
tickFormat pads to the digit count of the largest 32 bit integer. Present day tick values have
18 digits, so the padding never applies and names only sort chronologically while every tick
value has the same number of digits (19 digits start in the year 3170).
The width is kept as is because existing timeout directories are named this way.
*/
var tickFormat = fmt.Sprintf("%%0%dd", len(strconv.Itoa(math.MaxInt32)))

// Ticks returns the number of 100ns intervals between 0001-01-01 UTC and t.
func Ticks(t time.Time) int64 {
	t = t.UTC()
	return unixEpochTicks + t.Unix()*ticksPerSecond + int64(t.Nanosecond()/100)
}

func FromTicks(ticks int64) time.Time {
	ticks -= unixEpochTicks
	return time.Unix(ticks/ticksPerSecond, (ticks%ticksPerSecond)*100).UTC()
}

// EncodeDueTime returns the file name prefix of an entry due at t.
func EncodeDueTime(t time.Time) string {
	return fmt.Sprintf(tickFormat, Ticks(t))
}

func DecodeDueTime(prefix string) (time.Time, error) {
	ticks, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due time %q: %w", prefix, err)
	}
	return FromTicks(ticks), nil
}

func fileName(prefix string, counter int) string {
	return fmt.Sprintf("%s_%d%s", prefix, counter, fileExtension)
}

// parseFileName splits "<prefix>_<counter>.json" into its parts.
func parseFileName(name string) (prefix string, counter int, ok bool) {
	if !strings.HasSuffix(name, fileExtension) {
		return "", 0, false
	}
	base := strings.TrimSuffix(name, fileExtension)
	i := strings.LastIndex(base, "_")
	if i <= 0 {
		return "", 0, false
	}
	counter, err := strconv.Atoi(base[i+1:])
	if err != nil || counter < 0 {
		return "", 0, false
	}
	prefix = base[:i]
	if _, err = strconv.ParseInt(prefix, 10, 64); err != nil {
		return "", 0, false
	}
	return prefix, counter, true
}

// isDue compares encodings as strings, the way the directory listing orders them.
func isDue(prefix string, now string) bool {
	return prefix <= now
}
