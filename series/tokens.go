package series

import (
	"strconv"
	"strings"
	"time"

	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/util"
)

// ParseTime resolves a query time to epoch milliseconds. It accepts epoch
// milliseconds, "now", "now-<n><unit>" and a bare "<n><unit>" meaning the same
// as "now-<n><unit>". Units are those of util.ParseDuration.
func ParseTime(s string, now time.Time) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "now" {
		return now.UnixMilli(), nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	rel := strings.TrimPrefix(s, "now-")
	d, err := util.ParseDuration(rel)
	if err != nil || d < 0 {
		return 0, errors.Errorf("invalid time %q", s)
	}
	return now.Add(-d).UnixMilli(), nil
}
