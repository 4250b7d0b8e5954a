package series

import (
	"github.com/shng-go/shng/errors"
)

// Record is a value of an item held from Time for Duration milliseconds. The
// most recent record of an item is open: its Duration is -1 and it lasts until
// the next value. Changed is the last time the value was set again.
type Record struct {
	Item     string   `json:"item"`
	Time     int64    `json:"ts"`
	Duration int64    `json:"dur"`
	Num      *float64 `json:"num,omitempty"`
	Str      *string  `json:"str,omitempty"`
	Bool     *bool    `json:"bool,omitempty"`
	Changed  int64    `json:"changed"`
}

func newRecord(item string, ts int64, value interface{}) (Record, error) {
	r := Record{Item: item, Time: ts, Duration: -1, Changed: ts}
	switch v := value.(type) {
	case float64:
		r.Num = &v
	case string:
		r.Str = &v
	case bool:
		r.Bool = &v
	default:
		return r, errors.Typef("series.Append", "%s: %T values are not stored", item, value)
	}
	return r, nil
}

func (r Record) Open() bool {
	return r.Duration < 0
}

// End of the record. An open record ends at now, or at its start if now is
// earlier.
func (r Record) End(now int64) int64 {
	if r.Open() {
		if now < r.Time {
			return r.Time
		}
		return now
	}
	return r.Time + r.Duration
}

// Value as stored: float64, string or bool.
func (r Record) Value() interface{} {
	switch {
	case r.Num != nil:
		return *r.Num
	case r.Str != nil:
		return *r.Str
	case r.Bool != nil:
		return *r.Bool
	}
	return nil
}

// Float is the numeric value. Bools count as 0 and 1; strings have none.
func (r Record) Float() (float64, bool) {
	switch {
	case r.Num != nil:
		return *r.Num, true
	case r.Bool != nil:
		if *r.Bool {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func (r Record) sameValue(o Record) bool {
	switch {
	case r.Num != nil && o.Num != nil:
		return *r.Num == *o.Num
	case r.Str != nil && o.Str != nil:
		return *r.Str == *o.Str
	case r.Bool != nil && o.Bool != nil:
		return *r.Bool == *o.Bool
	}
	return false
}
