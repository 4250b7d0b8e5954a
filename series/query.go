package series

import (
	"github.com/shng-go/shng/errors"
)

// Func is a consolidation function.
type Func string

const (
	Avg  Func = "avg"
	Min  Func = "min"
	Max  Func = "max"
	Last Func = "last"
	Raw  Func = "raw"
)

func ParseFunc(s string) (Func, error) {
	switch f := Func(s); f {
	case Avg, Min, Max, Last, Raw:
		return f, nil
	case "":
		return Avg, nil
	}
	return "", errors.Errorf("unknown series function %q", s)
}

type Query struct {
	Item string
	Func Func
	// Start and End are epoch milliseconds or tokens understood by ParseTime.
	Start string
	End   string
	// Count splits the window into that many steps. Zero means one step.
	Count int
}

// MaxCount bounds Query.Count.
const MaxCount = 10000

// Update lets a caller fetch what follows a result: query again with
// Start=NextStart and End=NextEnd.
type Update struct {
	Item      string `json:"item"`
	Func      Func   `json:"func"`
	NextStart int64  `json:"next_start"`
	NextEnd   string `json:"next_end"`
	NextStep  int64  `json:"next_step"`
}

type Result struct {
	Item  string `json:"item"`
	Func  Func   `json:"func"`
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	// Timestamps are step starts (record starts for raw). A nil value is a
	// step without data.
	Timestamps []int64       `json:"timestamps"`
	Values     []interface{} `json:"values"`
	Update     Update        `json:"update"`
}

var (
	ErrInvalidRange  = errors.New("series query end before start")
	ErrCountTooLarge = errors.Errorf("series query count above %d", MaxCount)
)

// Series runs a query. Results depend only on the stored records and the
// resolved window.
func (s *Store) Series(q Query) (*Result, error) {
	fn, err := ParseFunc(string(q.Func))
	if err != nil {
		return nil, err
	}
	now := s.now()
	start, err := ParseTime(q.Start, now)
	if err != nil {
		return nil, err
	}
	end, err := ParseTime(q.End, now)
	if err != nil {
		return nil, err
	}
	if end < start {
		return nil, errors.Wrapf(ErrInvalidRange, "%d < %d", end, start)
	}
	if q.Count > MaxCount {
		return nil, errors.Wrapf(ErrCountTooLarge, "count %d", q.Count)
	}
	nowMs := now.UnixMilli()
	records := s.window(q.Item, start, end, nowMs)

	res := &Result{Item: q.Item, Func: fn, Start: start, End: end}
	step := end - start
	if fn == Raw {
		for _, r := range records {
			res.Timestamps = append(res.Timestamps, r.Time)
			res.Values = append(res.Values, r.Value())
		}
	} else {
		count := int64(q.Count)
		if count < 1 {
			count = 1
		}
		step = (end - start) / count
		if step < 1 {
			step, count = 1, max(end-start, 1)
		}
		// records are ordered and disjoint, so [lo, hi) only moves forward
		lo, hi := 0, 0
		for i := int64(0); i < count; i++ {
			from := start + i*step
			to := from + step
			if i == count-1 {
				to = end
			}
			for from < to && lo < len(records) && records[lo].End(nowMs) <= from {
				lo++
			}
			if hi < lo {
				hi = lo
			}
			for hi < len(records) && (records[hi].Time < to || (from == to && records[hi].Time <= to)) {
				hi++
			}
			v, err := consolidate(fn, clip(records[lo:hi], from, to, nowMs), nowMs)
			if err != nil {
				return nil, err
			}
			res.Timestamps = append(res.Timestamps, from)
			res.Values = append(res.Values, v)
		}
	}
	nextEnd := q.End
	if nextEnd == "" {
		nextEnd = "now"
	}
	res.Update = Update{Item: q.Item, Func: fn, NextStart: end, NextEnd: nextEnd, NextStep: step}
	return res, nil
}

// Single consolidates the whole window into one value. It is nil when the
// window holds no data.
func (s *Store) Single(item string, fn Func, start, end string) (interface{}, error) {
	res, err := s.Series(Query{Item: item, Func: fn, Start: start, End: end})
	if err != nil {
		return nil, err
	}
	if fn == Raw {
		return res.Values, nil
	}
	return res.Values[0], nil
}

// window copies the records of item overlapping [start, end], clipped to it.
func (s *Store) window(item string, start, end, now int64) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	is := s.series[item]
	if is == nil {
		return nil
	}
	pos := is.locate(start)
	if pos < 0 {
		return nil
	}
	var out []Record
	for ; pos < len(is.records); pos++ {
		r := is.records[pos]
		if r.Time > end || (r.Time == end && start < end) {
			break
		}
		out = append(out, r)
	}
	return clip(out, start, end, now)
}

// overlaps reports whether r covers part of [start, end). A point window
// (start == end) is covered by the record holding the value at that time;
// records already clipped to a point have zero duration.
func overlaps(r Record, start, end, now int64) bool {
	rEnd := r.End(now)
	if start == end {
		return r.Time <= start && (start < rEnd || (start == rEnd && (r.Open() || r.Duration == 0)))
	}
	return r.Time < end && rEnd > start
}

func clip(records []Record, start, end, now int64) []Record {
	var out []Record
	for _, r := range records {
		if !overlaps(r, start, end, now) {
			continue
		}
		rEnd := r.End(now)
		if r.Time < start {
			r.Time = start
		}
		if rEnd > end {
			rEnd = end
		}
		r.Duration = rEnd - r.Time
		out = append(out, r)
	}
	return out
}

func consolidate(fn Func, records []Record, now int64) (interface{}, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if fn == Last {
		last := records[len(records)-1]
		if f, ok := last.Float(); ok {
			return f, nil
		}
		return last.Value(), nil
	}

	values := make([]float64, len(records))
	for n, r := range records {
		f, ok := r.Float()
		if !ok {
			return nil, errors.Typef("series.Series", "%s: %s of string values", r.Item, fn)
		}
		values[n] = f
	}
	switch fn {
	case Min, Max:
		v := values[0]
		for _, f := range values[1:] {
			if (fn == Min && f < v) || (fn == Max && f > v) {
				v = f
			}
		}
		return v, nil
	default:
		var sum float64
		var total int64
		for n, r := range records {
			sum += values[n] * float64(r.Duration)
			total += r.Duration
		}
		if total == 0 {
			// point window
			sum = 0
			for _, f := range values {
				sum += f
			}
			return sum / float64(len(values)), nil
		}
		return sum / float64(total), nil
	}
}
