package graphite

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockGraphite records added points and answers queries with Response.
type MockGraphite struct {
	Response string

	mu      sync.Mutex
	Lines   []string
	Flushes int
}

func (self *MockGraphite) Add(path string, timestamp int64, value float64) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Lines = append(self.Lines, fmt.Sprintf("%s %v %d", path, value, timestamp))
	return nil
}

func (self *MockGraphite) Flush(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Flushes++
	return nil
}

func (self *MockGraphite) Query(ctx context.Context, from, until, target string) ([]Dataseries, error) {
	var v []Dataseries
	if err := json.Unmarshal([]byte(self.Response), &v); err != nil {
		return nil, err
	}
	return v, nil
}
