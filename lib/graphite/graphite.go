// Package graphite writes metrics in the carbon plaintext protocol and reads
// them back through the render API.
package graphite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/context/ctxhttp"

	"github.com/shng-go/shng/errors"
)

const BatchSize = 4096

type IGraphite interface {
	Add(path string, timestamp int64, value float64) error
	Flush(ctx context.Context) error
	Query(ctx context.Context, from, until, target string) ([]Dataseries, error)
}

type Graphite struct {
	carbon string
	render string
	client *http.Client

	mu     sync.Mutex
	buffer bytes.Buffer
}

var dialer = func(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

// New client sending to the carbon address (port 2003 if none is given) and
// querying the render API at renderURL, which may be empty.
func New(carbon, renderURL string) *Graphite {
	if _, _, err := net.SplitHostPort(carbon); err != nil {
		carbon = net.JoinHostPort(carbon, "2003")
	}
	return &Graphite{carbon: carbon, render: strings.TrimSuffix(renderURL, "/"), client: http.DefaultClient}
}

// Add buffers a point, flushing once the buffer exceeds BatchSize.
func (graphite *Graphite) Add(path string, timestamp int64, value float64) error {
	graphite.mu.Lock()
	fmt.Fprintf(&graphite.buffer, "%s %v %d\n", path, value, timestamp)
	full := graphite.buffer.Len() > BatchSize
	graphite.mu.Unlock()
	if full {
		return graphite.Flush(context.Background())
	}
	return nil
}

func (graphite *Graphite) Flush(ctx context.Context) error {
	graphite.mu.Lock()
	defer graphite.mu.Unlock()
	if graphite.buffer.Len() == 0 {
		return nil
	}
	conn, err := dialer(ctx, "tcp", graphite.carbon)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(graphite.buffer.Bytes()); err != nil {
		return err
	}
	graphite.buffer.Reset()
	return nil
}

type Datapoint struct {
	At    time.Time
	Value float64
	// Valid is false for the null points graphite returns for gaps.
	Valid bool
}

func (graphite *Datapoint) UnmarshalJSON(data []byte) error {
	var v []*float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v) != 2 || v[1] == nil {
		return errors.New("Datapoint incorrect length")
	}
	if v[0] != nil {
		graphite.Value, graphite.Valid = *v[0], true
	}
	graphite.At = time.Unix(int64(*v[1]), 0)
	return nil
}

type Dataseries struct {
	Target     string
	Datapoints []Datapoint
}

// Last valid point of the series, if any.
func (series Dataseries) Last() (Datapoint, bool) {
	for i := len(series.Datapoints) - 1; i >= 0; i-- {
		if series.Datapoints[i].Valid {
			return series.Datapoints[i], true
		}
	}
	return Datapoint{}, false
}

func (graphite *Graphite) Query(ctx context.Context, from, until, target string) ([]Dataseries, error) {
	if graphite.render == "" {
		return nil, errors.New("no render url configured")
	}
	vs := url.Values{
		"from":   []string{from},
		"until":  []string{until},
		"target": []string{target},
		"format": []string{"json"}}
	uri := fmt.Sprintf("%s/render?%s", graphite.render, vs.Encode())
	resp, err := ctxhttp.Get(ctx, graphite.client, uri)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("render: %s", resp.Status)
	}
	var v []Dataseries
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
