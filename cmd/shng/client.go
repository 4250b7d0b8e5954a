package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/net/context/ctxhttp"

	"github.com/shng-go/shng/items"
	"github.com/shng-go/shng/pubsub"
)

const requestTimeout = 10 * time.Second

func apiURL(path string, params url.Values) string {
	uri := fmt.Sprintf("%s/%s", strings.TrimSuffix(viper.GetString("api"), "/"), path)
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}
	return uri
}

func request(ctx context.Context, method, path string, params url.Values, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, apiURL(path, params), body)
	if err != nil {
		return nil, err
	}
	resp, err := ctxhttp.Do(ctx, http.DefaultClient, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// fetch decodes the JSON response of a GET into v.
func fetch(path string, params url.Values, v interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	resp, err := request(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func get(w io.Writer, path string) error {
	var v interface{}
	if err := fetch(path, nil, &v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(out))
	return nil
}

func listItems(w io.Writer, ps []string) error {
	var states []items.State
	if err := fetch("items", nil, &states); err != nil {
		return err
	}
	for _, st := range states {
		if len(ps) > 0 && !strings.HasPrefix(st.Path, ps[0]) {
			continue
		}
		fmt.Fprintf(w, "%s = %s\n", st.Path, items.Format(st.Value))
	}
	return nil
}

func set(w io.Writer, path, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	resp, err := request(ctx, http.MethodPut, "items/"+path, nil, bytes.NewBufferString(value))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var st items.State
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s = %s\n", st.Path, items.Format(st.Value))
	return nil
}

// seriesQuery takes item [func] [start] [end] [count].
func seriesQuery(w io.Writer, ps []string) error {
	params := url.Values{}
	for i, name := range []string{"func", "start", "end", "count"} {
		if i+1 < len(ps) && ps[i+1] != "" {
			params.Set(name, ps[i+1])
		}
	}
	var res struct {
		Timestamps []int64       `json:"timestamps"`
		Values     []interface{} `json:"values"`
	}
	if err := fetch("series/"+ps[0], params, &res); err != nil {
		return err
	}
	for i, ts := range res.Timestamps {
		value := "-"
		if res.Values[i] != nil {
			value = items.Format(res.Values[i])
		}
		fmt.Fprintf(w, "%s %s\n", time.UnixMilli(ts).Format(time.RFC3339), value)
	}
	return nil
}

// query streams the replies of the Queryable services.
func query(w io.Writer, first string, rest []string) error {
	params := url.Values{}
	if len(rest) > 0 {
		params.Set("q", strings.Join(rest, " "))
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	resp, err := request(ctx, http.MethodGet, "query/"+url.PathEscape(first), params, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)

	n := 0
	for scanner.Scan() {
		ev := pubsub.Parse(scanner.Text(), "")
		if ev == nil {
			continue
		}
		source := ev.Source()
		message := ev.StringField("message")

		if strings.Contains(message, "\n") {
			fmt.Fprintf(w, "\x1b[32;1m%s\x1b[0m\n%s\n", source, message)
		} else {
			fmt.Fprintf(w, "\x1b[32;1m%s\x1b[0m %s\n", source, message)
		}
		n += 1
	}
	if n == 0 {
		fmt.Fprintln(w, "No response")
	}
	return scanner.Err()
}
