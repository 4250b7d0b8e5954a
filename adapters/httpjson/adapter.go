// Package httpjson polls a JSON document over HTTP and reads values from it
// by JSON pointer. With write_url set, writes are posted as JSON.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/context/ctxhttp"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
)

func init() {
	adapters.Register("httpjson", func() adapters.Adapter { return &Adapter{} })
}

type Adapter struct {
	adapters.Bindings

	url      string
	writeURL string
	username string
	password string
	token    string
	client   *http.Client
	pointers map[string]Pointer
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "http", DefaultDirection: binder.Read}
}

func (self *Adapter) Configure(params config.Params) error {
	var err error
	if self.url, err = params.Require("url"); err != nil {
		return err
	}
	self.writeURL = params.String("write_url", "")
	timeout, err := params.Duration("timeout", 10*time.Second)
	if err != nil {
		return err
	}
	self.username = params.String("username", "")
	self.password = params.String("password", "")
	self.token = params.String("token", "")
	self.client = &http.Client{Timeout: timeout}
	self.pointers = map[string]Pointer{}
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	p, err := ParsePointer(b.Address)
	if err != nil {
		return err
	}
	if b.Direction.CanWrite() && self.writeURL == "" {
		return errors.Bindingf("httpjson.Bind", "%s: writing needs write_url", b.Address)
	}
	self.pointers[b.Address] = p
	self.Add(b)
	return nil
}

func (self *Adapter) Connect(ctx context.Context) error { return nil }

func (self *Adapter) Disconnect() error {
	self.client.CloseIdleConnections()
	return nil
}

func (self *Adapter) do(ctx context.Context, op string, req *http.Request) ([]byte, error) {
	switch {
	case self.token != "":
		req.Header.Set("Authorization", "Bearer "+self.token)
	case self.username != "":
		req.SetBasicAuth(self.username, self.password)
	}
	resp, err := ctxhttp.Do(ctx, self.client, req)
	if err != nil {
		return nil, errors.Transient(op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Transient(op, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Permanentf(op, "%s: %s", req.URL, resp.Status)
	case resp.StatusCode >= 400:
		return nil, errors.Transientf(op, "%s: %s", req.URL, resp.Status)
	}
	return body, nil
}

func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	req, err := http.NewRequest(http.MethodGet, self.url, nil)
	if err != nil {
		return nil, errors.Config("httpjson.Poll", err)
	}
	req.Header.Set("Accept", "application/json")
	body, err := self.do(ctx, "httpjson.Poll", req)
	if err != nil {
		return nil, err
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Transient("httpjson.Poll", errors.Wrap(err, "decode"))
	}
	var ret []adapters.Reading
	for _, addr := range self.ReadAddresses() {
		if v, ok := self.pointers[addr].Get(doc); ok && v != nil {
			ret = append(ret, adapters.Reading{Address: addr, Value: v})
		}
	}
	return ret, nil
}

type writeBody struct {
	Address string      `json:"address"`
	Value   interface{} `json:"value"`
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	if self.writeURL == "" {
		return errors.Bindingf("httpjson.Write", "no write_url")
	}
	data, err := json.Marshal(writeBody{address, value})
	if err != nil {
		return errors.Type("httpjson.Write", err)
	}
	req, err := http.NewRequest(http.MethodPost, self.writeURL, bytes.NewReader(data))
	if err != nil {
		return errors.Config("httpjson.Write", err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = self.do(ctx, "httpjson.Write", req)
	return err
}
