// Package mastodon posts item values as toots.
//
// An address is the toot visibility: public, unlisted, private or direct.
package mastodon

import (
	"context"
	"strings"
	"sync"

	"github.com/mattn/go-mastodon"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

func init() {
	adapters.Register("mastodon", func() adapters.Adapter { return &Adapter{} })
}

type client interface {
	PostStatus(ctx context.Context, toot *mastodon.Toot) (*mastodon.Status, error)
}

var visibilities = map[string]bool{"public": true, "unlisted": true, "private": true, "direct": true}

type Adapter struct {
	adapters.Bindings

	conf      mastodon.Config
	newClient func(conf *mastodon.Config) client

	mu     sync.Mutex
	client client
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "mastodon", DefaultDirection: binder.Write, Extra: []string{"spoiler"}}
}

func (self *Adapter) Configure(params config.Params) error {
	server, err := params.Require("server")
	if err != nil {
		return err
	}
	token, err := params.Require("access_token")
	if err != nil {
		return err
	}
	self.conf = mastodon.Config{
		Server:       server,
		ClientID:     params.String("client_id", ""),
		ClientSecret: params.String("client_secret", ""),
		AccessToken:  token,
	}
	if self.newClient == nil {
		self.newClient = func(conf *mastodon.Config) client { return mastodon.NewClient(conf) }
	}
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if !visibilities[b.Address] {
		return errors.Bindingf("mastodon.Bind", "unknown visibility %q", b.Address)
	}
	if b.Direction.CanRead() {
		return errors.Bindingf("mastodon.Bind", "%s: mastodon is write only", b.Item.Path())
	}
	self.Add(b)
	return nil
}

func (self *Adapter) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.client == nil {
		conf := self.conf
		self.client = self.newClient(&conf)
	}
	return nil
}

func (self *Adapter) Disconnect() error {
	self.mu.Lock()
	self.client = nil
	self.mu.Unlock()
	return nil
}

func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	return nil, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	self.mu.Lock()
	c := self.client
	self.mu.Unlock()
	if c == nil {
		return errors.Transientf("mastodon.Write", "not connected")
	}
	toot := &mastodon.Toot{Status: items.Format(value), Visibility: address}
	if b := self.First(address); b != nil {
		toot.SpoilerText = b.Param("spoiler", "")
	}
	if _, err := c.PostStatus(ctx, toot); err != nil {
		if strings.Contains(err.Error(), "401") {
			return errors.Permanent("mastodon.Write", err)
		}
		return errors.Transient("mastodon.Write", err)
	}
	return nil
}
