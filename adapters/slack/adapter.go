// Package slack posts item values to slack channels.
package slack

import (
	"context"
	"strings"
	"sync"

	"github.com/nlopes/slack"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

func init() {
	adapters.Register("slack", func() adapters.Adapter { return &Adapter{} })
}

type client interface {
	PostMessage(channel, text string, params slack.PostMessageParameters) (string, string, error)
}

// errors slack answers with that retrying cannot fix
var permanent = []string{"invalid_auth", "not_authed", "account_inactive", "token_revoked", "channel_not_found", "not_in_channel"}

type Adapter struct {
	adapters.Bindings

	token     string
	username  string
	newClient func(token string) client

	mu     sync.Mutex
	client client
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "slack", DefaultDirection: binder.Write}
}

func (self *Adapter) Configure(params config.Params) error {
	var err error
	if self.token, err = params.Require("token"); err != nil {
		return err
	}
	self.username = params.String("username", "shng")
	if self.newClient == nil {
		self.newClient = func(token string) client { return slack.New(token) }
	}
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if b.Direction.CanRead() {
		return errors.Bindingf("slack.Bind", "%s: slack is write only", b.Item.Path())
	}
	self.Add(b)
	return nil
}

func (self *Adapter) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.client == nil {
		self.client = self.newClient(self.token)
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
		return errors.Transientf("slack.Write", "not connected")
	}
	params := slack.NewPostMessageParameters()
	params.Username = self.username
	if _, _, err := c.PostMessage(address, items.Format(value), params); err != nil {
		for _, reason := range permanent {
			if strings.Contains(err.Error(), reason) {
				return errors.Permanent("slack.Write", err)
			}
		}
		return errors.Transient("slack.Write", err)
	}
	return nil
}
