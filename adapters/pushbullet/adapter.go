// Package pushbullet pushes item values as pushbullet notes.
//
// An address is "all" (every device of the account), an email address or a
// device iden. The note title is taken from pushbullet_title and defaults to
// the item path.
package pushbullet

import (
	"context"
	"strings"
	"sync"

	"github.com/mitsuse/pushbullet-go"
	"github.com/mitsuse/pushbullet-go/requests"
	"github.com/mitsuse/pushbullet-go/responses"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

func init() {
	adapters.Register("pushbullet", func() adapters.Adapter { return &Adapter{} })
}

type client interface {
	PostPushesNote(n *requests.Note) (*responses.Note, error)
}

type Adapter struct {
	adapters.Bindings

	token     string
	newClient func(token string) client

	mu     sync.Mutex
	client client
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "pushbullet", DefaultDirection: binder.Write, Extra: []string{"title"}}
}

func (self *Adapter) Configure(params config.Params) error {
	var err error
	if self.token, err = params.Require("token"); err != nil {
		return err
	}
	if self.newClient == nil {
		self.newClient = func(token string) client { return pushbullet.New(token) }
	}
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if b.Direction.CanRead() {
		return errors.Bindingf("pushbullet.Bind", "%s: pushbullet is write only", b.Item.Path())
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

func note(address, title, body string) *requests.Note {
	n := requests.NewNote()
	n.Title = title
	n.Body = body
	switch {
	case address == "all":
	case strings.Contains(address, "@"):
		n.Email = address
	default:
		n.DeviceIden = address
	}
	return n
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	self.mu.Lock()
	c := self.client
	self.mu.Unlock()
	if c == nil {
		return errors.Transientf("pushbullet.Write", "not connected")
	}
	title := "shng"
	if b := self.First(address); b != nil {
		title = b.Param("title", b.Item.Path())
	}
	if _, err := c.PostPushesNote(note(address, title, items.Format(value))); err != nil {
		if strings.Contains(err.Error(), "401") || strings.Contains(strings.ToLower(err.Error()), "invalid access token") {
			return errors.Permanent("pushbullet.Write", err)
		}
		return errors.Transient("pushbullet.Write", err)
	}
	return nil
}
