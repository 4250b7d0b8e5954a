// Package xmpp sends item values as chat messages and turns messages received
// from a contact into item updates.
//
// An address is a contact JID. Writing an item sends its value to the contact;
// a message from the contact sets the items bound to its JID.
package xmpp

import (
	"context"
	"strings"
	"sync"

	xmpp "github.com/mattn/go-xmpp"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

func init() {
	adapters.Register("xmpp", func() adapters.Adapter { return &Adapter{} })
}

type client interface {
	Recv() (interface{}, error)
	Send(chat xmpp.Chat) (int, error)
	Close() error
}

type Adapter struct {
	adapters.Bindings

	options xmpp.Options
	dial    func(opts xmpp.Options) (client, error)

	mu     sync.Mutex
	client client
	err    error
	push   func([]adapters.Reading)
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "xmpp", DefaultDirection: binder.ReadWrite}
}

func (self *Adapter) Configure(params config.Params) error {
	host, err := params.Require("host")
	if err != nil {
		return err
	}
	jid, err := params.Require("jid")
	if err != nil {
		return err
	}
	self.options = xmpp.Options{
		Host:     host,
		User:     jid,
		Password: params.String("password", ""),
		NoTLS:    params.Bool("no_tls", false),
		Debug:    params.Bool("debug", false),
		Session:  true,
	}
	if self.dial == nil {
		self.dial = func(opts xmpp.Options) (client, error) {
			return opts.NewClient()
		}
	}
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if !strings.Contains(b.Address, "@") {
		return errors.Bindingf("xmpp.Bind", "%q is not a jid", b.Address)
	}
	self.Add(b)
	return nil
}

func (self *Adapter) SetPush(push func([]adapters.Reading)) {
	self.mu.Lock()
	self.push = push
	self.mu.Unlock()
}

func (self *Adapter) Connect(ctx context.Context) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.client != nil {
		return nil
	}
	c, err := self.dial(self.options)
	if err != nil {
		if strings.Contains(err.Error(), "auth") {
			return errors.Permanent("xmpp.Connect", err)
		}
		return errors.Transient("xmpp.Connect", err)
	}
	self.client, self.err = c, nil
	go self.recv(c)
	return nil
}

// bareJID strips the resource.
func bareJID(jid string) string {
	if n := strings.IndexByte(jid, '/'); n >= 0 {
		return jid[:n]
	}
	return jid
}

func (self *Adapter) recv(c client) {
	for {
		stanza, err := c.Recv()
		if err != nil {
			self.mu.Lock()
			if self.client == c {
				self.err = err
			}
			self.mu.Unlock()
			return
		}
		chat, ok := stanza.(xmpp.Chat)
		if !ok || chat.Text == "" {
			continue
		}
		from := bareJID(chat.Remote)
		if b := self.First(from); b == nil || !b.Direction.CanRead() {
			continue
		}
		self.mu.Lock()
		push := self.push
		self.mu.Unlock()
		if push != nil {
			push([]adapters.Reading{{Address: from, Value: strings.TrimSpace(chat.Text)}})
		}
	}
}

func (self *Adapter) Disconnect() error {
	self.mu.Lock()
	c := self.client
	self.client = nil
	self.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

// Poll only reports a broken connection; values arrive as messages.
func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.client == nil {
		return nil, errors.Transientf("xmpp.Poll", "not connected")
	}
	if self.err != nil {
		return nil, errors.Transient("xmpp.Poll", self.err)
	}
	return nil, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	self.mu.Lock()
	c := self.client
	self.mu.Unlock()
	if c == nil {
		return errors.Transientf("xmpp.Write", "not connected")
	}
	if _, err := c.Send(xmpp.Chat{Remote: address, Type: "chat", Text: items.Format(value)}); err != nil {
		return errors.Transient("xmpp.Write", err)
	}
	return nil
}
