// Package telegram sends item values to telegram chats and turns messages
// received in a chat into item updates.
//
// An address is a numeric chat id. Writing an item sends its value to the
// chat; a message in the chat sets the items read-bound to its id.
package telegram

import (
	"context"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/shng-go/shng/adapters"
	"github.com/shng-go/shng/binder"
	"github.com/shng-go/shng/config"
	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/items"
)

func init() {
	adapters.Register("telegram", func() adapters.Adapter { return &Adapter{} })
}

type bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Adapter struct {
	adapters.Bindings

	token string
	dial  func(token string) (bot, error)

	mu   sync.Mutex
	bot  bot
	done chan struct{}
	push func([]adapters.Reading)
}

func (self *Adapter) Schema() binder.Schema {
	return binder.Schema{Prefix: "telegram", DefaultDirection: binder.Write}
}

func (self *Adapter) Configure(params config.Params) error {
	var err error
	if self.token, err = params.Require("token"); err != nil {
		return err
	}
	if self.dial == nil {
		self.dial = func(token string) (bot, error) {
			return tgbotapi.NewBotAPI(token)
		}
	}
	return nil
}

func (self *Adapter) Bind(b *binder.Binding) error {
	if _, err := strconv.ParseInt(b.Address, 10, 64); err != nil {
		return errors.Bindingf("telegram.Bind", "%q is not a chat id", b.Address)
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
	if self.bot != nil {
		return nil
	}
	b, err := self.dial(self.token)
	if err != nil {
		if strings.Contains(err.Error(), "Unauthorized") {
			return errors.Permanent("telegram.Connect", err)
		}
		return errors.Transient("telegram.Connect", err)
	}
	self.bot = b
	self.done = make(chan struct{})
	if len(self.ReadAddresses()) > 0 {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		go self.receive(b.GetUpdatesChan(u), self.done)
	}
	return nil
}

func (self *Adapter) receive(updates tgbotapi.UpdatesChannel, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Chat == nil || update.Message.Text == "" {
				continue
			}
			chat := strconv.FormatInt(update.Message.Chat.ID, 10)
			if b := self.First(chat); b == nil || !b.Direction.CanRead() {
				continue
			}
			self.mu.Lock()
			push := self.push
			self.mu.Unlock()
			if push != nil {
				push([]adapters.Reading{{Address: chat, Value: strings.TrimSpace(update.Message.Text)}})
			}
		}
	}
}

func (self *Adapter) Disconnect() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.bot == nil {
		return nil
	}
	close(self.done)
	self.bot.StopReceivingUpdates()
	self.bot = nil
	return nil
}

// Poll only reports whether the bot is connected.
func (self *Adapter) Poll(ctx context.Context) ([]adapters.Reading, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.bot == nil {
		return nil, errors.Transientf("telegram.Poll", "not connected")
	}
	return nil, nil
}

func (self *Adapter) Write(ctx context.Context, address string, value interface{}) error {
	chat, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return errors.Bindingf("telegram.Write", "%q is not a chat id", address)
	}
	self.mu.Lock()
	b := self.bot
	self.mu.Unlock()
	if b == nil {
		return errors.Transientf("telegram.Write", "not connected")
	}
	if _, err := b.Send(tgbotapi.NewMessage(chat, items.Format(value))); err != nil {
		return errors.Transient("telegram.Write", err)
	}
	return nil
}
