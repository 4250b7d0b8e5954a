package services

import (
	"context"
	"strings"

	"github.com/shng-go/shng/pubsub"
)

type Question struct {
	Verb string
	Args string
	From string
}

type Answer struct {
	Text string
	Json interface{}
}

type QueryHandler func(q Question) Answer

type QueryHandlers map[string]QueryHandler

type Queryable interface {
	ID() string
	QueryHandlers() QueryHandlers
}

// TextHandler adapts a string return value to an Answer
func TextHandler(fn func(q Question) string) QueryHandler {
	return func(q Question) Answer {
		text := fn(q)
		return Answer{Text: text}
	}
}

// StaticHandler just returns a hardcoded string - useful for "help"
func StaticHandler(msg string) QueryHandler {
	return func(_ Question) Answer {
		return Answer{Text: msg}
	}
}

func sendAnswer(request *pubsub.Event, source string, answer Answer) {
	fields := pubsub.Fields{
		"source": source,
		"target": request.StringField("source"),
	}
	if answer.Text != "" {
		fields["message"] = answer.Text
	}
	if answer.Json != nil {
		fields["json"] = answer.Json
	}

	topic := "reply"
	if replyTo := request.StringField("reply_to"); replyTo != "" {
		topic = replyTo
	}
	Publisher.Emit(pubsub.NewEvent(topic, fields))
}

// handleQuery answers "verb args" or "service/verb args" from every matching
// handler.
func handleQuery(ev *pubsub.Event, queryables []Queryable) {
	first, args, _ := strings.Cut(strings.TrimSpace(ev.StringField("query")), " ")
	first = strings.ToLower(first)
	limit, verb, found := strings.Cut(first, "/")
	if !found {
		limit, verb = "", first
	}
	q := Question{Verb: verb, Args: strings.TrimSpace(args), From: ev.Source()}

	for _, service := range queryables {
		if limit != "" && limit != service.ID() {
			continue
		}
		if handler, ok := service.QueryHandlers()[verb]; ok {
			sendAnswer(ev, service.ID(), handler(q))
		}
	}
}

// QuerySubscriber answers query events until ctx is done or the subscription
// is closed.
func QuerySubscriber(ctx context.Context) {
	var queryables []Queryable
	for _, service := range enabled {
		if qs, ok := service.(Queryable); ok {
			queryables = append(queryables, qs)
		}
	}
	if len(queryables) == 0 {
		// no point running if no Queryable services
		return
	}

	ch := Subscriber.Subscribe(pubsub.Exact(pubsub.QueryTopic))
	defer Subscriber.Close(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			handleQuery(ev, queryables)
		}
	}
}
