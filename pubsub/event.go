package pubsub

import (
	"encoding/json"
	"strings"
	"time"
)

type Fields map[string]interface{}

// Event on the message bus. It travels as a JSON object of its fields plus
// topic and timestamp.
type Event struct {
	Topic     string
	Timestamp time.Time
	Retained  bool
	Fields    Fields
}

const (
	// item/<path> carries the new value of an item.
	ItemTopic = "item"
	// set/<path> asks for an item to be set.
	SetTopic = "set"
	// query carries a question for the Queryable services.
	QueryTopic = "query"
)

const TimeFormat = "2006-01-02 15:04:05.000"

func NewEvent(topic string, fields Fields) *Event {
	if fields == nil {
		fields = Fields{}
	}
	timestamp := time.Now().UTC()
	if ts, ok := fields["timestamp"].(string); ok {
		delete(fields, "timestamp")
		timestamp, _ = time.Parse(TimeFormat, ts)
	}
	return &Event{Topic: topic, Timestamp: timestamp, Fields: fields}
}

// NewItemEvent announces an item value. It is retained so late subscribers see
// the current value.
func NewItemEvent(path string, value interface{}, caller string) *Event {
	ev := NewEvent(ItemTopic+"/"+path, Fields{"value": value, "caller": caller})
	ev.Retained = true
	return ev
}

func NewSet(path string, value interface{}) *Event {
	return NewEvent(SetTopic+"/"+path, Fields{"value": value})
}

func NewQuery(query, source string) *Event {
	return NewEvent(QueryTopic, Fields{"query": query, "source": source})
}

func (event *Event) Map() map[string]interface{} {
	data := make(map[string]interface{})
	data["topic"] = event.Topic
	data["timestamp"] = event.Timestamp.Format(TimeFormat)
	for k, v := range event.Fields {
		data[k] = v
	}
	return data
}

func (event *Event) Bytes() []byte {
	v, _ := json.Marshal(event.Map())
	return v
}

func (event *Event) String() string {
	return string(event.Bytes())
}

func (event *Event) StringField(name string) string {
	ret, _ := event.Fields[name].(string)
	return ret
}

func (event *Event) SetField(name string, value interface{}) {
	event.Fields[name] = value
}

// Path is the topic below its first level: the item path of item and set
// events.
func (event *Event) Path() string {
	_, path, _ := strings.Cut(event.Topic, "/")
	return path
}

func (event *Event) Value() interface{} {
	return event.Fields["value"]
}

func (event *Event) Source() string {
	return event.StringField("source")
}

// Parse a JSON message. The topic field of the message wins over the topic it
// arrived on.
func Parse(msg string, topic string) *Event {
	var fields map[string]interface{}
	err := json.Unmarshal([]byte(msg), &fields)
	if err != nil {
		return nil
	}
	if t, ok := fields["topic"].(string); ok {
		topic = t
	}
	if topic == "" {
		return nil
	}
	delete(fields, "topic")
	return NewEvent(topic, fields)
}
