package pubsub

import "strings"

type PrefixTopic struct {
	Prefix string
}

func Prefix(prefix string) *PrefixTopic {
	return &PrefixTopic{prefix}
}

func (t *PrefixTopic) Match(topic string) bool {
	return t.Prefix == topic || strings.HasPrefix(topic, t.Prefix+"/")
}

type AllTopic struct{}

func All() *AllTopic {
	return &AllTopic{}
}

func (t *AllTopic) Match(topic string) bool {
	return true
}

type ExactTopic struct {
	Exact string
}

func Exact(exact string) *ExactTopic {
	return &ExactTopic{exact}
}

func (t *ExactTopic) Match(topic string) bool {
	return t.Exact == topic
}

// PatternTopic matches MQTT style filters: + matches one level, a trailing #
// matches the rest (including nothing).
type PatternTopic struct {
	Pattern string
}

func Pattern(pattern string) *PatternTopic {
	return &PatternTopic{pattern}
}

func (t *PatternTopic) Match(topic string) bool {
	want := strings.Split(t.Pattern, "/")
	got := strings.Split(topic, "/")
	for i, w := range want {
		if w == "#" {
			return true
		}
		if i >= len(got) || (w != "+" && w != got[i]) {
			return false
		}
	}
	return len(want) == len(got)
}
