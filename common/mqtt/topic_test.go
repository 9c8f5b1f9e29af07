package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicMatches(t *testing.T) {
	cases := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"sensor/data", "sensor/data", true},
		{"sensor/data", "sensor/data/extra", false},
		{"sensor/data", "sensor/other", false},
		{"sensor/+/data", "sensor/AA:BB/data", true},
		{"sensor/+/data", "sensor/AA/BB/data", false},
		{"sensor/#", "sensor", true},
		{"sensor/#", "sensor/a/b/c", true},
		{"sensor/#", "other/a", false},
		{"#", "anything/at/all", true},
		{"+", "one", true},
		{"+", "one/two", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, TopicMatches(tc.filter, tc.topic), "filter=%q topic=%q", tc.filter, tc.topic)
	}
}
