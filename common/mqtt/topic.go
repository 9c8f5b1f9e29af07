package mqtt

import "strings"

// TopicMatches reports whether topic matches the subscription filter,
// honouring the single-level (+) and multi-level (#) wildcards.
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")

	for i, f := range fp {
		if f == "#" {
			// '#' must be last and also matches the parent level
			return i == len(fp)-1
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
