package event

import "strings"

// TopicFilter matches event topics against a list of topic prefixes. A
// prefix matches the topic itself and anything below it, so "recon.scan"
// matches "recon.scan.started" but not "recon.scanner". An empty filter
// matches everything.
type TopicFilter []string

// ParseFilter splits a comma-separated list of topic prefixes such as
// "recon.scan,control".
func ParseFilter(raw string) TopicFilter {
	var f TopicFilter
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			f = append(f, p)
		}
	}
	return f
}

func (f TopicFilter) Match(topic string) bool {
	if len(f) == 0 {
		return true
	}
	for _, p := range f {
		if topic == p || strings.HasPrefix(topic, p+".") {
			return true
		}
	}
	return false
}
