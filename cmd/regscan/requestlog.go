package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/scottbass3/regscan/internal/registry"
)

// makeRequestLogger feeds the browser's request panel. Entries are dropped
// rather than blocking a request when the panel falls behind.
func makeRequestLogger(ch chan<- string) registry.RequestLogger {
	return func(log registry.RequestLog) {
		select {
		case ch <- formatRequestLog(log):
		default:
		}
	}
}

func formatRequestLog(log registry.RequestLog) string {
	var b strings.Builder
	b.WriteString(log.Method)
	b.WriteString(" ")
	b.WriteString(log.URL)
	switch {
	case log.Err != nil:
		fmt.Fprintf(&b, " -> error: %v", log.Err)
	case log.Status > 0:
		fmt.Fprintf(&b, " -> %d", log.Status)
	}
	if log.Duration > 0 {
		fmt.Fprintf(&b, " (%s)", log.Duration.Round(time.Millisecond))
	}
	if len(log.Headers) == 0 {
		return b.String()
	}

	b.WriteString(" | ")
	keys := make([]string, 0, len(log.Headers))
	for key := range log.Headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(strings.Join(log.Headers[key], ","))
	}
	return b.String()
}
