package registry

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

func cloneHeader(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string][]string, len(header))
	for key, values := range header {
		if strings.EqualFold(key, "Authorization") {
			out[key] = []string{"<redacted>"}
			continue
		}
		copied := make([]string, len(values))
		copy(copied, values)
		out[key] = copied
	}
	return out
}

func resolveURL(base *url.URL, p string, query url.Values) string {
	resolved := *base
	resolved.Path = strings.TrimSuffix(resolved.Path, "/") + p
	resolved.RawPath = ""
	if query != nil {
		resolved.RawQuery = query.Encode()
	} else {
		resolved.RawQuery = ""
	}
	return resolved.String()
}

func resolveNextURL(base *url.URL, next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return ""
	}
	parsed, err := url.Parse(next)
	if err != nil || parsed.IsAbs() || parsed.Host != "" {
		return next
	}
	if base == nil {
		return next
	}
	return base.ResolveReference(parsed).String()
}

// sameOrigin reports whether raw points at base's scheme and host.
func sameOrigin(base *url.URL, raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil || base == nil {
		return false
	}
	return strings.EqualFold(parsed.Scheme, base.Scheme) && strings.EqualFold(parsed.Host, base.Host)
}

var errInvalidLink = errors.New("invalid Link header")

// nextLink extracts the rel="next" target from Link headers. An absent header
// or one without a next relation yields "".
func nextLink(header http.Header) (string, error) {
	values := header.Values("Link")
	if len(values) == 0 {
		return "", nil
	}
	for _, value := range values {
		for _, part := range splitLinkValues(value) {
			target, params, err := parseLinkValue(part)
			if err != nil {
				return "", err
			}
			for _, rel := range strings.Fields(params["rel"]) {
				if strings.EqualFold(rel, "next") {
					return target, nil
				}
			}
		}
	}
	return "", nil
}

// splitLinkValues splits a header on commas that are outside <...> and quotes.
func splitLinkValues(value string) []string {
	var parts []string
	var inAngle, inQuote bool
	start := 0
	for i, r := range value {
		switch {
		case r == '"' && !inAngle:
			inQuote = !inQuote
		case r == '<' && !inQuote:
			inAngle = true
		case r == '>' && !inQuote:
			inAngle = false
		case r == ',' && !inAngle && !inQuote:
			parts = append(parts, value[start:i])
			start = i + 1
		}
	}
	parts = append(parts, value[start:])
	return parts
}

func parseLinkValue(value string) (string, map[string]string, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "<") {
		return "", nil, errInvalidLink
	}
	end := strings.Index(value, ">")
	if end < 0 {
		return "", nil, errInvalidLink
	}
	target := strings.TrimSpace(value[1:end])
	if target == "" {
		return "", nil, errInvalidLink
	}

	params := make(map[string]string)
	for _, segment := range strings.Split(value[end+1:], ";") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		kv := strings.SplitN(segment, "=", 2)
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		if len(kv) == 1 {
			params[key] = ""
			continue
		}
		params[key] = strings.Trim(strings.TrimSpace(kv[1]), `"`)
	}
	return target, params, nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
