package hub

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidConnectionString is returned when a hub connection string lacks
// an endpoint or access key.
var ErrInvalidConnectionString = errors.New("invalid hub connection string")

// ConnectionString is a parsed "Endpoint=...;AccessKey=...;Version=1.0;" value.
type ConnectionString struct {
	Endpoint  string
	AccessKey string
	Version   string
}

// ParseConnectionString parses semicolon separated key=value pairs. Keys are
// case-insensitive and unknown keys are ignored.
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionString{}, fmt.Errorf("%w: malformed segment %q", ErrInvalidConnectionString, part)
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "endpoint":
			cs.Endpoint = strings.TrimRight(strings.TrimSpace(value), "/")
		case "accesskey":
			cs.AccessKey = strings.TrimSpace(value)
		case "version":
			cs.Version = strings.TrimSpace(value)
		}
	}
	if cs.Endpoint == "" {
		return ConnectionString{}, fmt.Errorf("%w: missing Endpoint", ErrInvalidConnectionString)
	}
	if cs.AccessKey == "" {
		return ConnectionString{}, fmt.Errorf("%w: missing AccessKey", ErrInvalidConnectionString)
	}
	u, err := url.Parse(cs.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ConnectionString{}, fmt.Errorf("%w: endpoint %q is not an absolute URL", ErrInvalidConnectionString, cs.Endpoint)
	}
	return cs, nil
}

// ClientURL is the URL clients of hubName connect to.
func (cs ConnectionString) ClientURL(hubName string) string {
	return fmt.Sprintf("%s/client/?hub=%s", cs.Endpoint, url.QueryEscape(strings.ToLower(hubName)))
}
