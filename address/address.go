// Package address parses and compares the topic addresses that bind stage
// outputs to stage inputs.
package address

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hiagors92/open-filter-challange/types"
)

// Transport names the carrier used by an address.
type Transport string

const (
	TCP    Transport = "tcp"
	File   Transport = "file"
	InProc Transport = "inproc"
)

// BindMode says whether an endpoint is opened for listening or dialed.
type BindMode string

const (
	Bind    BindMode = "bind"
	Connect BindMode = "connect"
)

// Role says which side of a stage an address is declared on. It only
// affects defaults.
type Role int

const (
	Input Role = iota
	Output
)

func (r Role) String() string {
	if r == Output {
		return "output"
	}
	return "input"
}

// DefaultTopic is used when an address names no topic.
const DefaultTopic = "main"

// TopicAddress is an endpoint expression plus topic label. Values are
// immutable after Parse; Options must not be modified by callers.
type TopicAddress struct {
	Transport Transport
	Endpoint  string
	Topic     string
	BindMode  BindMode
	Options   map[string]string
}

// Parse parses the textual form transport://endpoint[;topic][?k=v&...].
func Parse(raw string, role Role) (TopicAddress, error) {
	s := strings.TrimSpace(raw)
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return TopicAddress{}, types.ConfigError("address %q: missing transport scheme", raw)
	}

	a := TopicAddress{Transport: Transport(strings.ToLower(scheme)), Topic: DefaultTopic}

	if before, query, found := strings.Cut(rest, "?"); found {
		rest = before
		values, err := url.ParseQuery(query)
		if err != nil {
			return TopicAddress{}, types.ConfigError("address %q: bad options: %v", raw, err)
		}
		a.Options = make(map[string]string, len(values))
		for k := range values {
			a.Options[k] = values.Get(k)
		}
	}

	if before, topic, found := strings.Cut(rest, ";"); found {
		if strings.TrimSpace(topic) == "" {
			return TopicAddress{}, types.ConfigError("address %q: topic must be a non-empty string", raw)
		}
		rest, a.Topic = before, topic
	}
	a.Endpoint = rest

	mode := BindMode(a.Options["mode"])
	if mode != "" && mode != Bind && mode != Connect {
		return TopicAddress{}, types.ConfigError("address %q: mode must be bind or connect, got %q", raw, mode)
	}
	delete(a.Options, "mode")

	switch a.Transport {
	case TCP:
		host, port, err := splitHostPort(a.Endpoint)
		if err != nil {
			return TopicAddress{}, types.ConfigError("address %q: %v", raw, err)
		}
		if mode == "" {
			mode = Connect
			if isWildcard(host) {
				mode = Bind
			}
		}
		a.Endpoint = net.JoinHostPort(host, strconv.Itoa(port))
	case File:
		if strings.TrimSpace(a.Endpoint) == "" {
			return TopicAddress{}, types.ConfigError("address %q: file path is required", raw)
		}
		if mode == "" {
			mode = defaultMode(role)
		}
	case InProc:
		if strings.TrimSpace(a.Endpoint) == "" {
			return TopicAddress{}, types.ConfigError("address %q: inproc name is required", raw)
		}
		if mode == "" {
			mode = defaultMode(role)
		}
	default:
		return TopicAddress{}, types.ConfigError("address %q: unsupported transport %q (known: tcp, file, inproc)", raw, scheme)
	}
	a.BindMode = mode

	if len(a.Options) == 0 {
		a.Options = nil
	}
	return a, nil
}

// MustParse is like Parse but panics on error. Intended for tests and static tables.
func MustParse(raw string, role Role) TopicAddress {
	a, err := Parse(raw, role)
	if err != nil {
		panic(err)
	}
	return a
}

func defaultMode(role Role) BindMode {
	if role == Output {
		return Bind
	}
	return Connect
}

func splitHostPort(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, fmt.Errorf("endpoint must be host:port: %w", err)
	}
	if host == "" {
		host = "*"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("port %q out of range 1-65535", portStr)
	}
	return host, port, nil
}

func isWildcard(host string) bool {
	return host == "*" || host == "0.0.0.0" || host == "::"
}

func isLocal(host string) bool {
	switch host {
	case "*", "0.0.0.0", "::", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Host returns the tcp host, or "" for other transports.
func (a TopicAddress) Host() string {
	if a.Transport != TCP {
		return ""
	}
	host, _, _ := net.SplitHostPort(a.Endpoint)
	return host
}

// Port returns the tcp port, or 0 for other transports.
func (a TopicAddress) Port() int {
	if a.Transport != TCP {
		return 0
	}
	_, p, _ := net.SplitHostPort(a.Endpoint)
	port, _ := strconv.Atoi(p)
	return port
}

// ListenAddr is the address handed to net.Listen for a bind-mode tcp endpoint.
func (a TopicAddress) ListenAddr() string {
	host := a.Host()
	if host == "*" {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(a.Port()))
}

// DialAddr is the address handed to net.Dial for a connect-mode tcp endpoint.
func (a TopicAddress) DialAddr() string {
	host := a.Host()
	if isWildcard(host) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(a.Port()))
}

// Endpoint key shared by every address that refers to the same carrier,
// regardless of topic.
func (a TopicAddress) EndpointKey() string {
	switch a.Transport {
	case TCP:
		if isLocal(a.Host()) {
			return fmt.Sprintf("tcp://local:%d", a.Port())
		}
		return "tcp://" + a.Endpoint
	case File:
		return "file://" + filepath.Clean(a.Endpoint)
	default:
		return string(a.Transport) + "://" + a.Endpoint
	}
}

// Key identifies the stream an address refers to. Two addresses with equal
// keys agree on transport, endpoint and topic.
func (a TopicAddress) Key() string {
	return a.EndpointKey() + ";" + a.Topic
}

// IsExternal reports whether an input address is fed from outside the
// pipeline: local files and remote tcp hosts.
func (a TopicAddress) IsExternal() bool {
	switch a.Transport {
	case File:
		return true
	case TCP:
		return !isLocal(a.Host())
	}
	return false
}

// Option returns the named option value.
func (a TopicAddress) Option(name string) string {
	return a.Options[name]
}

// BoolOption interprets the named option as a boolean.
func (a TopicAddress) BoolOption(name string) bool {
	v, err := strconv.ParseBool(a.Options[name])
	return err == nil && v
}

// String renders the address back to its textual form.
func (a TopicAddress) String() string {
	var b strings.Builder
	b.WriteString(string(a.Transport))
	b.WriteString("://")
	b.WriteString(a.Endpoint)
	if a.Topic != "" && a.Topic != DefaultTopic {
		b.WriteString(";")
		b.WriteString(a.Topic)
	}
	if len(a.Options) > 0 {
		keys := make([]string, 0, len(a.Options))
		for k := range a.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := url.Values{}
		for _, k := range keys {
			vals.Set(k, a.Options[k])
		}
		b.WriteString("?")
		b.WriteString(vals.Encode())
	}
	return b.String()
}
