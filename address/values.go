package address

import (
	"fmt"

	"github.com/hiagors92/open-filter-challange/types"
)

// FromValue builds an address from a decoded config value: either a plain
// string or a structured source entry of the form
//
//	{source: "file://video.mp4", topic: "main", options: {loop: true}}
func FromValue(v any, role Role) (TopicAddress, error) {
	switch val := v.(type) {
	case string:
		return Parse(val, role)
	case map[string]any:
		raw, _ := val["source"].(string)
		if raw == "" {
			return TopicAddress{}, types.ConfigError("%s entry: source is required", role)
		}
		a, err := Parse(raw, role)
		if err != nil {
			return TopicAddress{}, err
		}
		if t, ok := val["topic"]; ok {
			topic, _ := t.(string)
			if topic == "" {
				return TopicAddress{}, types.ConfigError("%s %q: topic must be a non-empty string", role, raw)
			}
			a.Topic = topic
		}
		if opts, ok := val["options"].(map[string]any); ok && len(opts) > 0 {
			merged := make(map[string]string, len(a.Options)+len(opts))
			for k, o := range a.Options {
				merged[k] = o
			}
			for k, o := range opts {
				merged[k] = fmt.Sprint(o)
			}
			a.Options = merged
		}
		return a, nil
	default:
		return TopicAddress{}, types.ConfigError("%s entry: unsupported value of type %T", role, v)
	}
}

// ParseList decodes a config value holding zero or more addresses. A single
// string is accepted as a one-element list.
func ParseList(v any, role Role) ([]TopicAddress, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		a, err := Parse(val, role)
		if err != nil {
			return nil, err
		}
		return []TopicAddress{a}, nil
	case []string:
		out := make([]TopicAddress, 0, len(val))
		for _, s := range val {
			a, err := Parse(s, role)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		return out, nil
	case []any:
		out := make([]TopicAddress, 0, len(val))
		for _, item := range val {
			a, err := FromValue(item, role)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
		return out, nil
	default:
		return nil, types.ConfigError("%ss: expected a list, got %T", role, v)
	}
}
