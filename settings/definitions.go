package settings

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/spf13/cast"

	"github.com/xraph/flowbridge/gate"
)

type definition struct {
	Default     any
	Description string
	normalize   func(any) (any, error)
}

var definitions = map[string]definition{
	WebhookURL: {
		Default:     "",
		Description: "Automation webhook URL. Empty disables sending.",
		normalize:   normalizeURL,
	},
	AllowedStatuses: {
		Default:     slices.Clone(gate.DefaultAllowedStatuses),
		Description: "Booking status ids that trigger delivery.",
		normalize:   normalizeStatuses,
	},
	AllowAllStatuses: {
		Default:     false,
		Description: "Deliver bookings of every status.",
		normalize:   normalizeBool,
	},
	RetryAttempts: {
		Default:     3,
		Description: "HTTP attempts per delivery.",
		normalize:   intBetween(1, 10),
	},
	RetryDelay: {
		Default:     5,
		Description: "Seconds between HTTP attempts.",
		normalize:   intBetween(0, 300),
	},
	RequestTimeout: {
		Default:     30,
		Description: "Seconds before a single HTTP attempt times out.",
		normalize:   intBetween(1, 300),
	},
	LoggingEnabled: {
		Default:     true,
		Description: "Write bridge logs.",
		normalize:   normalizeBool,
	},
	LogLevel: {
		Default:     "info",
		Description: "Minimum log level: debug, info, warning or error.",
		normalize:   normalizeLevel,
	},
	DebugOutputMethod: {
		Default:     OutputConsole,
		Description: "Where built payloads are shown: console, admin_page or both.",
		normalize:   oneOf(OutputConsole, OutputAdminPage, OutputBoth),
	},
	ContextPrefix: {
		Default:     "crbs",
		Description: "Prefix of the booking plugin's metadata keys.",
		normalize:   normalizeString,
	},
	ForceResend: {
		Default:     false,
		Description: "Resend on every update even when already sent.",
		normalize:   normalizeBool,
	},
	WebhookSecret: {
		Default:     "",
		Description: "Optional HMAC secret used to sign outbound requests.",
		normalize:   normalizeString,
	},
	RateLimit: {
		Default:     0,
		Description: "Maximum webhook requests per second, 0 for no limit.",
		normalize:   intBetween(0, 1000),
	},
}

// resolve normalizes a stored value. Unset or corrupt values read as the
// default.
func (d definition) resolve(v any, found bool) (any, error) {
	if found && v != nil {
		if norm, err := d.normalize(v); err == nil {
			return norm, nil
		}
	}
	return d.normalize(d.Default)
}

// Describe returns the description of name.
func Describe(name string) string {
	return definitions[name].Description
}

func normalizeString(v any) (any, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(s), nil
}

func normalizeURL(v any) (any, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%q is not an http(s) URL", s)
	}
	return s, nil
}

func normalizeBool(v any) (any, error) {
	return cast.ToBoolE(v)
}

func normalizeStatuses(v any) (any, error) {
	if s, ok := v.(string); ok {
		parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
		v = parts
	}
	ids, err := cast.ToIntSliceE(v)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(ids))
	for _, n := range ids {
		if n <= 0 {
			return nil, fmt.Errorf("status id %d must be positive", n)
		}
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return out, nil
}

func normalizeLevel(v any) (any, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	switch s = strings.ToLower(strings.TrimSpace(s)); s {
	case "debug", "info", "warning", "error":
		return s, nil
	case "warn":
		return "warning", nil
	}
	return nil, fmt.Errorf("unknown log level %q", s)
}

func intBetween(lo, hi int) func(any) (any, error) {
	return func(v any) (any, error) {
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			return nil, err
		}
		if n < lo || n > hi {
			return nil, fmt.Errorf("%d outside [%d, %d]", n, lo, hi)
		}
		return n, nil
	}
}

func oneOf(allowed ...string) func(any) (any, error) {
	return func(v any) (any, error) {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if !slices.Contains(allowed, s) {
			return nil, errors.New("must be one of " + strings.Join(allowed, ", "))
		}
		return s, nil
	}
}
