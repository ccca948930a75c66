package httpengine

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/headerkit/source-agent/internal/httpclient"
	"github.com/headerkit/source-agent/internal/source"
)

// TOTPToken is the reserved token replaced by a freshly computed TOTP code
const TOTPToken = "_TOTP_CODE"

var (
	variablePattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	totpPattern     = regexp.MustCompile(`_TOTP_CODE(?:\(([^)]*)\))?`)
)

type totpParams struct {
	secret string
	period int
	digits int
}

// renderer applies variable and TOTP substitution for one request build.
// Codes are computed once per distinct parameter set.
type renderer struct {
	vars   map[string]string
	secret string
	now    time.Time
	codes  map[totpParams]string
}

func newRenderer(opts source.RequestOptions, now time.Time) *renderer {
	vars := make(map[string]string, len(opts.Variables))
	for _, kv := range opts.Variables {
		if name := strings.TrimSpace(kv.Key); name != "" {
			vars[name] = kv.Value
		}
	}
	return &renderer{
		vars:   vars,
		secret: opts.TOTPSecret,
		now:    now,
		codes:  make(map[totpParams]string),
	}
}

// render substitutes {{name}} variables, then expands TOTP tokens.
// Unknown variables are left in place.
func (r *renderer) render(in string) (string, error) {
	out := variablePattern.ReplaceAllStringFunc(in, func(m string) string {
		name := strings.TrimSpace(m[2 : len(m)-2])
		if v, ok := r.vars[name]; ok {
			return v
		}
		return m
	})

	if !strings.Contains(out, TOTPToken) {
		return out, nil
	}

	var firstErr error
	out = totpPattern.ReplaceAllStringFunc(out, func(m string) string {
		sub := totpPattern.FindStringSubmatch(m)
		params, err := r.parseParams(sub[1])
		if err == nil {
			var code string
			code, err = r.code(params)
			if err == nil {
				return code
			}
		}
		if firstErr == nil {
			firstErr = err
		}
		return m
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func (r *renderer) code(p totpParams) (string, error) {
	if c, ok := r.codes[p]; ok {
		return c, nil
	}
	c, err := GenerateTOTP(p.secret, r.now, p.period, p.digits)
	if err != nil {
		return "", err
	}
	r.codes[p] = c
	return c, nil
}

// parseParams accepts "secret=X,period=60,digits=8" or positional "X,60,8".
// Missing values fall back to the source secret and the defaults.
func (r *renderer) parseParams(raw string) (totpParams, error) {
	p := totpParams{secret: r.secret, period: DefaultTOTPPeriod, digits: DefaultTOTPDigits}

	raw = strings.TrimSpace(raw)
	if raw != "" {
		positional := []string{"secret", "period", "digits"}
		for i, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}

			key, value, named := strings.Cut(part, "=")
			if !named {
				if i >= len(positional) {
					return p, fmt.Errorf("too many %s arguments: %q", TOTPToken, raw)
				}
				key, value = positional[i], part
			}
			key = strings.ToLower(strings.TrimSpace(key))
			value = strings.TrimSpace(value)

			switch key {
			case "secret":
				p.secret = value
			case "period":
				n, err := strconv.Atoi(value)
				if err != nil {
					return p, fmt.Errorf("invalid %s period %q", TOTPToken, value)
				}
				p.period = n
			case "digits":
				n, err := strconv.Atoi(value)
				if err != nil {
					return p, fmt.Errorf("invalid %s digits %q", TOTPToken, value)
				}
				p.digits = n
			default:
				return p, fmt.Errorf("unknown %s parameter %q", TOTPToken, key)
			}
		}
	}

	if strings.TrimSpace(p.secret) == "" {
		return p, fmt.Errorf("%s is used but no TOTP secret is configured", TOTPToken)
	}
	return p, nil
}

// BuildRequest renders desc into a request at time now
func BuildRequest(desc source.Descriptor, now time.Time) (*httpclient.Request, error) {
	r := newRenderer(desc.RequestOptions, now)
	opts := desc.RequestOptions

	rawURL, err := r.render(desc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to render url: %w", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if len(opts.QueryParams) > 0 {
		q := u.Query()
		for _, kv := range opts.QueryParams {
			if strings.TrimSpace(kv.Key) == "" {
				continue
			}
			key, err := r.render(kv.Key)
			if err != nil {
				return nil, fmt.Errorf("failed to render query parameter: %w", err)
			}
			value, err := r.render(kv.Value)
			if err != nil {
				return nil, fmt.Errorf("failed to render query parameter %q: %w", key, err)
			}
			q.Add(key, value)
		}
		u.RawQuery = q.Encode()
	}

	headers := http.Header{}
	for _, kv := range opts.Headers {
		if strings.TrimSpace(kv.Key) == "" {
			continue
		}
		name, err := r.render(kv.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to render header: %w", err)
		}
		value, err := r.render(kv.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to render header %q: %w", name, err)
		}
		headers.Add(strings.TrimSpace(name), value)
	}

	method := desc.Method
	if method == "" {
		method = source.DefaultMethod
	}

	var body []byte
	if opts.Body != "" && method != http.MethodGet && method != http.MethodHead {
		rendered, err := r.render(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to render body: %w", err)
		}
		body = []byte(rendered)
		if opts.ContentType != "" && headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", opts.ContentType)
		}
	}

	return &httpclient.Request{
		Method:  method,
		URL:     u.String(),
		Headers: headers,
		Body:    body,
	}, nil
}
