package effects

import (
	"strconv"
	"strings"

	"github.com/samber/lo"
)

const (
	randomToken   = "random"
	maxRandom     = 5
	openDelimiter = "{"
	closeDelim    = "}"
)

// clip keys accepted in key=value mode
var (
	startKeys    = map[string]bool{"start": true, "ss": true}
	durationKeys = map[string]bool{"duration": true, "t": true}
)

// Sampler picks n distinct names from pool
type Sampler func(pool []string, n int) []string

func defaultSampler(pool []string, n int) []string {
	return lo.Samples(pool, n)
}

// Parser turns `{...}` filter text into a Spec
type Parser struct {
	registry *Registry
	sample   Sampler
}

// ParserOption configures a Parser
type ParserOption func(*Parser)

// WithSampler replaces the random effect sampler
func WithSampler(s Sampler) ParserOption {
	return func(p *Parser) {
		p.sample = s
	}
}

// NewParser creates a parser bound to a registry
func NewParser(registry *Registry, opts ...ParserOption) *Parser {
	p := &Parser{
		registry: registry,
		sample:   defaultSampler,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the registry the parser resolves against
func (p *Parser) Registry() *Registry {
	return p.registry
}

// Parse parses filter text. `random` draws from the audio and video catalogs.
// Unknown effect names are returned as warnings alongside a usable spec.
func (p *Parser) Parse(text string) (*Spec, []error, error) {
	return p.parse(text, p.registry.Names(KindAudio, KindVideo))
}

// ParseFor parses filter text for a known asset type. For audio-only assets
// `random` draws only from the audio catalog.
func (p *Parser) ParseFor(text string, isVideo bool) (*Spec, []error, error) {
	if isVideo {
		return p.Parse(text)
	}
	return p.parse(text, p.registry.Names(KindAudio))
}

type segment struct {
	sep   byte
	token string
}

func (p *Parser) parse(text string, randomPool []string) (*Spec, []error, error) {
	content, err := unwrap(text)
	if err != nil {
		return nil, nil, err
	}

	rest, randomCount, err := extractRandom(content)
	if err != nil {
		return nil, nil, err
	}

	spec := &Spec{}
	var warnings []error

	switch {
	case rest == "":
		// only random tokens
	case !strings.Contains(rest, "="):
		tokens := splitTopLevel(rest, ',', '+')
		if len(tokens) == 1 {
			name := strings.TrimSpace(tokens[0].token)
			if _, known := p.registry.Resolve(name); !known && randomCount == 0 {
				spec.Raw = name
				break
			}
		}
		for _, seg := range tokens {
			name := strings.TrimSpace(seg.token)
			if name == "" {
				return nil, nil, syntaxError("empty effect name in %q", content)
			}
			inv, warn, err := p.resolve(name, nil)
			if err != nil {
				return nil, nil, err
			}
			if warn != nil {
				warnings = append(warnings, warn)
				continue
			}
			spec.Effects = append(spec.Effects, inv)
		}
	default:
		for _, seg := range splitTopLevel(rest, ',') {
			token := strings.TrimSpace(seg.token)
			if token == "" {
				return nil, nil, syntaxError("empty entry in %q", content)
			}
			key, raw, hasValue := strings.Cut(token, "=")
			key = strings.ToLower(strings.TrimSpace(key))
			raw = strings.TrimSpace(raw)
			if key == "" {
				return nil, nil, syntaxError("missing effect name before '=' in %q", token)
			}
			if hasValue && raw == "" {
				return nil, nil, syntaxError("missing value for %q", key)
			}

			if startKeys[key] || durationKeys[key] {
				if err := applyClipKey(spec, key, raw); err != nil {
					return nil, nil, err
				}
				continue
			}

			var value *Value
			if hasValue {
				value = parseValue(raw)
			}
			inv, warn, err := p.resolve(key, value)
			if err != nil {
				return nil, nil, err
			}
			if warn != nil {
				warnings = append(warnings, warn)
				continue
			}
			spec.Effects = append(spec.Effects, inv)
		}
	}

	if randomCount > 0 {
		if spec.Raw != "" {
			return nil, nil, syntaxError("random cannot be combined with a raw filter graph")
		}
		pool := lo.Without(randomPool, spec.Names()...)
		for _, name := range p.sample(pool, randomCount) {
			inv, _, err := p.resolve(name, nil)
			if err != nil {
				return nil, nil, err
			}
			spec.Effects = append(spec.Effects, inv)
		}
	}

	if err := spec.Validate(); err != nil {
		return nil, nil, err
	}
	return spec, warnings, nil
}

// resolve returns an invocation, or a warning for unknown names, or an error
// when the value fails the effect's validator.
func (p *Parser) resolve(name string, value *Value) (Invocation, error, error) {
	def, ok := p.registry.Lookup(name)
	if !ok {
		return Invocation{}, &UnknownEffectError{Name: strings.ToLower(name)}, nil
	}
	if !def.Validate(value) {
		if value == nil {
			return Invocation{}, nil, syntaxError("effect %q requires a value", def.Name)
		}
		return Invocation{}, nil, syntaxError("invalid value %q for effect %q", value.String(), def.Name)
	}
	return Invocation{
		Name:   def.Name,
		Value:  value,
		Kind:   def.Type,
		Effect: def,
	}, nil, nil
}

func applyClipKey(spec *Spec, key, raw string) error {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return syntaxError("%s must be a non-negative number of seconds, got %q", key, raw)
	}
	if spec.Clip == nil {
		spec.Clip = &ClipWindow{}
	}
	if startKeys[key] {
		spec.Clip.Start = f
	} else {
		spec.Clip.Duration = f
	}
	return nil
}

func unwrap(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, openDelimiter) {
		return "", syntaxError("filter must start with %q", openDelimiter)
	}
	if !strings.HasSuffix(trimmed, closeDelim) || len(trimmed) < 2 {
		return "", syntaxError("filter must end with %q", closeDelim)
	}
	content := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	if content == "" {
		return "", syntaxError("empty filter")
	}

	depth := 0
	for _, r := range content {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return "", syntaxError("unbalanced parentheses")
			}
		}
	}
	if depth != 0 {
		return "", syntaxError("unbalanced parentheses")
	}
	return content, nil
}

// extractRandom removes `random` / `random=N` tokens and returns the remaining
// content with its original separators plus the number of effects to draw.
func extractRandom(content string) (string, int, error) {
	segments := splitTopLevel(content, ',', '+')
	found := false
	count := 0
	var kept []segment

	for _, seg := range segments {
		token := strings.ToLower(strings.TrimSpace(seg.token))
		if token == randomToken {
			found = true
			count++
			continue
		}
		if n, ok := strings.CutPrefix(token, randomToken+"="); ok {
			v, err := strconv.Atoi(strings.TrimSpace(n))
			if err != nil {
				return "", 0, syntaxError("random count must be an integer, got %q", n)
			}
			found = true
			count += max(v, 1)
			continue
		}
		kept = append(kept, seg)
	}

	if !found {
		return content, 0, nil
	}

	var b strings.Builder
	for i, seg := range kept {
		if i > 0 {
			b.WriteByte(seg.sep)
		}
		b.WriteString(seg.token)
	}
	return strings.TrimSpace(b.String()), min(count, maxRandom), nil
}

// splitTopLevel splits on any of seps outside parentheses and single quotes.
// Each segment records the separator that preceded it.
func splitTopLevel(s string, seps ...byte) []segment {
	var out []segment
	depth := 0
	quoted := false
	start := 0
	var prev byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			quoted = !quoted
		case quoted:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && lo.Contains(seps, c):
			out = append(out, segment{sep: prev, token: s[start:i]})
			prev = c
			start = i + 1
		}
	}
	return append(out, segment{sep: prev, token: s[start:]})
}
