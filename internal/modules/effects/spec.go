package effects

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind classifies which streams an effect operates on
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
	KindComplex
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// RequiresVideo reports whether the effect is illegal on an audio-only asset
func (k Kind) RequiresVideo() bool {
	return k == KindVideo || k == KindComplex
}

// Value is the optional scalar argument of an effect invocation.
// Text that parses as a number is stored as a number.
type Value struct {
	Number   float64
	Text     string
	IsNumber bool
}

// NumberValue creates a numeric value
func NumberValue(f float64) *Value {
	return &Value{Number: f, IsNumber: true}
}

// TextValue creates a string value
func TextValue(s string) *Value {
	return &Value{Text: s}
}

func parseValue(raw string) *Value {
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return NumberValue(f)
	}
	return TextValue(raw)
}

func (v *Value) String() string {
	if v == nil {
		return ""
	}
	if v.IsNumber {
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	}
	return v.Text
}

// Invocation is one resolved effect in a stacked filter spec
type Invocation struct {
	Name   string
	Value  *Value
	Kind   Kind
	Effect Effect
}

// Fragment generates the filter-graph fragment for this invocation
func (i Invocation) Fragment() string {
	return i.Effect.Apply(i.Value)
}

// SilentFragment generates the video-only fragment used when the input has
// no audio stream. It reports false when the effect has no such variant.
func (i Invocation) SilentFragment() (string, bool) {
	if silent, ok := i.Effect.(SilentEffect); ok {
		return silent.ApplySilent(i.Value)
	}
	return "", false
}

func (i Invocation) String() string {
	if i.Value == nil {
		return i.Name
	}
	return i.Name + "=" + i.Value.String()
}

// ClipWindow selects a portion of the input. A zero Duration means "until the end".
type ClipWindow struct {
	Start    float64
	Duration float64
}

// IsNoop reports whether applying the window would change nothing
func (c *ClipWindow) IsNoop() bool {
	return c == nil || (c.Start <= 0 && c.Duration <= 0)
}

// Spec is a parsed filter specification. It is either stacked (Effects, plus an
// optional Clip) or raw (a single opaque filter-graph string), never both.
type Spec struct {
	Effects []Invocation
	Clip    *ClipWindow
	Raw     string
}

// IsRaw reports whether the spec carries a raw filter graph
func (s *Spec) IsRaw() bool {
	return s != nil && s.Raw != ""
}

// Empty reports whether the spec would not touch the input at all
func (s *Spec) Empty() bool {
	return s == nil || (s.Raw == "" && len(s.Effects) == 0 && s.Clip.IsNoop())
}

// Validate checks that stacked and raw modes are not mixed
func (s *Spec) Validate() error {
	if s == nil {
		return nil
	}
	if s.Raw != "" && len(s.Effects) > 0 {
		return fmt.Errorf("%w: raw filter graph cannot be combined with named effects", ErrInvalidFilterSyntax)
	}
	if s.Clip != nil && (s.Clip.Start < 0 || s.Clip.Duration < 0) {
		return fmt.Errorf("%w: clip window must not be negative", ErrInvalidFilterSyntax)
	}
	return nil
}

// Names returns the effect names in application order
func (s *Spec) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.Effects))
	for i, inv := range s.Effects {
		names[i] = inv.Name
	}
	return names
}

func (s *Spec) String() string {
	if s == nil {
		return "{}"
	}
	if s.Raw != "" {
		return "{" + s.Raw + "}"
	}
	parts := make([]string, len(s.Effects))
	for i, inv := range s.Effects {
		parts[i] = inv.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}
