package resolver

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/rbaprobe/api/schemas"
)

// Scope says where a strategy looks. It is one of TopPage, NamedFrame,
// FrameByURLSubstring or FreeTextMatch.
type Scope interface {
	fmt.Stringer
	isScope()
}

// TopPage evaluates the selector against the top-level document.
type TopPage struct{}

// NamedFrame evaluates the selector inside the first iframe whose id or name
// matches Pattern. "#id" and "[name=...]" forms are accepted too.
type NamedFrame struct {
	Pattern string
}

// FrameByURLSubstring evaluates the selector inside the first iframe whose src
// contains Pattern.
type FrameByURLSubstring struct {
	Pattern string
}

// FreeTextMatch searches links, buttons and labels of the top document by
// visible text. The strategy's Selector is ignored.
type FreeTextMatch struct {
	Label string
}

func (TopPage) isScope()             {}
func (NamedFrame) isScope()          {}
func (FrameByURLSubstring) isScope() {}
func (FreeTextMatch) isScope()       {}

func (TopPage) String() string               { return "top" }
func (s NamedFrame) String() string          { return "frame(" + s.Pattern + ")" }
func (s FrameByURLSubstring) String() string { return "frame(src~" + s.Pattern + ")" }
func (s FreeTextMatch) String() string       { return "text(" + strconv.Quote(s.Label) + ")" }

// matches reports whether f satisfies the frame pattern.
func (s NamedFrame) matches(f schemas.Frame) bool {
	p := s.Pattern
	switch {
	case p == "":
		return false
	case f.ID != "" && (p == f.ID || p == "#"+f.ID):
		return true
	case f.Name != "" && (p == f.Name || p == "[name="+f.Name+"]" || p == `[name="`+f.Name+`"]`):
		return true
	}
	return false
}

func (s FrameByURLSubstring) matches(f schemas.Frame) bool {
	return s.Pattern != "" && strings.Contains(f.Src, s.Pattern)
}

// PreAction is clicked, in the strategy's scope, before the main selector is
// evaluated. A missing pre-action element does not fail the strategy.
type PreAction struct {
	Selector string
	// Settle is waited after the click so the scope can re-render.
	Settle time.Duration
	// Timeout bounds the pre-action lookup. Zero means half the strategy timeout.
	Timeout time.Duration
}

// Strategy is one declared way to locate a semantic target.
type Strategy struct {
	Scope     Scope
	Selector  string
	Timeout   time.Duration
	PreAction *PreAction
}

// String renders the strategy for logs and attempt traces.
func (s Strategy) String() string {
	var b strings.Builder
	if s.Scope == nil {
		b.WriteString("top")
	} else {
		b.WriteString(s.Scope.String())
	}
	if _, ok := s.Scope.(FreeTextMatch); !ok {
		b.WriteString(" ")
		b.WriteString(strconv.Quote(s.Selector))
	}
	if s.PreAction != nil {
		b.WriteString(" after ")
		b.WriteString(strconv.Quote(s.PreAction.Selector))
	}
	return b.String()
}

// Outcome classifies a single strategy attempt.
type Outcome int

const (
	// Found means the strategy produced a visible element.
	Found Outcome = iota
	// NotFound means the scope or the selector had no visible match.
	NotFound
	// Timeout means the strategy's own timeout expired.
	Timeout
	// Fault is any other runtime failure, including a recovered panic.
	Fault
	// BudgetExhausted marks strategies skipped because the overall budget ran out.
	BudgetExhausted
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Timeout:
		return "timeout"
	case Fault:
		return "fault"
	case BudgetExhausted:
		return "budget_exhausted"
	default:
		return "unknown"
	}
}

// Attempt is one entry of a resolution trace.
type Attempt struct {
	Strategy Strategy
	Outcome  Outcome
	Err      error
	Elapsed  time.Duration
}

// Result is the value returned by every resolution. A failed resolution is a
// normal Result with Found false, never an error.
type Result struct {
	Target string
	Found  bool
	Frame  *schemas.Frame
	Handle schemas.ElementHandle
	// StrategyIndex is the 0-based index of the winning strategy, or -1.
	StrategyIndex int
	Trace         []Attempt

	// interrupted is set when the resolving caller's context ended the run.
	interrupted bool
}

// Attempted counts the strategies that were actually evaluated.
func (r Result) Attempted() int {
	n := 0
	for _, a := range r.Trace {
		if a.Outcome != BudgetExhausted {
			n++
		}
	}
	return n
}

// Outcomes lists the outcome of each trace entry in order.
func (r Result) Outcomes() []Outcome {
	out := make([]Outcome, len(r.Trace))
	for i, a := range r.Trace {
		out[i] = a.Outcome
	}
	return out
}

// Describe names the winning strategy with its 1-based position, e.g.
// `3: frame(src~oauth2.0/authorize) "#u"`.
func (r Result) Describe() string {
	if !r.Found || r.StrategyIndex < 0 || r.StrategyIndex >= len(r.Trace) {
		return "none"
	}
	return strconv.Itoa(r.StrategyIndex+1) + ": " + r.Trace[r.StrategyIndex].Strategy.String()
}
