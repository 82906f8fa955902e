package contract

type policyMode int

const (
	policyNone policyMode = iota
	policyAll
	policyWhen
)

// ErrorPolicy decides whether an error raised by an operation is suppressed.
// A suppressed error turns the operation into a passthrough for that call.
type ErrorPolicy struct {
	mode policyMode
	pred func(error) bool
}

var (
	// NoIgnore surfaces every error.
	NoIgnore = ErrorPolicy{mode: policyNone}
	// IgnoreAll suppresses every error.
	IgnoreAll = ErrorPolicy{mode: policyAll}
)

// IgnoreWhen suppresses errors for which pred returns true.
// A nil predicate behaves like NoIgnore.
func IgnoreWhen(pred func(error) bool) ErrorPolicy {
	if pred == nil {
		return NoIgnore
	}
	return ErrorPolicy{mode: policyWhen, pred: pred}
}

// Ignores reports whether err is suppressed by the policy.
func (p ErrorPolicy) Ignores(err error) bool {
	if err == nil {
		return false
	}
	switch p.mode {
	case policyAll:
		return true
	case policyWhen:
		return p.pred(err)
	default:
		return false
	}
}

func (p ErrorPolicy) String() string {
	switch p.mode {
	case policyAll:
		return "ignore-all"
	case policyWhen:
		return "ignore-when"
	default:
		return "none"
	}
}
