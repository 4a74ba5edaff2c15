package permission

import "fmt"

// Outcome is the state of a single permission as reported to callers.
// The numeric values are the wire codes.
type Outcome int

const (
	Granted       Outcome = iota // access granted
	Denied                       // not granted, or unknown to the registry
	ShowRationale                // denied before; explain before asking again
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case ShowRationale:
		return "show_rationale"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Code returns the wire code for o
func (o Outcome) Code() int {
	return int(o)
}

// ParseOutcome converts a wire code back into an Outcome
func ParseOutcome(code int) (Outcome, error) {
	switch o := Outcome(code); o {
	case Granted, Denied, ShowRationale:
		return o, nil
	}
	return Denied, fmt.Errorf("invalid outcome code %d", code)
}

// Codes converts outcomes to their wire codes
func Codes(outcomes []Outcome) []int {
	codes := make([]int, len(outcomes))
	for i, o := range outcomes {
		codes[i] = o.Code()
	}
	return codes
}

func allDenied(n int) []Outcome {
	out := make([]Outcome, n)
	for i := range out {
		out[i] = Denied
	}
	return out
}
