package selection

import (
	"fmt"
	"strings"

	"covbench/domain/core"
)

// FaultPolicy decides what a failed trial does to an evaluation.
type FaultPolicy int

const (
	// FaultRecover degrades the whole evaluation to an all-NaN report.
	FaultRecover FaultPolicy = iota
	// FaultPropagate returns the failure to the caller.
	FaultPropagate
)

func (p FaultPolicy) String() string {
	switch p {
	case FaultRecover:
		return "recover"
	case FaultPropagate:
		return "propagate"
	}
	return fmt.Sprintf("FaultPolicy(%d)", int(p))
}

// ParseFaultPolicy accepts "recover" or "propagate" (case-insensitive).
func ParseFaultPolicy(s string) (FaultPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "recover":
		return FaultRecover, nil
	case "propagate":
		return FaultPropagate, nil
	}
	return 0, core.NewParamTypeError("fault_policy", `"recover" or "propagate"`, s)
}

func (p FaultPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *FaultPolicy) UnmarshalText(text []byte) error {
	v, err := ParseFaultPolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
