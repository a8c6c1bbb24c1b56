package job

import (
	"fmt"
	"strings"
	"time"
)

// WaitStrategy names the readiness condition applied after navigation.
type WaitStrategy string

// Supported wait strategies.
const (
	WaitNetworkIdle WaitStrategy = "networkidle"
	WaitSelector    WaitStrategy = "selector"
	WaitTimeout     WaitStrategy = "timeout"
)

// WaitPolicy is the caller-supplied readiness condition for a render.
type WaitPolicy struct {
	Strategy WaitStrategy `json:"strategy,omitempty"`
	Selector string       `json:"selector,omitempty"`
	Ms       *int         `json:"ms,omitempty"`
}

// ResolveWait normalizes an optional policy. A nil or empty policy resolves
// to network-idle; "load" and "domcontentloaded" are accepted as aliases of
// network-idle. Unknown strategies and a selector strategy without a
// selector are input errors.
func ResolveWait(policy *WaitPolicy) (WaitPolicy, error) {
	if policy == nil {
		return WaitPolicy{Strategy: WaitNetworkIdle}, nil
	}
	resolved := WaitPolicy{
		Strategy: WaitStrategy(strings.ToLower(strings.TrimSpace(string(policy.Strategy)))),
		Selector: strings.TrimSpace(policy.Selector),
	}
	switch resolved.Strategy {
	case "", WaitNetworkIdle, "load", "domcontentloaded":
		resolved.Strategy = WaitNetworkIdle
		resolved.Selector = ""
	case WaitSelector:
		if resolved.Selector == "" {
			return WaitPolicy{}, fmt.Errorf("wait.selector is required for the selector strategy")
		}
	case WaitTimeout:
		resolved.Selector = ""
		ms := 0
		if policy.Ms != nil && *policy.Ms > 0 {
			ms = *policy.Ms
		}
		resolved.Ms = &ms
	default:
		return WaitPolicy{}, fmt.Errorf("unknown wait strategy %q", policy.Strategy)
	}
	return resolved, nil
}

// Delay returns the fixed wait for the timeout strategy.
func (w WaitPolicy) Delay() time.Duration {
	if w.Ms == nil || *w.Ms <= 0 {
		return 0
	}
	return time.Duration(*w.Ms) * time.Millisecond
}
