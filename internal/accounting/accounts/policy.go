package accounts

import (
	"fmt"
	"strings"
)

// SuffixMode selects how sub-account code suffixes are generated.
type SuffixMode string

const (
	SuffixSequence SuffixMode = "sequence"
	SuffixCode     SuffixMode = "code"
)

const maxSuffixLen = 20

// KindPolicy configures resolution for one link kind.
type KindPolicy struct {
	ControlCode string
	AutoCreate  bool
}

// Policy configures sub-account resolution.
type Policy struct {
	Kinds  map[LinkKind]KindPolicy
	Suffix SuffixMode
}

// DefaultPolicy returns the seeded control codes with auto-creation enabled for
// receivables, payables and advances.
func DefaultPolicy() Policy {
	return Policy{
		Suffix: SuffixSequence,
		Kinds: map[LinkKind]KindPolicy{
			LinkReceivable:     {ControlCode: "1191", AutoCreate: true},
			LinkNoteReceivable: {ControlCode: "1151"},
			LinkSalesReturn:    {ControlCode: "4191"},
			LinkAdvanceReceipt: {ControlCode: "2131", AutoCreate: true},
			LinkPayable:        {ControlCode: "2171", AutoCreate: true},
			LinkNotePayable:    {ControlCode: "2151"},
			LinkPurchaseReturn: {ControlCode: "5121"},
			LinkAdvancePayment: {ControlCode: "1261", AutoCreate: true},
			LinkInventory:      {ControlCode: "1231"},
		},
	}
}

// For returns the policy of kind.
func (p Policy) For(kind LinkKind) (KindPolicy, bool) {
	kp, ok := p.Kinds[kind]
	if !ok || kp.ControlCode == "" {
		return KindPolicy{}, false
	}
	return kp, true
}

// Validate checks every kind has a control code and the suffix mode is known.
func (p Policy) Validate() error {
	if p.Suffix != SuffixSequence && p.Suffix != SuffixCode {
		return fmt.Errorf("accounts: unknown suffix mode %q", p.Suffix)
	}
	for _, kind := range LinkKinds {
		if _, ok := p.For(kind); !ok {
			return fmt.Errorf("accounts: control code missing for %s", kind)
		}
	}
	return nil
}

// SanitizeCode keeps [A-Z0-9] of the uppercased input, truncated to 20 characters.
func SanitizeCode(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == maxSuffixLen {
				break
			}
		}
	}
	return b.String()
}

// SequenceSuffix zero-pads n to three digits.
func SequenceSuffix(n int) string {
	return fmt.Sprintf("%03d", n)
}

// SubAccountCode joins a parent code and suffix.
func SubAccountCode(parentCode, suffix string) string {
	return parentCode + "." + suffix
}
