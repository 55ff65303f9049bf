package model

import (
	"fmt"
	"strings"
)

// Tier is the severity assigned to a rate. Tiers are ordered: a higher value is
// more severe.
type Tier int

const (
	TierNormal Tier = iota
	TierWarning
	TierEmergency
)

func (t Tier) String() string {
	switch t {
	case TierNormal:
		return "normal"
	case TierWarning:
		return "warning"
	case TierEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

func ParseTier(value string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "normal":
		return TierNormal, nil
	case "warning":
		return TierWarning, nil
	case "emergency":
		return TierEmergency, nil
	default:
		return TierNormal, fmt.Errorf("unknown tier %q", value)
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Alerting reports whether the tier requires a dispatch.
func (t Tier) Alerting() bool {
	return t > TierNormal
}
