package validate

// Severity grades a rule finding. Only CRITICAL fails a group.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
)

// Finding is one rule outcome for a group.
type Finding struct {
	Severity Severity
	Message  string
}

// Note renders the finding as stored in validation_notes.
func (f Finding) Note() string {
	return string(f.Severity) + ": " + f.Message
}

// Extracted holds the canonical fields pulled out of a merged payload.
type Extracted struct {
	Revenue float64
	PAT     float64
	// Missing lists canonical fields for which no alias was present.
	Missing []string
}

// Rule inspects one consolidated group.
type Rule interface {
	Name() string
	Check(g Group, x Extracted) []Finding
}

// DefaultRules returns the rule set applied when none is configured.
func DefaultRules() []Rule {
	return []Rule{NonNegativeRevenue{}, NegativePATWarning{}, AbnormalJump{}}
}

// NonNegativeRevenue fails groups whose revenue is negative.
type NonNegativeRevenue struct{}

func (NonNegativeRevenue) Name() string { return "non_negative_revenue" }

func (NonNegativeRevenue) Check(_ Group, x Extracted) []Finding {
	if x.Revenue < 0 {
		return []Finding{{Severity: SeverityCritical, Message: "Revenue is negative"}}
	}
	return nil
}

// NegativePATWarning flags a loss without failing the group.
type NegativePATWarning struct{}

func (NegativePATWarning) Name() string { return "negative_pat_warning" }

func (NegativePATWarning) Check(_ Group, x Extracted) []Finding {
	if x.PAT < 0 {
		return []Finding{{Severity: SeverityWarning, Message: "PAT is negative"}}
	}
	return nil
}

// AbnormalJump is the hook for period-over-period jump detection. It needs
// the company's prior clean periods, which groups do not carry yet, so it
// reports nothing.
type AbnormalJump struct{}

func (AbnormalJump) Name() string { return "abnormal_jump" }

func (AbnormalJump) Check(Group, Extracted) []Finding { return nil }
