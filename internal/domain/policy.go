package domain

// PolicyConfig defines an escalation policy evaluated against each explanation.
type PolicyConfig struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`

	// CEL expression returning bool, int or double.
	// A positive result routes the transaction to Queue.
	Expression string `yaml:"expression" json:"expression"`

	Queue    string `yaml:"queue" json:"queue"`
	Severity string `yaml:"severity" json:"severity"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
}

// Escalation is a triggered policy.
type Escalation struct {
	PolicyID  string  `json:"policy_id"`
	Queue     string  `json:"queue"`
	Severity  string  `json:"severity"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
	ProcessMs int64   `json:"process_ms"`
}

// DefaultPolicies returns the escalation policies shipped with Heron.
func DefaultPolicies() []PolicyConfig {
	return []PolicyConfig{
		{
			ID:         "high-band-review",
			Name:       "High risk band",
			Expression: `risk_band == "High"`,
			Queue:      "aml-review",
			Severity:   "high",
			Enabled:    true,
		},
		{
			ID:         "borderline-alert",
			Name:       "Alert in borderline band",
			Expression: `alert_flag && risk_band == "Borderline"`,
			Queue:      "aml-triage",
			Severity:   "medium",
			Enabled:    true,
		},
		{
			ID:          "out-of-distribution",
			Name:        "Inputs outside training range",
			Description: "Scores on out-of-range inputs are routed for model risk review.",
			Expression:  `ood_flag`,
			Queue:       "model-risk",
			Severity:    "low",
			Enabled:     true,
		},
	}
}
