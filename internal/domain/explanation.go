package domain

// FeatureSet maps feature names to their numeric values for one transaction.
type FeatureSet map[string]float64

// Standard model features, in training order.
const (
	FeatureTransactionAmount    = "transaction_amount"
	FeatureAmountDeviation      = "amount_deviation"
	FeatureTransactionFrequency = "transaction_frequency"
	FeatureCountryRisk          = "country_risk"
	FeatureCustomerAge          = "customer_age"
)

// ModelFeatures is the fixed feature list used by the training job.
var ModelFeatures = []string{
	FeatureTransactionAmount,
	FeatureAmountDeviation,
	FeatureTransactionFrequency,
	FeatureCountryRisk,
	FeatureCustomerAge,
}

// TargetColumn is the label column in training data.
const TargetColumn = "is_money_laundering"

// RiskBand is the coarse bucketing of a risk score.
type RiskBand string

const (
	BandLow        RiskBand = "Low"
	BandBorderline RiskBand = "Borderline"
	BandHigh       RiskBand = "High"
)

// Band boundaries.
const (
	BorderlineFloor = 0.3
	HighFloor       = 0.7
)

// BandFor buckets a score: below 0.3 is Low, below 0.7 Borderline, else High.
func BandFor(score float64) RiskBand {
	switch {
	case score < BorderlineFloor:
		return BandLow
	case score < HighFloor:
		return BandBorderline
	default:
		return BandHigh
	}
}

// MaxTopFeatures caps the ranked contribution list.
const MaxTopFeatures = 5

// Contribution is the signed attribution of one feature, in log-odds units.
type Contribution struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
}

// FeatureRange is the [min, max] observed for a feature during training.
type FeatureRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Explanation is the scored and attributed result for one transaction.
type Explanation struct {
	RiskScore   float64        `json:"risk_score"`
	AlertFlag   bool           `json:"alert_flag"`
	RiskBand    RiskBand       `json:"risk_band"`
	TopFeatures []Contribution `json:"top_features"`
	OODFlag     bool           `json:"ood_flag"`
	OODFeatures []string       `json:"ood_features"`

	// BaseValue is the mean background margin the contributions are relative to.
	BaseValue float64 `json:"base_value"`
	Threshold float64 `json:"threshold"`
}

// Narrative is the rendered plain-language explanation.
type Narrative struct {
	Text             string   `json:"text"`
	PatternID        string   `json:"pattern_id"`
	FeaturesUsed     []string `json:"features_used"`
	GeneratorVersion string   `json:"generator_version"`
}

// FeedbackLabel is the analyst verdict on a scored transaction.
type FeedbackLabel string

const (
	FeedbackValid   FeedbackLabel = "Valid"
	FeedbackInvalid FeedbackLabel = "Invalid"
)

// Valid reports whether the label is one of the recognized verdicts.
func (f FeedbackLabel) Valid() bool {
	return f == FeedbackValid || f == FeedbackInvalid
}

// Feedback is an analyst verdict forwarded to the audit log.
type Feedback struct {
	Features  FeatureSet    `json:"features"`
	RiskScore float64       `json:"risk_score"`
	AlertFlag bool          `json:"alert_flag"`
	Feedback  FeedbackLabel `json:"feedback"`
	PatternID string        `json:"pattern_id,omitempty"`
	Comment   string        `json:"comment,omitempty"`
}

// Decision is the complete outcome of analysing one transaction.
type Decision struct {
	ID          string       `json:"id"`
	TraceID     string       `json:"trace_id,omitempty"`
	Features    FeatureSet   `json:"features"`
	Explanation *Explanation `json:"explanation"`
	Narrative   *Narrative   `json:"nlp_explanation"`
	Escalations []Escalation `json:"escalations,omitempty"`
	Feedback    string       `json:"feedback,omitempty"`
	Cached      bool         `json:"cached"`
	ProcessMs   int64        `json:"process_ms"`
}
