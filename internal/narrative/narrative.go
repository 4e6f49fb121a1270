// Package narrative renders an Explanation as analyst-facing text plus a
// pattern identifier for grouping similar explanations.
package narrative

import (
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
)

// GeneratorVersion tags every narrative with the template revision.
const GeneratorVersion = "nlp_v1.0.0"

// DefaultEpsilon is the magnitude below which a contribution counts as nil.
const DefaultEpsilon = 1e-6

// Generator builds narratives. The zero value uses DefaultEpsilon.
type Generator struct {
	Epsilon float64
}

// New creates a Generator with the given near-zero epsilon. A non-positive
// epsilon selects DefaultEpsilon.
func New(epsilon float64) *Generator {
	return &Generator{Epsilon: epsilon}
}

// Generate is a pure function of its inputs.
func (g *Generator) Generate(exp *domain.Explanation, features domain.FeatureSet) *domain.Narrative {
	eps := g.Epsilon
	if eps <= 0 {
		eps = DefaultEpsilon
	}

	var b strings.Builder
	fmt.Fprintf(&b, "This transaction received a model risk score of %.4f (%s risk band). ", exp.RiskScore, exp.RiskBand)

	if exp.AlertFlag {
		b.WriteString("Based on the configured threshold, the model flagged this transaction as higher risk. ")
	} else {
		b.WriteString("Based on the configured threshold, the model did not flag this transaction. ")
	}

	if exp.OODFlag {
		fmt.Fprintf(&b, "Warning: The following features have values outside the range observed during training: %s. ",
			strings.Join(exp.OODFeatures, ", "))
		b.WriteString("As a result, the model's assessment may be unreliable. ")
	}

	b.WriteString("The primary factors influencing this score were:\n")

	negligible := allNegligible(exp.TopFeatures, eps)
	if negligible {
		b.WriteString("The model assigned a low risk score, but none of the input features materially influenced this result. ")
		b.WriteString("This typically occurs when feature values fall outside the range observed during training, ")
		b.WriteString("limiting the model's ability to assess risk reliably.\n")
	}

	pattern := make([]string, 0, len(exp.TopFeatures)+1)
	if exp.AlertFlag {
		pattern = append(pattern, "ALERT")
	} else {
		pattern = append(pattern, "NO_ALERT")
	}

	used := make([]string, 0, len(exp.TopFeatures))
	for _, c := range exp.TopFeatures {
		direction, sign := classify(c.Contribution)
		pattern = append(pattern, sign+"_"+strings.ToUpper(c.Feature))
		used = append(used, c.Feature)

		if negligible {
			continue
		}
		fmt.Fprintf(&b, "- The feature '%s' with a value of %s %s the model's risk score by %.4f.\n",
			strings.ReplaceAll(c.Feature, "_", " "),
			formatValue(features, c.Feature),
			direction,
			math.Abs(c.Contribution))
	}

	return &domain.Narrative{
		Text:             b.String(),
		PatternID:        strings.Join(pattern, "_"),
		FeaturesUsed:     used,
		GeneratorVersion: GeneratorVersion,
	}
}

// allNegligible is true for every contribution below eps in magnitude,
// including the empty list.
func allNegligible(top []domain.Contribution, eps float64) bool {
	for _, c := range top {
		if math.Abs(c.Contribution) >= eps {
			return false
		}
	}
	return true
}

func classify(c float64) (direction, sign string) {
	switch {
	case c > 0:
		return "increased", "POS"
	case c < 0:
		return "decreased", "NEG"
	default:
		return "did not materially affect", "ZERO"
	}
}

func formatValue(features domain.FeatureSet, name string) string {
	v, ok := features[name]
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%.2f", v)
}
