package narrative

import (
	"strings"
	"testing"

	"github.com/opensource-finance/heron/internal/domain"
)

func sampleExplanation() *domain.Explanation {
	return &domain.Explanation{
		RiskScore: 0.72346,
		AlertFlag: true,
		RiskBand:  domain.BandHigh,
		TopFeatures: []domain.Contribution{
			{Feature: "amount_deviation", Contribution: 1.23456},
			{Feature: "country_risk", Contribution: -0.5},
			{Feature: "customer_age", Contribution: 0},
		},
		OODFeatures: []string{},
	}
}

func sampleFeatures() domain.FeatureSet {
	return domain.FeatureSet{
		"amount_deviation": 3500,
		"country_risk":     0.5,
		"customer_age":     35,
	}
}

func TestGenerate(t *testing.T) {
	g := New(DefaultEpsilon)
	n := g.Generate(sampleExplanation(), sampleFeatures())

	want := "This transaction received a model risk score of 0.7235 (High risk band). " +
		"Based on the configured threshold, the model flagged this transaction as higher risk. " +
		"The primary factors influencing this score were:\n" +
		"- The feature 'amount deviation' with a value of 3500.00 increased the model's risk score by 1.2346.\n" +
		"- The feature 'country risk' with a value of 0.50 decreased the model's risk score by 0.5000.\n" +
		"- The feature 'customer age' with a value of 35.00 did not materially affect the model's risk score by 0.0000.\n"

	if n.Text != want {
		t.Errorf("unexpected text:\n got: %q\nwant: %q", n.Text, want)
	}
	if n.PatternID != "ALERT_POS_AMOUNT_DEVIATION_NEG_COUNTRY_RISK_ZERO_CUSTOMER_AGE" {
		t.Errorf("unexpected pattern id %s", n.PatternID)
	}
	if strings.Join(n.FeaturesUsed, ",") != "amount_deviation,country_risk,customer_age" {
		t.Errorf("unexpected features used %v", n.FeaturesUsed)
	}
	if n.GeneratorVersion != "nlp_v1.0.0" {
		t.Errorf("unexpected version %s", n.GeneratorVersion)
	}
}

func TestGenerate_NotFlagged(t *testing.T) {
	exp := sampleExplanation()
	exp.AlertFlag = false
	exp.RiskScore = 0.1
	exp.RiskBand = domain.BandLow

	n := (&Generator{}).Generate(exp, sampleFeatures())

	if !strings.Contains(n.Text, "the model did not flag this transaction.") {
		t.Errorf("missing not-flagged sentence: %s", n.Text)
	}
	if !strings.HasPrefix(n.PatternID, "NO_ALERT_") {
		t.Errorf("expected NO_ALERT prefix, got %s", n.PatternID)
	}
}

func TestGenerate_OODWarning(t *testing.T) {
	exp := sampleExplanation()
	exp.OODFlag = true
	exp.OODFeatures = []string{"transaction_amount", "customer_age"}

	n := New(DefaultEpsilon).Generate(exp, sampleFeatures())

	warning := "Warning: The following features have values outside the range observed during training: " +
		"transaction_amount, customer_age. As a result, the model's assessment may be unreliable. "
	if !strings.Contains(n.Text, warning) {
		t.Errorf("missing OOD warning: %s", n.Text)
	}
	if strings.Index(n.Text, "Warning") > strings.Index(n.Text, "The primary factors") {
		t.Error("warning must precede the factor list")
	}
}

func TestGenerate_AllNearZero(t *testing.T) {
	exp := sampleExplanation()
	exp.TopFeatures = []domain.Contribution{
		{Feature: "amount_deviation", Contribution: 5e-7},
		{Feature: "country_risk", Contribution: -9.9e-7},
		{Feature: "customer_age", Contribution: 0},
	}

	n := New(DefaultEpsilon).Generate(exp, sampleFeatures())

	if !strings.Contains(n.Text, "none of the input features materially influenced this result") {
		t.Errorf("missing fallback sentence: %s", n.Text)
	}
	if strings.Contains(n.Text, "- The feature") {
		t.Errorf("per-feature lines must be suppressed: %s", n.Text)
	}
	if n.PatternID != "ALERT_POS_AMOUNT_DEVIATION_NEG_COUNTRY_RISK_ZERO_CUSTOMER_AGE" {
		t.Errorf("pattern id still reflects signs, got %s", n.PatternID)
	}
	if len(n.FeaturesUsed) != 3 {
		t.Errorf("expected 3 features used, got %d", len(n.FeaturesUsed))
	}
}

func TestGenerate_Epsilon(t *testing.T) {
	exp := sampleExplanation()
	exp.TopFeatures = []domain.Contribution{{Feature: "country_risk", Contribution: 0.001}}

	if strings.Contains(New(DefaultEpsilon).Generate(exp, sampleFeatures()).Text, "none of the input features") {
		t.Error("0.001 is material at the default epsilon")
	}
	if !strings.Contains(New(0.01).Generate(exp, sampleFeatures()).Text, "none of the input features") {
		t.Error("0.001 is negligible at epsilon 0.01")
	}
}

func TestGenerate_MissingValue(t *testing.T) {
	exp := sampleExplanation()
	n := New(DefaultEpsilon).Generate(exp, domain.FeatureSet{})

	if !strings.Contains(n.Text, "'amount deviation' with a value of unknown increased") {
		t.Errorf("expected unknown value rendering: %s", n.Text)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	g := New(DefaultEpsilon)
	a := g.Generate(sampleExplanation(), sampleFeatures())
	for i := 0; i < 10; i++ {
		b := g.Generate(sampleExplanation(), sampleFeatures())
		if a.Text != b.Text || a.PatternID != b.PatternID {
			t.Fatal("narrative must be deterministic")
		}
	}
}

func TestGenerate_EmptyTop(t *testing.T) {
	exp := sampleExplanation()
	exp.TopFeatures = nil
	exp.AlertFlag = false

	n := New(DefaultEpsilon).Generate(exp, nil)
	if n.PatternID != "NO_ALERT" {
		t.Errorf("expected bare NO_ALERT, got %s", n.PatternID)
	}
}
