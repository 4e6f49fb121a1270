package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opensource-finance/heron/internal/dataset"
	"github.com/opensource-finance/heron/internal/domain"
)

// fakeHeron alerts on large amount deviations and fails on negative ages.
func fakeHeron(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /explain", func(w http.ResponseWriter, r *http.Request) {
		var req ExplainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Features[domain.FeatureCustomerAge] < 0 {
			http.Error(w, "invalid", http.StatusUnprocessableEntity)
			return
		}

		score := 0.1
		var escalations []domain.Escalation
		if req.Features[domain.FeatureAmountDeviation] > 1000 {
			score = 0.9
			escalations = append(escalations, domain.Escalation{PolicyID: "high-band-review", Queue: "aml-review"})
		}
		json.NewEncoder(w).Encode(ExplainResponse{
			ID: "d",
			Explanation: domain.Explanation{
				RiskScore: score,
				AlertFlag: score > 0.35,
				RiskBand:  domain.BandFor(score),
			},
			Escalations: escalations,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func sample(deviation, age float64, laundering bool) Sample {
	return Sample{
		Features: domain.FeatureSet{
			domain.FeatureAmountDeviation: deviation,
			domain.FeatureCustomerAge:     age,
		},
		Laundering: laundering,
	}
}

func TestRunBenchmark(t *testing.T) {
	srv := fakeHeron(t)

	if err := checkHealth(srv.URL); err != nil {
		t.Fatalf("checkHealth failed: %v", err)
	}

	samples := []Sample{
		sample(5000, 30, true),  // TP
		sample(5000, 30, false), // FP
		sample(10, 30, false),   // TN
		sample(10, 30, true),    // FN
		sample(10, 30, false),   // TN
		sample(10, -1, false),   // error
	}

	m := runBenchmark(samples, srv.URL, 3, false)

	if m.TotalProcessed != 6 || m.TotalErrors != 1 {
		t.Fatalf("expected 6 processed with 1 error, got %d/%d", m.TotalProcessed, m.TotalErrors)
	}
	if m.TruePositives != 1 || m.FalsePositives != 1 || m.TrueNegatives != 2 || m.FalseNegatives != 1 {
		t.Errorf("unexpected confusion matrix %d %d %d %d", m.TruePositives, m.FalsePositives, m.TrueNegatives, m.FalseNegatives)
	}
	if m.bands[domain.BandHigh] != 2 || m.bands[domain.BandLow] != 3 {
		t.Errorf("unexpected bands %v", m.bands)
	}
	if m.escalations["aml-review"] != 2 {
		t.Errorf("unexpected escalations %v", m.escalations)
	}

	precision, recall, f1, accuracy := m.Scores()
	if precision != 0.5 || recall != 0.5 || f1 != 0.5 || accuracy != 0.6 {
		t.Errorf("unexpected scores %v %v %v %v", precision, recall, f1, accuracy)
	}
}

func TestSamplesFrom(t *testing.T) {
	opts := dataset.DefaultSyntheticOptions()
	opts.Customers = 20

	samples, err := samplesFrom(dataset.Synthesize(opts), 15)
	if err != nil {
		t.Fatalf("samplesFrom failed: %v", err)
	}
	if len(samples) != 15 {
		t.Fatalf("expected 15 samples, got %d", len(samples))
	}
	for _, s := range samples {
		if len(s.Features) != len(domain.ModelFeatures) {
			t.Fatalf("expected every model feature, got %v", s.Features)
		}
	}

	if _, err := samplesFrom(dataset.NewFrame([]string{"x"}), 0); err == nil {
		t.Error("expected missing columns to fail")
	}
}
