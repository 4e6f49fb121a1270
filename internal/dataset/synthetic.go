package dataset

import (
	"math"
	"math/rand"
	"strconv"

	"github.com/opensource-finance/heron/internal/domain"
)

// Auxiliary columns carried alongside the model features.
const (
	ColumnCustomerID    = "customer_id"
	ColumnTransactionID = "transaction_id"
	ColumnDataVersion   = "data_version"
)

// SyntheticOptions sizes a synthetic transaction table.
type SyntheticOptions struct {
	Customers        int
	MaxTxPerCustomer int
	Seed             int64
	Version          string
	LabelNoise       float64
}

// DefaultSyntheticOptions mirrors the reference data set shape.
func DefaultSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{
		Customers:        5000,
		MaxTxPerCustomer: 10,
		Seed:             42,
		Version:          "1.0",
		LabelNoise:       0.02,
	}
}

// SyntheticColumns is the header of a synthesized table.
var SyntheticColumns = []string{
	ColumnCustomerID,
	ColumnTransactionID,
	domain.FeatureTransactionAmount,
	domain.FeatureAmountDeviation,
	domain.FeatureTransactionFrequency,
	domain.FeatureCountryRisk,
	domain.FeatureCustomerAge,
	domain.TargetColumn,
	ColumnDataVersion,
}

// Synthesize builds a seeded table of labelled transactions. Each customer
// has a typical amount; transactions spread over a week and frequency is the
// number sharing a day. A transaction is risky when deviation, frequency and
// country risk are all high, or when any of three marginal patterns holds.
func Synthesize(opts SyntheticOptions) *Frame {
	rng := rand.New(rand.NewSource(opts.Seed))
	f := NewFrame(SyntheticColumns)

	for c := 1; c <= opts.Customers; c++ {
		age := 18 + rng.Intn(62)
		avg := 100 + rng.Float64()*9900

		nTx := 1 + rng.Intn(opts.MaxTxPerCustomer)
		days := make([]int, nTx)
		perDay := make(map[int]int)
		for i := range days {
			days[i] = rng.Intn(7)
			perDay[days[i]]++
		}

		for i, day := range days {
			freq := perDay[day]
			amount := math.Max(10, avg+rng.NormFloat64()*avg*0.5)
			deviation := math.Abs(amount - avg)

			var countryRisk float64
			if rng.Float64() > 0.7 {
				countryRisk = betaInt(rng, 2, 5)
			} else {
				countryRisk = betaInt(rng, 1, 2)
			}

			label := riskyLabel(deviation, freq, countryRisk)
			if rng.Float64() < opts.LabelNoise {
				label = 1 - label
			}

			f.records = append(f.records, []string{
				strconv.Itoa(c),
				strconv.Itoa(c) + "_" + strconv.Itoa(i+1),
				formatFloat(amount),
				formatFloat(deviation),
				strconv.Itoa(freq),
				formatFloat(countryRisk),
				strconv.Itoa(age),
				strconv.Itoa(label),
				opts.Version,
			})
		}
	}
	return f
}

func riskyLabel(deviation float64, freq int, countryRisk float64) int {
	core := deviation > 4000 && freq > 6 && countryRisk > 0.7
	marginal := (deviation > 3500 && freq > 2) ||
		(freq > 5 && deviation > 2000) ||
		(countryRisk > 0.4 && deviation > 2500)
	if core || marginal {
		return 1
	}
	return 0
}

// betaInt samples Beta(a, b) for integer shapes from gamma variates built as
// sums of exponentials.
func betaInt(rng *rand.Rand, a, b int) float64 {
	x := gammaInt(rng, a)
	y := gammaInt(rng, b)
	return x / (x + y)
}

func gammaInt(rng *rand.Rand, k int) float64 {
	var s float64
	for i := 0; i < k; i++ {
		s += rng.ExpFloat64()
	}
	return s
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
