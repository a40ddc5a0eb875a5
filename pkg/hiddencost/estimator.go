// Package hiddencost estimates bandwidth, storage and API overhead that a
// provider's headline GPU-hour rate leaves out.
package hiddencost

import (
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
)

// DefaultRegion is used when a quote's region has no rate card.
const DefaultRegion = "us-east"

const hoursPerMonth = 730

// Rates is a region's overhead rate card in USD.
type Rates struct {
	EgressPerGB        float64 `yaml:"egress_per_gb" json:"egress_per_gb"`
	StoragePerGBMonth  float64 `yaml:"storage_per_gb_month" json:"storage_per_gb_month"`
	APIPerThousandCall float64 `yaml:"api_per_1k_calls" json:"api_per_1k_calls"`
}

var defaultRates = map[string]Rates{
	"us-east":      {EgressPerGB: 0.08, StoragePerGBMonth: 0.023, APIPerThousandCall: 0.0004},
	"us-west":      {EgressPerGB: 0.08, StoragePerGBMonth: 0.025, APIPerThousandCall: 0.0004},
	"us-central":   {EgressPerGB: 0.08, StoragePerGBMonth: 0.024, APIPerThousandCall: 0.0004},
	"eu-west":      {EgressPerGB: 0.085, StoragePerGBMonth: 0.024, APIPerThousandCall: 0.0004},
	"eu-central":   {EgressPerGB: 0.09, StoragePerGBMonth: 0.0245, APIPerThousandCall: 0.00045},
	"ap-southeast": {EgressPerGB: 0.12, StoragePerGBMonth: 0.025, APIPerThousandCall: 0.0005},
	"ap-northeast": {EgressPerGB: 0.114, StoragePerGBMonth: 0.025, APIPerThousandCall: 0.00047},
	"sa-east":      {EgressPerGB: 0.15, StoragePerGBMonth: 0.0405, APIPerThousandCall: 0.0007},
}

// usage describes the assumed resource consumption of a workload class.
type usage struct {
	bandwidthGBPerHour   float64
	bandwidthPerExtraGPU float64
	storageGB            float64
	storagePerExtraGPU   float64
	apiCallsPerHour      float64
	apiCallsPerJob       float64
}

var workloads = map[model.Workload]usage{
	model.WorkloadTraining: {
		bandwidthGBPerHour:   0.5,
		bandwidthPerExtraGPU: 0.5,
		storageGB:            100,
		storagePerExtraGPU:   50,
		apiCallsPerHour:      60,
		apiCallsPerJob:       200,
	},
	model.WorkloadInference: {
		bandwidthGBPerHour:   2.0,
		bandwidthPerExtraGPU: 0.5,
		storageGB:            50,
		storagePerExtraGPU:   10,
		apiCallsPerHour:      600,
		apiCallsPerJob:       50,
	},
}

// zone suffixes such as "us-east-1" or "eu-west-2a"
var zoneSuffix = regexp.MustCompile(`-\d+[a-z]?$`)

// CanonicalRegion lowercases a region and strips a trailing zone number.
func CanonicalRegion(region string) string {
	r := strings.ToLower(strings.TrimSpace(region))
	r = strings.ReplaceAll(r, "_", "-")
	return zoneSuffix.ReplaceAllString(r, "")
}

// Estimator computes hidden costs from per-region rate cards.
type Estimator struct {
	rates         map[string]Rates
	defaultRegion string
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithDefaultRegion sets the fallback region for unknown regions.
func WithDefaultRegion(region string) Option {
	return func(e *Estimator) {
		if region != "" {
			e.defaultRegion = CanonicalRegion(region)
		}
	}
}

// WithRates adds or overrides a region's rate card.
func WithRates(region string, r Rates) Option {
	return func(e *Estimator) { e.rates[CanonicalRegion(region)] = r }
}

// New creates an Estimator seeded with the built-in rate cards.
func New(opts ...Option) *Estimator {
	e := &Estimator{
		rates:         make(map[string]Rates, len(defaultRates)),
		defaultRegion: DefaultRegion,
	}
	for k, v := range defaultRates {
		e.rates[k] = v
	}
	for _, opt := range opts {
		opt(e)
	}
	if _, ok := e.rates[e.defaultRegion]; !ok {
		e.defaultRegion = DefaultRegion
	}
	return e
}

// Regions lists regions with a rate card.
func (e *Estimator) Regions() []string {
	out := make([]string, 0, len(e.rates))
	for k := range e.rates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Estimate returns the overhead in USD per GPU-hour. gpuCount and
// durationHours below their minimums are treated as 1.
func (e *Estimator) Estimate(region string, gpuCount int, durationHours float64, workload model.Workload) model.HiddenCosts {
	if gpuCount < 1 {
		gpuCount = 1
	}
	if durationHours <= 0 {
		durationHours = 1
	}
	u, ok := workloads[workload]
	if !ok {
		u = workloads[model.WorkloadTraining]
	}

	resolved := CanonicalRegion(region)
	rates, ok := e.rates[resolved]
	fallback := !ok
	if fallback {
		resolved = e.defaultRegion
		rates = e.rates[resolved]
	}

	n := decimal.NewFromInt(int64(gpuCount))
	extra := decimal.NewFromInt(int64(gpuCount - 1))
	hours := decimal.NewFromFloat(durationHours)

	bwGB := decimal.NewFromFloat(u.bandwidthGBPerHour).Add(decimal.NewFromFloat(u.bandwidthPerExtraGPU).Mul(extra))
	bandwidth := bwGB.Mul(decimal.NewFromFloat(rates.EgressPerGB))

	// storage billed per GB-month, prorated to one hour of the job
	storageGB := decimal.NewFromFloat(u.storageGB).Add(decimal.NewFromFloat(u.storagePerExtraGPU).Mul(extra))
	storage := storageGB.Mul(decimal.NewFromFloat(rates.StoragePerGBMonth)).Div(decimal.NewFromInt(hoursPerMonth))

	calls := decimal.NewFromFloat(u.apiCallsPerHour).Add(decimal.NewFromFloat(u.apiCallsPerJob).Div(hours))
	api := calls.Div(decimal.NewFromInt(1000)).Mul(decimal.NewFromFloat(rates.APIPerThousandCall))

	bandwidth = bandwidth.Div(n).Round(6)
	storage = storage.Div(n).Round(6)
	api = api.Div(n).Round(6)
	total := bandwidth.Add(storage).Add(api)

	return model.HiddenCosts{
		Bandwidth:      bandwidth.InexactFloat64(),
		Storage:        storage.InexactFloat64(),
		APICalls:       api.InexactFloat64(),
		TotalPerHour:   total.InexactFloat64(),
		Region:         resolved,
		RegionFallback: fallback,
	}
}

var std = New()

// Estimate uses the built-in rate cards.
func Estimate(region string, gpuCount int, durationHours float64, workload model.Workload) model.HiddenCosts {
	return std.Estimate(region, gpuCount, durationHours, workload)
}
