// Package gpu converts GPU prices into an A100-80GB equivalent rate.
package gpu

import (
	"sort"
	"strings"
)

// Baseline is the GPU every ratio is expressed against.
const Baseline = "A100-80GB"

// ratios holds relative throughput against the A100-80GB.
var ratios = map[string]float64{
	"A100-80GB":    1.0,
	"A100":         1.0,
	"A100-40GB":    0.85,
	"H100":         1.5,
	"H100-80GB":    1.5,
	"H100-SXM":     1.6,
	"H100-PCIE":    1.3,
	"H200":         1.9,
	"GH200":        2.0,
	"B200":         2.5,
	"L40S":         0.75,
	"L40":          0.6,
	"A6000":        0.55,
	"RTX-A6000":    0.55,
	"RTX-6000-ADA": 0.65,
	"A10G":         0.35,
	"A10":          0.35,
	"L4":           0.3,
	"V100":         0.45,
	"T4":           0.15,
	"RTX-4090":     0.5,
	"RTX-3090":     0.35,
	"MI300X":       1.4,
	"MI250X":       0.9,
}

// aliases maps spellings that name the same part. Bare "A100" and "H100"
// are the 80GB parts; "A100-40GB" stays distinct.
var aliases = map[string]string{
	"A100":  "A100-80GB",
	"H100":  "H100-80GB",
	"A6000": "RTX-A6000",
}

// Canonical normalizes vendor spellings such as "NVIDIA H100 80GB" to "H100-80GB".
func Canonical(gpuType string) string {
	s := strings.ToUpper(strings.TrimSpace(gpuType))
	for _, prefix := range []string{"NVIDIA ", "NVIDIA-", "AMD ", "AMD-", "TESLA ", "TESLA-"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.NewReplacer(" ", "-", "_", "-").Replace(s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return s
}

// Ratio returns the A100-equivalence ratio. Unknown types report ok=false with ratio 1.0.
func Ratio(gpuType string) (ratio float64, ok bool) {
	r, ok := ratios[Canonical(gpuType)]
	if !ok {
		return 1.0, false
	}
	return r, true
}

// NormalizeToA100 divides price by the GPU ratio. ok is false when the
// unknown-type fallback of 1.0 was used.
func NormalizeToA100(price float64, gpuType string) (float64, bool) {
	r, ok := Ratio(gpuType)
	return price / r, ok
}

// Identity resolves gpuType to the name of the part it denotes, following aliases.
func Identity(gpuType string) string {
	c := Canonical(gpuType)
	if to, ok := aliases[c]; ok {
		return to
	}
	return c
}

// Same reports whether two spellings name the same GPU.
func Same(a, b string) bool {
	return Identity(a) == Identity(b)
}

// Known lists every GPU type in the table, sorted.
func Known() []string {
	out := make([]string, 0, len(ratios))
	for k := range ratios {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
