package proxy

import (
	"math/rand"

	"github.com/tidwall/sjson"

	"github.com/ailink/gateway/internal/domain/policy"
)

// pickVariant chooses a variant from the first Split a request's policies
// produced (concurrent experiments on one request aren't supported; the
// first Split wins), weighted by each variant's Weight. A Weight <= 0
// counts as 1, so an omitted weight falls back to an even split.
func pickVariant(splits []policy.Split) (experimentName, variantName string, transform map[string]interface{}) {
	if len(splits) == 0 {
		return "", "", nil
	}
	split := splits[0]
	if len(split.Variants) == 0 {
		return split.ExperimentName, "", nil
	}

	total := 0.0
	for _, v := range split.Variants {
		total += splitWeight(v.Weight)
	}
	pick := rand.Float64() * total
	for _, v := range split.Variants {
		pick -= splitWeight(v.Weight)
		if pick <= 0 {
			return split.ExperimentName, v.Name, v.Transform
		}
	}
	last := split.Variants[len(split.Variants)-1]
	return split.ExperimentName, last.Name, last.Transform
}

func splitWeight(w float64) float64 {
	if w <= 0 {
		return 1
	}
	return w
}

// applySplitTransform merges a variant's transform fields into body, one
// dotted sjson path at a time.
func applySplitTransform(body []byte, transform map[string]interface{}) []byte {
	out := body
	for path, value := range transform {
		if updated, err := sjson.SetBytes(out, path, value); err == nil {
			out = updated
		}
	}
	return out
}
