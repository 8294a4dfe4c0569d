package proxy

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/policy"
)

// scanContentFilters runs every ContentFilter effect's named preset against
// body, in order. A GuardrailBlock preset that finds anything short-circuits
// with a denial; a GuardrailRedact preset rewrites its matched spans in
// place and scanning continues with the remaining filters. Findings are
// recorded on holder (via audit.ScanResultHolder) so the eventual audit
// record reflects what was detected even though Record carries no dedicated
// scan fields of its own.
func (p *Pipeline) scanContentFilters(filters []policy.ContentFilter, body []byte, holder *audit.ScanResultHolder) ([]byte, *ErrDenied) {
	if len(filters) == 0 || p.Guardrails == nil {
		return body, nil
	}

	out := body
	var types []string
	for _, cf := range filters {
		preset, ok := p.Guardrails.Get(cf.Preset)
		if !ok {
			continue
		}
		findings := preset.Scan(string(out))
		if len(findings) == 0 {
			continue
		}
		types = append(types, preset.Name)

		if preset.Action == policy.GuardrailBlock {
			recordScan(holder, len(findings), "blocked", types)
			return out, &ErrDenied{Reason: fmt.Sprintf("content blocked by guardrail preset %q", preset.Name), Status: 422}
		}

		out = redactFindings(out, findings, preset.Strategy)
		recordScan(holder, len(findings), "monitored", types)
	}
	return out, nil
}

// guardrailHeader is the client-facing ad hoc guardrail request, spec.md
// §6's comma-separated preset list — lets a caller opt into scanning
// without a reviewer having to author a ContentFilter policy rule first.
const guardrailHeader = "X-AILink-Guardrails"

// headerContentFilters parses guardrailHeader's value into ContentFilter
// effects, so header- and policy-driven scanning share one code path
// through scanContentFilters.
func headerContentFilters(headers map[string]string) []policy.ContentFilter {
	var raw string
	for k, v := range headers {
		if strings.EqualFold(k, guardrailHeader) {
			raw = v
			break
		}
	}
	if raw == "" {
		return nil
	}
	var out []policy.ContentFilter
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, policy.ContentFilter{Preset: name})
	}
	return out
}

func recordScan(holder *audit.ScanResultHolder, detections int, action string, types []string) {
	if holder == nil {
		return
	}
	holder.Detections += detections
	if holder.Action == "" || action == "blocked" {
		holder.Action = action
	}
	holder.Types = strings.Join(dedupStrings(types), ",")
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// redactFindings rewrites each matched span of body with a mask or
// tokenized replacement, highest offset first so earlier spans' indices
// stay valid as later ones are rewritten.
func redactFindings(body []byte, findings []policy.PresetFinding, strategy policy.RedactStrategy) []byte {
	sort.Slice(findings, func(i, j int) bool { return findings[i].Start > findings[j].Start })
	out := body
	for _, f := range findings {
		if f.Start < 0 || f.End > len(out) || f.Start > f.End {
			continue
		}
		replacement := "[REDACTED]"
		if strategy == policy.RedactTokenize {
			replacement = tokenizeValue(f.MatchedText)
		}
		var buf bytes.Buffer
		buf.Write(out[:f.Start])
		buf.WriteString(replacement)
		buf.Write(out[f.End:])
		out = buf.Bytes()
	}
	return out
}
