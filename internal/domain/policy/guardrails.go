package policy

import (
	"fmt"
	"regexp"
)

// maxPatternLength bounds a single guardrail pattern's source length.
// Go's regexp package compiles to RE2, which guarantees linear-time
// matching with no backtracking, so unlike a backtracking engine a
// pathological pattern cannot cause exponential blowup; the length cap
// instead bounds compile time and memory for the generated DFA/NFA.
const maxPatternLength = 512

// maxPresetPatterns bounds how many patterns a single preset may compile,
// so a misconfigured preset cannot make every scan O(n) in an unbounded n.
const maxPresetPatterns = 64

// GuardrailAction is what a content filter preset does on match.
type GuardrailAction string

const (
	GuardrailBlock  GuardrailAction = "block"
	GuardrailRedact GuardrailAction = "redact"
)

type guardrailPattern struct {
	name string
	re   *regexp.Regexp
}

// Preset is a precompiled bundle of patterns sharing one preset name (the
// value referenced by a ContentFilter effect's Preset field).
type Preset struct {
	Name     string
	Action   GuardrailAction
	Strategy RedactStrategy
	patterns []guardrailPattern
}

// PresetFinding is one matched span within scanned text.
type PresetFinding struct {
	PresetName  string
	PatternName string
	MatchedText string
	Start       int
	End         int
}

// Scan runs every compiled pattern in the preset against text, returning
// every match. Empty text returns immediately.
func (p *Preset) Scan(text string) []PresetFinding {
	if text == "" {
		return nil
	}
	var out []PresetFinding
	for _, pat := range p.patterns {
		for _, loc := range pat.re.FindAllStringIndex(text, -1) {
			matched := text[loc[0]:loc[1]]
			if len(matched) > 200 {
				matched = matched[:200]
			}
			out = append(out, PresetFinding{
				PresetName: p.Name, PatternName: pat.name,
				MatchedText: matched, Start: loc[0], End: loc[1],
			})
		}
	}
	return out
}

type rawPattern struct {
	name    string
	pattern string
}

// compilePreset validates and compiles a preset's raw patterns, rejecting
// any pattern over maxPatternLength or any bundle over maxPresetPatterns.
func compilePreset(name string, action GuardrailAction, strategy RedactStrategy, raw []rawPattern) (*Preset, error) {
	if len(raw) > maxPresetPatterns {
		return nil, fmt.Errorf("policy: preset %q has %d patterns, max %d", name, len(raw), maxPresetPatterns)
	}
	compiled := make([]guardrailPattern, 0, len(raw))
	for _, rp := range raw {
		if len(rp.pattern) > maxPatternLength {
			return nil, fmt.Errorf("policy: preset %q pattern %q exceeds %d characters", name, rp.name, maxPatternLength)
		}
		re, err := regexp.Compile(rp.pattern)
		if err != nil {
			return nil, fmt.Errorf("policy: preset %q pattern %q: %w", name, rp.name, err)
		}
		compiled = append(compiled, guardrailPattern{name: rp.name, re: re})
	}
	return &Preset{Name: name, Action: action, Strategy: strategy, patterns: compiled}, nil
}

// PresetRegistry holds every compiled preset available to ContentFilter
// effects, keyed by name.
type PresetRegistry struct {
	presets map[string]*Preset
}

// NewPresetRegistry compiles and returns the built-in guardrail presets.
// Compilation happens once at construction (policy load time); the
// returned registry is read-only and safe for concurrent use.
func NewPresetRegistry() (*PresetRegistry, error) {
	reg := &PresetRegistry{presets: make(map[string]*Preset)}
	builders := []func() (*Preset, error){
		buildPIIBasicPreset,
		buildPIIStrictPreset,
		buildPromptInjectionPreset,
		buildCodeInjectionPreset,
		buildHIPAAPreset,
		buildPCIPreset,
		buildTopicFencePreset,
	}
	for _, build := range builders {
		p, err := build()
		if err != nil {
			return nil, err
		}
		reg.presets[p.Name] = p
	}
	return reg, nil
}

// Get returns a compiled preset by name.
func (r *PresetRegistry) Get(name string) (*Preset, bool) {
	p, ok := r.presets[name]
	return p, ok
}

func buildPIIBasicPreset() (*Preset, error) {
	return compilePreset("pii_basic", GuardrailRedact, RedactMask, []rawPattern{
		{"email", `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`},
		{"phone_us", `\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`},
	})
}

func buildPIIStrictPreset() (*Preset, error) {
	return compilePreset("pii_strict", GuardrailRedact, RedactTokenize, []rawPattern{
		{"email", `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`},
		{"phone_us", `\b(?:\+?1[-. ]?)?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`},
		{"ssn", `\b\d{3}-\d{2}-\d{4}\b`},
		{"ip_address", `\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`},
	})
}

func buildPromptInjectionPreset() (*Preset, error) {
	return compilePreset("prompt_injection", GuardrailBlock, "", []rawPattern{
		{"system_prompt_override", `(?i)(?:ignore|disregard|forget)\s+(?:all\s+)?(?:previous|prior|above|earlier)\s+(?:instructions|prompts|rules|context)`},
		{"role_hijack", `(?i)you\s+are\s+(?:now|actually|really)\s+(?:a|an|my)\s+`},
		{"instruction_injection", `(?i)(?:new\s+instructions?|updated?\s+(?:instructions?|rules?|prompt)):\s*`},
		{"system_tag_injection", `(?i)<\s*(?:system|assistant|user|human|ai)\s*>`},
		{"delimiter_escape", "(?i)(?:```|---|\\.{3})\\s*(?:system|instructions?|rules?)\\s*(?:```|---|\\.{3})"},
		{"do_anything_now", `(?i)(?:DAN|do\s+anything\s+now|jailbreak|ignore\s+safety)`},
	})
}

func buildCodeInjectionPreset() (*Preset, error) {
	return compilePreset("code_injection", GuardrailBlock, "", []rawPattern{
		{"shell_metachar_chain", "(?:;|\\|\\||&&)\\s*(?:rm|curl|wget|nc|bash|sh)\\s"},
		{"eval_exec_call", `(?i)\b(?:eval|exec|subprocess\.|os\.system)\s*\(`},
		{"base64_decode_pipe", `(?i)base64\s+(?:-d|--decode)\s*\|`},
	})
}

func buildHIPAAPreset() (*Preset, error) {
	return compilePreset("hipaa", GuardrailRedact, RedactTokenize, []rawPattern{
		{"medical_record_number", `\bMRN[:\s]*\d{6,10}\b`},
		{"ssn", `\b\d{3}-\d{2}-\d{4}\b`},
		{"dob", `\b(?:0[1-9]|1[0-2])/(?:0[1-9]|[12]\d|3[01])/(?:19|20)\d{2}\b`},
	})
}

func buildPCIPreset() (*Preset, error) {
	return compilePreset("pci", GuardrailRedact, RedactTokenize, []rawPattern{
		{"card_number", `\b(?:\d[ -]*?){13,16}\b`},
		{"cvv", `\bcvv[:\s]*\d{3,4}\b`},
	})
}

// buildTopicFencePreset blocks a fixed set of off-limits discussion topics.
// Unlike the other presets this is a coarse keyword fence, not a precision
// detector; admins compose a dedicated Policy rule for anything narrower.
func buildTopicFencePreset() (*Preset, error) {
	return compilePreset("topic_fence", GuardrailBlock, "", []rawPattern{
		{"weapons", `(?i)\b(?:build|make|synthesize)\s+(?:a\s+)?(?:bomb|explosive|weapon)\b`},
		{"self_harm", `(?i)\b(?:how\s+to\s+)?(?:commit\s+suicide|self[- ]harm)\b`},
	})
}

// LengthLimitPreset is a non-regex guardrail: block or redact content past
// a fixed byte length. It is not stored in PresetRegistry alongside the
// regex presets because it carries a configurable parameter (MaxBytes)
// rather than being a fixed compiled bundle.
type LengthLimitPreset struct {
	MaxBytes int
}

// Check returns true (a match) when text exceeds MaxBytes.
func (l LengthLimitPreset) Check(text string) bool {
	return len(text) > l.MaxBytes
}
