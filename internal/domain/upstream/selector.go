package upstream

import (
	"errors"
	"math/rand"
	"sort"

	"github.com/ailink/gateway/internal/domain/breaker"
	"github.com/ailink/gateway/internal/domain/token"
)

// ErrNoUpstreamAvailable is returned when every priority tier is without
// an eligible member and the token carries no fallback URL. Callers
// should surface this as HTTP 503 with the error code no_upstream_available.
var ErrNoUpstreamAvailable = errors.New("upstream: no upstream available")

// Selection is the outcome of a selector pick: which upstream to call,
// whether this call consumes a half-open probe slot (and so must report
// its outcome back to the breaker), and whether it fell through to the
// token's unguarded FallbackURL.
type Selection struct {
	URL          string
	CredentialID string
	CircuitState breaker.State
	IsProbe      bool
	IsFallback   bool
}

// Selector picks a candidate upstream from a token's ranked, weighted
// list, consulting a breaker.Registry for per-(token,upstream) circuit
// eligibility. It implements the weighted-priority routing described for
// the Upstream Selector: within the lowest-numbered priority tier that
// has at least one eligible member, a weighted-random pick is made;
// ties and single-candidate tiers reduce to a deterministic pick.
type Selector struct {
	breakers *breaker.Registry
}

// NewSelector creates a Selector backed by the given breaker registry.
func NewSelector(breakers *breaker.Registry) *Selector {
	return &Selector{breakers: breakers}
}

// Select picks an upstream for rec, given the virtual token it is
// routing on behalf of.
func (s *Selector) Select(rec *token.Record) (Selection, error) {
	cfg := toBreakerConfig(rec.CircuitBreaker)

	for _, tier := range groupByPriority(rec.Upstreams) {
		type candidate struct {
			ref   token.UpstreamRef
			probe bool
			state breaker.State
		}
		var eligible []candidate
		for _, ref := range tier {
			ok, probe := s.breakers.Eligible(rec.ID, ref.URL, cfg)
			if !ok {
				continue
			}
			eligible = append(eligible, candidate{ref: ref, probe: probe, state: s.breakers.CurrentState(rec.ID, ref.URL, cfg)})
		}
		if len(eligible) == 0 {
			continue
		}

		total := 0
		for _, c := range eligible {
			total += weightOrOne(c.ref.Weight)
		}
		pick := rand.Intn(total) // nolint:gosec
		for _, c := range eligible {
			pick -= weightOrOne(c.ref.Weight)
			if pick < 0 {
				return Selection{
					URL:          c.ref.URL,
					CredentialID: firstNonEmpty(c.ref.CredentialID, rec.CredentialID),
					CircuitState: c.state,
					IsProbe:      c.probe,
				}, nil
			}
		}
	}

	if rec.FallbackURL != "" {
		return Selection{
			URL:          rec.FallbackURL,
			CredentialID: rec.CredentialID,
			CircuitState: breaker.StateClosed,
			IsFallback:   true,
		}, nil
	}

	return Selection{}, ErrNoUpstreamAvailable
}

// RecordOutcome reports the result of a call made against sel back to the
// breaker registry. It is a no-op for fallback selections, since the
// fallback path is unguarded by design.
func (s *Selector) RecordOutcome(rec *token.Record, sel Selection, outcome breaker.Outcome) {
	if sel.IsFallback {
		return
	}
	cfg := toBreakerConfig(rec.CircuitBreaker)
	if breaker.IsFailure(outcome) {
		s.breakers.RecordFailure(rec.ID, sel.URL, cfg)
		return
	}
	s.breakers.RecordSuccess(rec.ID, sel.URL, cfg)
}

func toBreakerConfig(c token.CircuitBreakerConfig) breaker.Config {
	return breaker.Config{
		FailureThreshold:    c.FailureThreshold,
		RecoveryCooldown:    c.RecoveryCooldown,
		HalfOpenMaxRequests: c.HalfOpenMaxRequests,
		Disabled:            c.Disabled,
	}
}

// groupByPriority buckets refs by Priority and returns the buckets
// ordered ascending (lower Priority tried first).
func groupByPriority(refs []token.UpstreamRef) [][]token.UpstreamRef {
	byPriority := make(map[int][]token.UpstreamRef)
	for _, r := range refs {
		byPriority[r.Priority] = append(byPriority[r.Priority], r)
	}
	priorities := make([]int, 0, len(byPriority))
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	tiers := make([][]token.UpstreamRef, 0, len(priorities))
	for _, p := range priorities {
		tiers = append(tiers, byPriority[p])
	}
	return tiers
}

func weightOrOne(w int) int {
	if w <= 0 {
		return 1
	}
	return w
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
