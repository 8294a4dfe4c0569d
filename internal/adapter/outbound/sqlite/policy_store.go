package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ailink/gateway/internal/adapter/outbound/cel"
	"github.com/ailink/gateway/internal/domain/policy"
)

// PolicyStore implements policy.Store against a sqlite database. Each
// rule's `when` CEL source is recompiled into a policy.Predicate at read
// time via the shared cel.Evaluator; `then` effects round-trip through a
// small tagged-union JSON codec (encodeEffect/decodeEffect below).
type PolicyStore struct {
	db   *DB
	eval *cel.Evaluator
}

// NewPolicyStore constructs a PolicyStore. eval compiles each rule's
// WhenExpr into a live policy.Predicate on every read.
func NewPolicyStore(db *DB, eval *cel.Evaluator) *PolicyStore {
	return &PolicyStore{db: db, eval: eval}
}

func (s *PolicyStore) GetEnabledForToken(ctx context.Context, tokenID string) ([]policy.Policy, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT p.id, p.project_id, p.name, p.description, p.mode, p.phase, p.rules_json,
		       p.version, p.enabled, p.created_at, p.updated_at
		FROM policy_token_links l
		JOIN policies p ON p.id = l.policy_id
		WHERE l.token_id = ? AND p.enabled = 1
		ORDER BY l.position ASC
	`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list enabled policies for token %s: %w", tokenID, err)
	}
	defer rows.Close()

	var out []policy.Policy
	for rows.Next() {
		p, err := s.scanPolicyRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan policy row: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PolicyStore) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	row := s.db.Conn().QueryRowContext(ctx, `
		SELECT id, project_id, name, description, mode, phase, rules_json, version,
		       enabled, created_at, updated_at
		FROM policies WHERE id = ?
	`, id)
	p, err := s.scanPolicyRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy: %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get policy %s: %w", id, err)
	}
	return p, nil
}

func (s *PolicyStore) SavePolicy(ctx context.Context, p *policy.Policy) error {
	rulesJSON, err := encodeRules(p.Rules)
	if err != nil {
		return fmt.Errorf("sqlite: encode rules for policy %s: %w", p.ID, err)
	}

	var existingVersion int
	err = s.db.Conn().QueryRowContext(ctx, "SELECT version FROM policies WHERE id = ?", p.ID).Scan(&existingVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if p.Version == 0 {
			p.Version = 1
		}
	case err != nil:
		return fmt.Errorf("sqlite: check existing policy %s: %w", p.ID, err)
	default:
		p.Version = existingVersion + 1
	}

	_, err = s.db.Conn().ExecContext(ctx, `
		INSERT INTO policies (id, project_id, name, description, mode, phase, rules_json, version,
			enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id, name = excluded.name, description = excluded.description,
			mode = excluded.mode, phase = excluded.phase, rules_json = excluded.rules_json,
			version = excluded.version, enabled = excluded.enabled, updated_at = excluded.updated_at
	`, p.ID, p.ProjectID, p.Name, p.Description, string(p.Mode), string(p.Phase), rulesJSON,
		p.Version, boolToInt(p.Enabled), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: save policy %s: %w", p.ID, err)
	}
	return nil
}

func (s *PolicyStore) DeletePolicy(ctx context.Context, id string) error {
	result, err := s.db.Conn().ExecContext(ctx, "DELETE FROM policies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete policy %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("policy: %s not found", id)
	}
	_, err = s.db.Conn().ExecContext(ctx, "DELETE FROM policy_token_links WHERE policy_id = ?", id)
	if err != nil {
		return fmt.Errorf("sqlite: delete policy links for %s: %w", id, err)
	}
	return nil
}

// AttachToToken replaces tokenID's policy link list, in evaluation order.
// Not part of policy.Store; used by the management API when a token's
// PolicyIDs list changes.
func (s *PolicyStore) AttachToToken(ctx context.Context, tokenID string, policyIDs []string) error {
	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin attach-to-token: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM policy_token_links WHERE token_id = ?", tokenID); err != nil {
		return fmt.Errorf("sqlite: clear policy links for %s: %w", tokenID, err)
	}
	for i, policyID := range policyIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO policy_token_links (token_id, policy_id, position) VALUES (?, ?, ?)",
			tokenID, policyID, i); err != nil {
			return fmt.Errorf("sqlite: link policy %s to token %s: %w", policyID, tokenID, err)
		}
	}
	return tx.Commit()
}

func (s *PolicyStore) scanPolicyRow(scan func(dest ...any) error) (*policy.Policy, error) {
	var p policy.Policy
	var mode, phase, rulesJSON string
	var enabledInt int

	if err := scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &mode, &phase, &rulesJSON,
		&p.Version, &enabledInt, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Mode = policy.Mode(mode)
	p.Phase = policy.Phase(phase)
	p.Enabled = enabledInt != 0

	rules, err := s.decodeRules(rulesJSON)
	if err != nil {
		return nil, fmt.Errorf("decode rules_json: %w", err)
	}
	p.Rules = rules
	return &p, nil
}

// wireRule is the JSON-serializable shape of a policy.Rule: When is
// recompiled from WhenExpr via cel.Evaluator, never stored directly.
type wireRule struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Priority  int             `json:"priority"`
	WhenExpr  string          `json:"when_expr"`
	ThenKind  string          `json:"then_kind"`
	ThenData  json.RawMessage `json:"then_data"`
	CreatedAt string          `json:"created_at"`
}

func encodeRules(rules []policy.Rule) (string, error) {
	wire := make([]wireRule, len(rules))
	for i, r := range rules {
		kind, data, err := encodeEffect(r.Then)
		if err != nil {
			return "", fmt.Errorf("rule %s: %w", r.ID, err)
		}
		wire[i] = wireRule{
			ID:        r.ID,
			Name:      r.Name,
			Priority:  r.Priority,
			WhenExpr:  r.WhenExpr,
			ThenKind:  kind,
			ThenData:  data,
			CreatedAt: r.CreatedAt.Format(rfc3339),
		}
	}
	b, err := json.Marshal(wire)
	return string(b), err
}

func (s *PolicyStore) decodeRules(data string) ([]policy.Rule, error) {
	var wire []wireRule
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		return nil, err
	}

	rules := make([]policy.Rule, len(wire))
	for i, w := range wire {
		effect, err := decodeEffect(w.ThenKind, w.ThenData)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", w.ID, err)
		}
		predicate, err := s.eval.CompilePredicate(w.WhenExpr)
		if err != nil {
			return nil, fmt.Errorf("rule %s: compile when_expr %q: %w", w.ID, w.WhenExpr, err)
		}
		createdAt, err := parseRFC3339(w.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("rule %s: parse created_at: %w", w.ID, err)
		}
		rules[i] = policy.Rule{
			ID:        w.ID,
			Name:      w.Name,
			Priority:  w.Priority,
			When:      predicate,
			WhenExpr:  w.WhenExpr,
			Then:      effect,
			CreatedAt: createdAt,
		}
	}
	return rules, nil
}

// Compile-time interface verification.
var _ policy.Store = (*PolicyStore)(nil)
