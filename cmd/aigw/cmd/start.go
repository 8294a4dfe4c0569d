package cmd

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ailink/gateway/internal/adapter/inbound/admin"
	gwhttp "github.com/ailink/gateway/internal/adapter/inbound/http"
	auditfile "github.com/ailink/gateway/internal/adapter/outbound/audit"
	"github.com/ailink/gateway/internal/adapter/outbound/cel"
	"github.com/ailink/gateway/internal/adapter/outbound/httptransport"
	"github.com/ailink/gateway/internal/adapter/outbound/memory"
	"github.com/ailink/gateway/internal/adapter/outbound/sqlite"
	"github.com/ailink/gateway/internal/config"
	"github.com/ailink/gateway/internal/domain/audit"
	"github.com/ailink/gateway/internal/domain/breaker"
	"github.com/ailink/gateway/internal/domain/hitl"
	"github.com/ailink/gateway/internal/domain/policy"
	"github.com/ailink/gateway/internal/domain/proxy"
	"github.com/ailink/gateway/internal/domain/ratelimit"
	"github.com/ailink/gateway/internal/domain/spend"
	"github.com/ailink/gateway/internal/domain/token"
	"github.com/ailink/gateway/internal/domain/translator"
	"github.com/ailink/gateway/internal/domain/upstream"
	"github.com/ailink/gateway/internal/domain/vault"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	Long: `Start the AILink Gateway HTTP server.

The gateway authenticates every call with a virtual token, evaluates CEL
policies against the request and response, applies rate limits and spend
caps, and forwards the call to the project's configured upstream.

Examples:
  # Start with config file settings
  aigw start

  # Start with a specific config file
  aigw --config /path/to/ailink-gateway.yaml start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, relaxed validation, in-memory database)")
	rootCmd.AddCommand(startCmd)
}

var devMode bool

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}

	cfg.SetDevDefaults()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	if cfg.DevMode {
		logger.Warn("dev mode enabled: validation is relaxed and the database defaults to :memory: — do not use in production")
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("aigw stopped")
	return nil
}

// run wires every adapter to its domain port and blocks until ctx is
// canceled. It follows the hexagonal wiring order: stores first, then the
// domain services built on them, then the inbound adapters that drive the
// pipeline.
func run(ctx context.Context, cfg *config.GatewayConfig, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.Database.Path)

	masterKey, err := loadMasterKey(cfg.Vault.MasterKeyEnv)
	if err != nil {
		return fmt.Errorf("load vault master key: %w", err)
	}

	vaultStore := sqlite.NewVaultStore(db)
	credentialVault := vault.New(vaultStore, masterKey)

	tokenStore := sqlite.NewTokenStore(db)
	tokenCache := token.NewInMemoryCache(30 * time.Second)
	tokenResolver := token.NewResolver(tokenStore, tokenCache)

	celEvaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("create CEL evaluator: %w", err)
	}
	policyStore := sqlite.NewPolicyStore(db, celEvaluator)
	policyEngine := policy.NewEngine()
	guardrails, err := policy.NewPresetRegistry()
	if err != nil {
		return fmt.Errorf("compile guardrail presets: %w", err)
	}

	recoveryCooldown, err := time.ParseDuration(cfg.Breaker.RecoveryCooldown)
	if err != nil {
		recoveryCooldown = 30 * time.Second
		logger.Warn("invalid breaker.recovery_cooldown, using default", "value", cfg.Breaker.RecoveryCooldown, "default", recoveryCooldown)
	}
	breakerRegistry := breaker.NewRegistry(breaker.Config{
		FailureThreshold:    cfg.Breaker.FailureThreshold,
		RecoveryCooldown:    recoveryCooldown,
		HalfOpenMaxRequests: cfg.Breaker.HalfOpenMaxRequests,
	})

	upstreamStore := sqlite.NewUpstreamStore(db)
	upstreamSelector := upstream.NewSelector(breakerRegistry)

	translatorResolver := translator.NewResolver(bedrockSecretResolver(db, credentialVault))

	spendStore := sqlite.NewSpendStore(db)
	pricingTable := spend.NewPricingTable(nil)
	spendLedger := spend.NewLedger(spendStore, pricingTable)

	approvalStore := sqlite.NewApprovalStore(db)
	hitlQueue := hitl.NewQueueWithStore(approvalStore)

	var rateLimiter ratelimit.RateLimiter
	var memRateLimiter *memory.MemoryRateLimiter
	if cfg.RateLimit.Enabled {
		cleanupInterval, err := time.ParseDuration(cfg.RateLimit.CleanupInterval)
		if err != nil {
			cleanupInterval = 5 * time.Minute
		}
		maxTTL, err := time.ParseDuration(cfg.RateLimit.MaxTTL)
		if err != nil {
			maxTTL = time.Hour
		}
		memRateLimiter = memory.NewRateLimiterWithConfig(cleanupInterval, maxTTL)
		rateLimiter = memRateLimiter
	}

	auditStore := sqlite.NewAuditStore(db)
	defer func() { _ = auditStore.Close() }()
	auditSink, err := auditfile.NewSpillingStore(auditStore, auditPayloadDir(cfg.Database.Path), 0)
	if err != nil {
		return fmt.Errorf("create audit payload spill dir: %w", err)
	}
	auditEmitter := audit.NewEmitter(auditSink, logger, cfg.Audit.QueueSize)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = auditEmitter.Close(shutdownCtx)
	}()

	outboundTransport := httptransport.New()

	pipeline := &proxy.Pipeline{
		Tokens:      tokenResolver,
		Policies:    policyStore,
		Engine:      policyEngine,
		Guardrails:  guardrails,
		Vault:       credentialVault,
		Upstreams:   upstreamSelector,
		Services:    upstreamStore,
		Translators: translatorResolver,
		Spend:       spendLedger,
		Approvals:   hitlQueue,
		RateLimiter: rateLimiter,
		Audit:       auditEmitter,
		Transport:   outboundTransport,
	}

	if err := seedBootstrapAdminKey(ctx, db, tokenStore, cfg.Bootstrap.AdminKeyHash, logger); err != nil {
		return fmt.Errorf("seed bootstrap admin key: %w", err)
	}

	ruleCount, err := seedBootstrapPolicies(ctx, db, policyStore, celEvaluator, cfg.Bootstrap.Policies, logger)
	if err != nil {
		return fmt.Errorf("seed bootstrap policies: %w", err)
	}

	apiHandler := admin.NewAdminAPIHandler(
		admin.WithAdminResolver(tokenResolver),
		admin.WithTokenStore(tokenStore),
		admin.WithTokenCache(tokenCache),
		admin.WithVault(credentialVault),
		admin.WithVaultStore(vaultStore),
		admin.WithPolicyStore(policyStore),
		admin.WithCELEvaluator(celEvaluator),
		admin.WithUpstreamStore(upstreamStore),
		admin.WithSpendStore(spendStore),
		admin.WithHITLQueue(hitlQueue),
		admin.WithHITLStore(approvalStore),
		admin.WithAuditQueryStore(auditStore),
		admin.WithComplianceStore(sqlite.NewComplianceStore(db)),
		admin.WithBreakerRegistry(breakerRegistry),
		admin.WithAPILogger(logger),
		admin.WithBuildInfo(&admin.BuildInfo{
			Version:   Version,
			Commit:    Commit,
			BuildDate: BuildDate,
		}),
		admin.WithStartTime(startTime),
	)

	healthChecker := gwhttp.NewHealthChecker(memRateLimiter, auditEmitter, Version)

	serviceProxy := gwhttp.NewServiceProxyHandler(tokenResolver, upstreamStore, outboundTransport.Client(), logger)

	serverOpts := []gwhttp.Option{
		gwhttp.WithAddr(cfg.Server.HTTPAddr),
		gwhttp.WithLogger(logger),
		gwhttp.WithAdminHandler(apiHandler.Routes()),
		gwhttp.WithHealthChecker(healthChecker),
		gwhttp.WithServiceProxy(serviceProxy),
	}
	if cfg.RateLimit.Enabled && rateLimiter != nil {
		serverOpts = append(serverOpts, gwhttp.WithIngressRateLimiter(rateLimiter, gwhttp.IngressRateLimitConfig{
			Enabled:   true,
			IPRate:    cfg.RateLimit.IPRate,
			TokenRate: cfg.RateLimit.TokenRate,
		}))
	}

	server := gwhttp.NewServer(pipeline, serverOpts...)

	printBanner(Version, cfg.Server.HTTPAddr, cfg.DevMode, ruleCount)

	logger.Info("aigw starting", "addr", cfg.Server.HTTPAddr, "dev_mode", cfg.DevMode)
	return server.Start(ctx)
}

// loadMasterKey reads a 64-character hex-encoded 32-byte AES key from the
// named environment variable.
func loadMasterKey(envVar string) ([32]byte, error) {
	var key [32]byte
	raw := os.Getenv(envVar)
	if raw == "" {
		return key, fmt.Errorf("environment variable %s is not set", envVar)
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return key, fmt.Errorf("%s is not valid hex: %w", envVar, err)
	}
	if len(decoded) != 32 {
		return key, fmt.Errorf("%s must decode to 32 bytes, got %d", envVar, len(decoded))
	}
	copy(key[:], decoded)
	return key, nil
}

// bedrockSecretResolver returns the callback translator.NewResolver needs
// to sign Bedrock requests: given the upstream URL a request was routed
// to, find the upstream_services row with that base URL (across every
// project — translator.Resolver has no project context), decrypt its
// credential, and derive the AWS region from the Bedrock hostname.
func bedrockSecretResolver(db *sqlite.DB, v *vault.Vault) func(upstreamURL string) (vault.SigV4Secret, error) {
	return func(upstreamURL string) (vault.SigV4Secret, error) {
		var credentialID string
		err := db.Conn().QueryRow(
			"SELECT credential_id FROM upstream_services WHERE base_url = ? LIMIT 1", upstreamURL,
		).Scan(&credentialID)
		if errors.Is(err, sql.ErrNoRows) {
			return vault.SigV4Secret{}, fmt.Errorf("bedrock: no upstream service registered for %s", upstreamURL)
		}
		if err != nil {
			return vault.SigV4Secret{}, fmt.Errorf("bedrock: look up service for %s: %w", upstreamURL, err)
		}
		if credentialID == "" {
			return vault.SigV4Secret{}, fmt.Errorf("bedrock: upstream service for %s has no credential", upstreamURL)
		}

		raw, _, err := v.Decrypt(context.Background(), credentialID)
		if err != nil {
			return vault.SigV4Secret{}, fmt.Errorf("bedrock: decrypt credential %s: %w", credentialID, err)
		}

		return vault.ParseSigV4Secret(raw, bedrockRegionFromURL(upstreamURL), "bedrock")
	}
}

// bedrockRegionFromURL extracts the AWS region from a Bedrock runtime
// hostname, e.g. "bedrock-runtime.us-east-1.amazonaws.com" -> "us-east-1".
// Falls back to "us-east-1" when the hostname doesn't match the expected
// shape, so a malformed URL degrades to a (likely wrong, but non-fatal)
// signature rather than a panic.
func bedrockRegionFromURL(rawURL string) string {
	host := rawURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/:"); i >= 0 {
		host = host[:i]
	}
	parts := strings.Split(host, ".")
	for i, p := range parts {
		if p == "bedrock-runtime" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return "us-east-1"
}

// seedBootstrapAdminKey inserts cfg.Bootstrap.AdminKeyHash as the first
// admin key, but only when the token store has no admin key at all. There
// is no Store method to create an admin key — by design, admin keys are
// only ever minted by this bootstrap step or by directly editing the
// database; the management API itself has no admin-key-create endpoint.
func seedBootstrapAdminKey(ctx context.Context, db *sqlite.DB, store token.Store, hash string, logger *slog.Logger) error {
	existing, err := store.ListAdminKeys(ctx)
	if err != nil {
		return fmt.Errorf("list admin keys: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	if hash == "" {
		logger.Warn("no admin keys exist and bootstrap.admin_key_hash is empty — the management API is unreachable until one is seeded")
		return nil
	}

	scopes, err := json.Marshal([]string{string(token.ScopeAdmin)})
	if err != nil {
		return err
	}
	_, err = db.Conn().ExecContext(ctx,
		`INSERT INTO admin_keys (key_hash, id, name, scopes_json, revoked) VALUES (?, ?, ?, ?, 0)`,
		hash, uuid.New().String(), "bootstrap", string(scopes),
	)
	if err != nil {
		return fmt.Errorf("insert bootstrap admin key: %w", err)
	}
	logger.Info("bootstrap admin key seeded")
	return nil
}

// seedBootstrapPolicies loads cfg policies into the policy store, but only
// when the store is empty — administrators are expected to manage
// policies through the management API from then on. Returns the total
// rule count across every policy currently in the store (seeded or not),
// for the startup banner.
func seedBootstrapPolicies(ctx context.Context, db *sqlite.DB, store policy.Store, eval *cel.Evaluator, policies []config.PolicyConfig, logger *slog.Logger) (int, error) {
	var count int
	if err := db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM policies").Scan(&count); err != nil {
		return 0, fmt.Errorf("count existing policies: %w", err)
	}

	if count == 0 && len(policies) > 0 {
		for _, pc := range policies {
			p, err := decodeBootstrapPolicy(pc, eval)
			if err != nil {
				return 0, fmt.Errorf("decode bootstrap policy %s: %w", pc.Name, err)
			}
			if err := store.SavePolicy(ctx, p); err != nil {
				return 0, fmt.Errorf("save bootstrap policy %s: %w", pc.Name, err)
			}
		}
		logger.Info("bootstrap policies seeded", "policies", len(policies))
	}

	ruleCount, err := countPolicyRules(ctx, db)
	if err != nil {
		return 0, fmt.Errorf("count policy rules: %w", err)
	}
	return ruleCount, nil
}

// countPolicyRules sums the rule count across every stored policy, for the
// startup banner. Counted in Go rather than with a SQLite JSON function, so
// it doesn't depend on the JSON1 extension being compiled into the driver.
func countPolicyRules(ctx context.Context, db *sqlite.DB) (int, error) {
	rows, err := db.Conn().QueryContext(ctx, "SELECT rules_json FROM policies")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var rulesJSON string
		if err := rows.Scan(&rulesJSON); err != nil {
			return 0, err
		}
		var rules []json.RawMessage
		if err := json.Unmarshal([]byte(rulesJSON), &rules); err != nil {
			continue
		}
		total += len(rules)
	}
	return total, rows.Err()
}

// decodeBootstrapPolicy turns a YAML PolicyConfig into a policy.Policy,
// compiling each rule's CEL predicate and decoding its tagged-union
// effect. now is a parameter (not time.Now()) so bootstrap seeding stays
// deterministic across a resumed boot.
func decodeBootstrapPolicy(pc config.PolicyConfig, eval *cel.Evaluator) (*policy.Policy, error) {
	mode := policy.ModeEnforce
	if pc.Mode == string(policy.ModeShadow) {
		mode = policy.ModeShadow
	}
	phase := policy.PhasePre
	if pc.Phase == string(policy.PhasePost) {
		phase = policy.PhasePost
	}

	now := time.Now().UTC()
	rules := make([]policy.Rule, 0, len(pc.Rules))
	for _, rc := range pc.Rules {
		pred, err := eval.CompilePredicate(rc.When)
		if err != nil {
			return nil, fmt.Errorf("rule %s: compile when: %w", rc.Name, err)
		}
		effect, err := bootstrapEffectFromConfig(rc.Then)
		if err != nil {
			return nil, fmt.Errorf("rule %s: decode then: %w", rc.Name, err)
		}
		rules = append(rules, policy.Rule{
			ID:        uuid.New().String(),
			Name:      rc.Name,
			Priority:  rc.Priority,
			When:      pred,
			WhenExpr:  rc.When,
			Then:      effect,
			CreatedAt: now,
		})
	}

	return &policy.Policy{
		ID:        uuid.New().String(),
		ProjectID: pc.ProjectID,
		Name:      pc.Name,
		Mode:      mode,
		Phase:     phase,
		Rules:     rules,
		Version:   1,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// bootstrapEffectFromConfig decodes a RuleEffectConfig's (kind, data) pair
// into the matching policy.RuleEffect. This duplicates the admin package's
// unexported effectFromWire rather than exporting it: the two wire shapes
// differ (YAML's inline map here vs. the admin API's JSON request body
// there), and the two packages have no other reason to share a type.
func bootstrapEffectFromConfig(rc config.RuleEffectConfig) (policy.RuleEffect, error) {
	raw, err := json.Marshal(rc.Data)
	if err != nil {
		return nil, err
	}

	switch rc.Kind {
	case "allow":
		return policy.Allow{}, nil
	case "deny":
		var e policy.Deny
		return e, json.Unmarshal(raw, &e)
	case "require_approval":
		var w struct {
			TTLSeconds     float64 `json:"ttl_seconds"`
			IdempotencyKey string  `json:"idempotency_key"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		return policy.RequireApproval{
			TTL:            time.Duration(w.TTLSeconds * float64(time.Second)),
			IdempotencyKey: w.IdempotencyKey,
		}, nil
	case "redact":
		var e policy.Redact
		return e, json.Unmarshal(raw, &e)
	case "rate_limit":
		var e policy.RateLimit
		return e, json.Unmarshal(raw, &e)
	case "route":
		var e policy.Route
		return e, json.Unmarshal(raw, &e)
	case "split":
		var e policy.Split
		return e, json.Unmarshal(raw, &e)
	case "log_level":
		var e policy.LogLevel
		return e, json.Unmarshal(raw, &e)
	case "content_filter":
		var e policy.ContentFilter
		return e, json.Unmarshal(raw, &e)
	default:
		return nil, fmt.Errorf("unknown rule effect kind %q", rc.Kind)
	}
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr.
func printBanner(version, httpAddr string, devMode bool, ruleCount int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	adminURL := fmt.Sprintf("http://localhost%s/api/v1", httpAddr)
	proxyURL := fmt.Sprintf("http://localhost%s/v1", httpAddr)
	if !strings.HasPrefix(httpAddr, ":") {
		adminURL = fmt.Sprintf("http://%s/api/v1", httpAddr)
		proxyURL = fmt.Sprintf("http://%s/v1", httpAddr)
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s AILink Gateway %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Admin API:", adminURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Proxy:", proxyURL)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %d active\n", "Rules:", ruleCount)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// auditPayloadDir returns where oversized audit request/response bodies
// spill to disk. It lives alongside the sqlite database file so a
// single --database-path / AILINK_DATABASE_PATH override relocates
// both; for an in-memory database (dev mode) it falls back to the same
// ~/.ailink-gateway directory the PID file and hash-key command use.
func auditPayloadDir(databasePath string) string {
	if databasePath != "" && databasePath != ":memory:" {
		return filepath.Join(filepath.Dir(databasePath), "audit-payloads")
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".ailink-gateway", "audit-payloads")
	}
	return filepath.Join(os.TempDir(), "ailink-gateway-audit-payloads")
}

// pidFilePath returns the standard location for the gateway PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".ailink-gateway", "server.pid")
	}
	return filepath.Join(os.TempDir(), "ailink-gateway-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// readPIDFile reads a PID from the given file path. Returns 0 if unreadable.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
