package authcore

import (
	"errors"
	"math"
	"time"

	"github.com/rankwatch/authcore/ratelimit"
)

// Config is the full engine configuration. Zero values are not usable;
// start from DefaultConfig or ProductionConfig and override.
type Config struct {
	JWT               JWTConfig
	Session           SessionConfig
	RateLimit         RateLimitConfig
	Lockout           LockoutConfig
	TwoFactor         TwoFactorConfig
	Password          PasswordConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	Registration      RegistrationConfig
	Risk              RiskConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
	MultiTenant       MultiTenantConfig
	Security          SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls access-token issuance and verification.
// SigningMethod is "ed25519" (default) or "hs256". For ed25519 the keys are
// the raw 64/32-byte key material or PEM blocks; for hs256 PrivateKey is the
// shared secret. VerifyKeys maps additional key IDs to public keys so old
// tokens stay verifiable across a rotation.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the Redis session registry. IdleTimeout is the
// sliding window: a session unused for longer than this dies, even before
// AbsoluteLifetime. MaxSessionsPerIdentity caps concurrent sessions; the
// oldest is evicted when a login would exceed it.
type SessionConfig struct {
	RedisPrefix            string
	SlidingRenewal         bool
	IdleTimeout            time.Duration
	AbsoluteLifetime       time.Duration
	MaxSessionsPerIdentity int
	JitterEnabled          bool
	JitterRange            time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// BudgetConfig is one scope's fixed-window point budget. Block is how long
// the scope stays denied after the budget trips; zero means the deny lasts
// only until the counting window resets.
type BudgetConfig struct {
	Points int
	Window time.Duration
	Block  time.Duration
}

// RateLimitConfig holds one budget per scope. Login and password reset are
// double-keyed (IP and email must both pass) so a distributed attack on one
// account and a single-source spray are throttled independently.
type RateLimitConfig struct {
	API         BudgetConfig
	LoginIP     BudgetConfig
	LoginEmail  BudgetConfig
	ResetIP     BudgetConfig
	ResetEmail  BudgetConfig
	RegisterIP  BudgetConfig
	TwoFactor   BudgetConfig
	BackupCode  BudgetConfig
	EmailVerify BudgetConfig
}

func (c RateLimitConfig) budgets() map[ratelimit.Scope]ratelimit.Budget {
	return map[ratelimit.Scope]ratelimit.Budget{
		ratelimit.ScopeAPI:         {Points: c.API.Points, Window: c.API.Window, Block: c.API.Block},
		ratelimit.ScopeLoginIP:     {Points: c.LoginIP.Points, Window: c.LoginIP.Window, Block: c.LoginIP.Block},
		ratelimit.ScopeLoginEmail:  {Points: c.LoginEmail.Points, Window: c.LoginEmail.Window, Block: c.LoginEmail.Block},
		ratelimit.ScopeResetIP:     {Points: c.ResetIP.Points, Window: c.ResetIP.Window, Block: c.ResetIP.Block},
		ratelimit.ScopeResetEmail:  {Points: c.ResetEmail.Points, Window: c.ResetEmail.Window, Block: c.ResetEmail.Block},
		ratelimit.ScopeRegisterIP:  {Points: c.RegisterIP.Points, Window: c.RegisterIP.Window, Block: c.RegisterIP.Block},
		ratelimit.ScopeTwoFactor:   {Points: c.TwoFactor.Points, Window: c.TwoFactor.Window, Block: c.TwoFactor.Block},
		ratelimit.ScopeBackupCode:  {Points: c.BackupCode.Points, Window: c.BackupCode.Window, Block: c.BackupCode.Block},
		ratelimit.ScopeEmailVerify: {Points: c.EmailVerify.Points, Window: c.EmailVerify.Window, Block: c.EmailVerify.Block},
	}
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig sets the two-tier lockout ladder. SoftThreshold consecutive
// failures arm a SoftDuration lock; HardThreshold failures arm a
// HardDuration lock that supersedes it. Counters reset only on successful
// authentication.
type LockoutConfig struct {
	SoftThreshold int
	SoftDuration  time.Duration
	HardThreshold int
	HardDuration  time.Duration
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls TOTP enrollment and the login challenge step.
// Issuer appears in authenticator apps. ChallengeTTL bounds how long a
// password-verified login may wait for its second factor.
type TwoFactorConfig struct {
	Enabled              bool
	Issuer               string
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the Argon2id parameters (Memory in KiB) plus the
// accepted password length range. UpgradeOnLogin rehashes stored credentials
// transparently when parameters have been strengthened.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	MaxLength      int // 0 means password.DefaultMaxPasswordBytes
	UpgradeOnLogin bool
}

// PasswordResetConfig controls the reset challenge flow.
type PasswordResetConfig struct {
	Enabled     bool
	TokenTTL    time.Duration
	MaxAttempts int
}

// EmailVerificationConfig controls the verification challenge flow.
// RequireForLogin blocks login for unverified identities.
type EmailVerificationConfig struct {
	Enabled         bool
	TokenTTL        time.Duration
	MaxAttempts     int
	RequireForLogin bool
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

// RegistrationConfig controls self-service signup. AutoLogin issues a
// session immediately after Register for identities that are not pending
// verification.
type RegistrationConfig struct {
	Enabled   bool
	AutoLogin bool
}

/*
====================================
RISK CONFIG
====================================
*/

// RiskConfig tunes the risk scorer's observability. Scores never reject a
// request; at AlertThreshold and above the engine emits an elevated audit
// event and increments MetricRiskAlert.
type RiskConfig struct {
	AlertThreshold int
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// MultiTenantConfig enables tenant scoping. Disabled, every identity and
// session lives in the default tenant "0".
type MultiTenantConfig struct {
	Enabled bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds cross-cutting hardening switches.
// RecheckIdentityOnAuthenticate re-reads the identity on every Authenticate
// so status changes and lockouts take effect mid-session, at the cost of a
// credential-store read per request.
type SecurityConfig struct {
	ProductionMode                bool
	RecheckIdentityOnAuthenticate bool
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the development-oriented baseline: short access
// tokens, five-session cap, two-tier lockout, audit and metrics off.
// Signing keys must still be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:            "as",
			SlidingRenewal:         true,
			IdleTimeout:            24 * time.Hour,
			AbsoluteLifetime:       7 * 24 * time.Hour,
			MaxSessionsPerIdentity: 5,
			JitterEnabled:          true,
			JitterRange:            30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			API:         BudgetConfig{Points: 100, Window: time.Minute},
			LoginIP:     BudgetConfig{Points: 20, Window: 15 * time.Minute, Block: 5 * time.Minute},
			LoginEmail:  BudgetConfig{Points: 5, Window: 15 * time.Minute, Block: 15 * time.Minute},
			ResetIP:     BudgetConfig{Points: 5, Window: time.Hour, Block: time.Hour},
			ResetEmail:  BudgetConfig{Points: 3, Window: time.Hour, Block: time.Hour},
			RegisterIP:  BudgetConfig{Points: 5, Window: 15 * time.Minute, Block: 15 * time.Minute},
			TwoFactor:   BudgetConfig{Points: 5, Window: time.Minute, Block: time.Minute},
			BackupCode:  BudgetConfig{Points: 5, Window: 10 * time.Minute, Block: 10 * time.Minute},
			EmailVerify: BudgetConfig{Points: 5, Window: 15 * time.Minute, Block: 15 * time.Minute},
		},
		Lockout: LockoutConfig{
			SoftThreshold: 5,
			SoftDuration:  30 * time.Minute,
			HardThreshold: 10,
			HardDuration:  24 * time.Hour,
		},
		TwoFactor: TwoFactorConfig{
			Enabled:              false,
			Issuer:               "",
			ChallengeTTL:         3 * time.Minute,
			ChallengeMaxAttempts: 5,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      10,
			UpgradeOnLogin: true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:     false,
			TokenTTL:    15 * time.Minute,
			MaxAttempts: 5,
		},
		EmailVerification: EmailVerificationConfig{
			Enabled:         false,
			TokenTTL:        15 * time.Minute,
			MaxAttempts:     5,
			RequireForLogin: false,
		},
		Registration: RegistrationConfig{
			Enabled:   true,
			AutoLogin: false,
		},
		Risk: RiskConfig{
			AlertThreshold: 60,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		MultiTenant: MultiTenantConfig{
			Enabled: false,
		},
		Security: SecurityConfig{
			ProductionMode:                false,
			RecheckIdentityOnAuthenticate: false,
		},
	}
}

// ProductionConfig returns DefaultConfig hardened for production:
// ProductionMode validation floors, audit and metrics on, identity recheck
// on every Authenticate. Keys and issuer still must be supplied.
func ProductionConfig() Config {
	cfg := DefaultConfig()
	cfg.Security.ProductionMode = true
	cfg.Security.RecheckIdentityOnAuthenticate = true
	cfg.Audit.Enabled = true
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if len(cfg.JWT.VerifyKeys) > 0 {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

func validateBudget(name string, b BudgetConfig) error {
	if b.Points <= 0 {
		return errors.New("RateLimit " + name + " Points must be > 0")
	}
	if b.Window <= 0 {
		return errors.New("RateLimit " + name + " Window must be > 0")
	}
	if b.Block < 0 {
		return errors.New("RateLimit " + name + " Block must be >= 0")
	}
	return nil
}

// Validate rejects unusable configuration outright; nothing is silently
// clamped. Build calls it, but it is exported so services can validate
// deploy-time config before wiring anything.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Session
	if c.Session.IdleTimeout <= 0 {
		return errors.New("Session IdleTimeout must be > 0")
	}
	if c.Session.AbsoluteLifetime <= 0 {
		return errors.New("Session AbsoluteLifetime must be > 0")
	}
	if c.Session.IdleTimeout > c.Session.AbsoluteLifetime {
		return errors.New("Session IdleTimeout must not exceed AbsoluteLifetime")
	}
	if c.Session.MaxSessionsPerIdentity <= 0 {
		return errors.New("Session MaxSessionsPerIdentity must be > 0")
	}
	if c.Session.JitterRange < 0 {
		return errors.New("Session JitterRange must be >= 0")
	}
	if c.Session.JitterRange > time.Duration((math.MaxInt64-1)/2) {
		return errors.New("Session JitterRange is too large")
	}
	if c.Session.JitterEnabled && c.Session.JitterRange <= 0 {
		return errors.New("Session JitterRange must be > 0 when JitterEnabled is true")
	}

	// Rate limits
	if err := validateBudget("API", c.RateLimit.API); err != nil {
		return err
	}
	if err := validateBudget("LoginIP", c.RateLimit.LoginIP); err != nil {
		return err
	}
	if err := validateBudget("LoginEmail", c.RateLimit.LoginEmail); err != nil {
		return err
	}
	if err := validateBudget("ResetIP", c.RateLimit.ResetIP); err != nil {
		return err
	}
	if err := validateBudget("ResetEmail", c.RateLimit.ResetEmail); err != nil {
		return err
	}
	if err := validateBudget("RegisterIP", c.RateLimit.RegisterIP); err != nil {
		return err
	}
	if err := validateBudget("TwoFactor", c.RateLimit.TwoFactor); err != nil {
		return err
	}
	if err := validateBudget("BackupCode", c.RateLimit.BackupCode); err != nil {
		return err
	}
	if err := validateBudget("EmailVerify", c.RateLimit.EmailVerify); err != nil {
		return err
	}

	// Lockout
	if c.Lockout.SoftThreshold <= 0 {
		return errors.New("Lockout SoftThreshold must be > 0")
	}
	if c.Lockout.HardThreshold <= c.Lockout.SoftThreshold {
		return errors.New("Lockout HardThreshold must be > SoftThreshold")
	}
	if c.Lockout.SoftDuration <= 0 {
		return errors.New("Lockout SoftDuration must be > 0")
	}
	if c.Lockout.HardDuration < c.Lockout.SoftDuration {
		return errors.New("Lockout HardDuration must be >= SoftDuration")
	}

	// Two-factor
	if c.TwoFactor.Enabled {
		if c.TwoFactor.Issuer == "" {
			return errors.New("TwoFactor Issuer is required when TwoFactor is enabled")
		}
		if c.TwoFactor.ChallengeTTL <= 0 {
			return errors.New("TwoFactor ChallengeTTL must be > 0")
		}
		if c.TwoFactor.ChallengeMaxAttempts <= 0 {
			return errors.New("TwoFactor ChallengeMaxAttempts must be > 0")
		}
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength != 0 && c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}

	// Password reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.TokenTTL <= 0 {
			return errors.New("PasswordReset TokenTTL must be > 0")
		}
		if c.PasswordReset.MaxAttempts <= 0 {
			return errors.New("PasswordReset MaxAttempts must be > 0")
		}
	}

	// Email verification
	if c.EmailVerification.Enabled {
		if c.EmailVerification.TokenTTL <= 0 {
			return errors.New("EmailVerification TokenTTL must be > 0")
		}
		if c.EmailVerification.MaxAttempts <= 0 {
			return errors.New("EmailVerification MaxAttempts must be > 0")
		}
	}
	if c.EmailVerification.RequireForLogin && !c.EmailVerification.Enabled {
		return errors.New("EmailVerification RequireForLogin requires EmailVerification Enabled")
	}

	// Risk
	if c.Risk.AlertThreshold < 1 || c.Risk.AlertThreshold > 100 {
		return errors.New("Risk AlertThreshold must be between 1 and 100")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Production floors
	if c.Security.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.JWT.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires JWT RefreshTTL <= 30d")
		}
		if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if c.Password.Memory < 64*1024 {
			return errors.New("ProductionMode requires Password Memory >= 65536 KB")
		}
		if c.Password.Time < 2 {
			return errors.New("ProductionMode requires Password Time >= 2")
		}
		if c.Password.KeyLength < 32 {
			return errors.New("ProductionMode requires Password KeyLength >= 32")
		}
		if c.Session.MaxSessionsPerIdentity > 50 {
			return errors.New("ProductionMode requires Session MaxSessionsPerIdentity <= 50")
		}
		if c.TwoFactor.Enabled && c.TwoFactor.ChallengeTTL > 10*time.Minute {
			return errors.New("ProductionMode requires TwoFactor ChallengeTTL <= 10m")
		}
		if c.PasswordReset.Enabled && c.PasswordReset.TokenTTL > time.Hour {
			return errors.New("ProductionMode requires PasswordReset TokenTTL <= 1h")
		}
	}

	return nil
}
