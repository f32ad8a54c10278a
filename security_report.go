package authcore

import "time"

// SecurityReport is a point-in-time summary of the protections the engine
// was built with. It reads configuration only, never live Redis or store
// state, so it is cheap enough for an unauthenticated health surface and
// leaks no per-identity information.
type SecurityReport struct {
	ProductionMode   bool
	SigningAlgorithm string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration

	Argon2 PasswordParamsReport

	TwoFactorEnabled         bool
	RegistrationOpen         bool
	AutoLoginAfterRegister   bool
	PasswordResetEnabled     bool
	EmailVerificationEnabled bool
	VerifiedEmailRequired    bool

	SessionCap             int
	SlidingRenewal         bool
	IdentityRecheckEnabled bool
	MultiTenant            bool

	LoginThrottleActive bool
	LockoutLadderActive bool
	RiskAlertThreshold  int

	AuditEnabled   bool
	MetricsEnabled bool
}

// PasswordParamsReport mirrors the Argon2id cost parameters in effect.
type PasswordParamsReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

// SecurityReport summarizes the engine's active hardening posture.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	cfg := e.config

	return SecurityReport{
		ProductionMode:   cfg.Security.ProductionMode,
		SigningAlgorithm: cfg.JWT.SigningMethod,
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.JWT.RefreshTTL,
		Argon2: PasswordParamsReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
			MinLength:   cfg.Password.MinLength,
		},
		TwoFactorEnabled:         cfg.TwoFactor.Enabled,
		RegistrationOpen:         cfg.Registration.Enabled,
		AutoLoginAfterRegister:   cfg.Registration.AutoLogin,
		PasswordResetEnabled:     cfg.PasswordReset.Enabled,
		EmailVerificationEnabled: cfg.EmailVerification.Enabled,
		VerifiedEmailRequired:    cfg.EmailVerification.Enabled && cfg.EmailVerification.RequireForLogin,
		SessionCap:               cfg.Session.MaxSessionsPerIdentity,
		SlidingRenewal:           cfg.Session.SlidingRenewal,
		IdentityRecheckEnabled:   cfg.Security.RecheckIdentityOnAuthenticate,
		MultiTenant:              cfg.MultiTenant.Enabled,
		LoginThrottleActive:      cfg.RateLimit.LoginIP.Points > 0 && cfg.RateLimit.LoginEmail.Points > 0,
		LockoutLadderActive:      cfg.Lockout.SoftThreshold > 0,
		RiskAlertThreshold:       cfg.Risk.AlertThreshold,
		AuditEnabled:             cfg.Audit.Enabled,
		MetricsEnabled:           cfg.Metrics.Enabled,
	}
}
