package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rankwatch/authcore/counter"
	"github.com/rankwatch/authcore/jwt"
	"github.com/rankwatch/authcore/lockout"
	"github.com/rankwatch/authcore/password"
	"github.com/rankwatch/authcore/ratelimit"
	"github.com/rankwatch/authcore/session"
)

// Builder assembles an Engine from a Config and its external dependencies.
// A Builder is single-use: Build succeeds at most once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	credentials CredentialStore
	auditSink   AuditSink
	logger      *zap.Logger
	counters    counter.Store

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration with a deep copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, rate-limit counters and
// challenge state. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the durable identity store. Required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentials = store
	return b
}

// WithAuditSink sets the destination for audit events. Optional; events are
// discarded when no sink is configured.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. Optional; defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithCounterStore overrides the rate-limit counter backend. Optional; the
// default is a Redis store with automatic in-memory failover. Intended for
// tests and single-process deployments.
func (b *Builder) WithCounterStore(store counter.Store) *Builder {
	b.counters = store
	return b
}

// WithMetricsEnabled toggles counter collection without replacing the whole
// config.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histogram collection.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires every subsystem and returns a
// ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// -------- RATE LIMITING --------
	counters := b.counters
	var failover *counter.Failover
	if counters == nil {
		failover = counter.NewFailover(
			counter.NewRedisStore(b.redis),
			counter.NewMemoryStore(),
			logger,
		)
		counters = failover
	}
	limiter := ratelimit.New(counters, cfg.RateLimit.budgets())

	// -------- SESSION STORE --------
	// Sliding mode is left off: the Engine renews the idle window itself via
	// Touch so every renewal stays clamped to the absolute lifetime.
	sessions := session.NewStore(
		b.redis,
		cfg.Session.RedisPrefix,
		false,
		cfg.Session.JitterEnabled,
		cfg.Session.JitterRange,
	)

	// -------- PASSWORD HASHING --------
	hasher, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinLength:        cfg.Password.MinLength,
		MaxPasswordBytes: cfg.Password.MaxLength,
	})
	if err != nil {
		return nil, err
	}

	// -------- ACCESS TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    cfg.Security.ProductionMode,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:      cfg,
		logger:      logger,
		credentials: b.credentials,
		sessions:    sessions,
		jwtManager:  jm,
		passwords:   hasher,
		limiter:     limiter,
		lockouts: lockout.New(b.credentials, lockout.Config{
			SoftThreshold: cfg.Lockout.SoftThreshold,
			SoftDuration:  cfg.Lockout.SoftDuration,
			HardThreshold: cfg.Lockout.HardThreshold,
			HardDuration:  cfg.Lockout.HardDuration,
		}),
		counters:      counters,
		failover:      failover,
		challenges:    newChallengeStore(b.redis),
		resets:        newPasswordResetStore(b.redis),
		verifications: newEmailVerificationStore(b.redis),
		metrics:       NewMetrics(cfg.Metrics),
	}
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, logger)

	b.built = true

	return engine, nil
}
