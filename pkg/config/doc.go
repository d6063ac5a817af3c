// Package config loads trellis configuration from TRELLIS_* environment
// variables, applies defaults and validates the result.
//
// Required:
//
//	TRELLIS_POSTGRES_URL="postgres://trellis@localhost/trellis?sslmode=disable"
//	TRELLIS_OIDC_ISSUER_URL="https://id.example.com"
//	TRELLIS_OIDC_CLIENT_ID="trellis"
//	TRELLIS_NOTIFIER_URL="http://notifications:8080"   # unless TRELLIS_NOTIFIER=log
//
// Optional:
//
//	TRELLIS_POSTGRES_REPLICA_URLS="postgres://replica-1/trellis,postgres://replica-2/trellis"
//	TRELLIS_ACCOUNTS_URL="http://accounts:8080"        # team sync profile lookups
//	TRELLIS_REDIS_URL="redis://localhost:6379/0"       # invite locks; in-process when unset
//	TRELLIS_ROLE_TEMPLATES="/etc/trellis/roles.yaml"   # built-in templates when unset
//	TRELLIS_AGGREGATOR_SCHEDULE="@every 1m"
//	TRELLIS_LOG_LEVEL="info"
//	TRELLIS_OTEL_ENABLED="true"
//	TRELLIS_OTEL_SAMPLE_RATIO="0.1"
//
// Sub-configs convert to the settings of the packages they configure:
//
//	cfg, err := config.LoadConfig()
//	cm, err := postgres.NewConnectionManager(cfg.Database.ConnectionConfig(), logger)
//	verifier, err := identity.NewOIDCVerifier(ctx, cfg.Identity.OIDC())
package config
