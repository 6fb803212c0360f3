package utils

import "testing"

func TestClaimScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if claimAcquireScript == nil || claimReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	cfg := RedisConfig{Addr: "localhost:6379"}.withDefaults()
	if cfg.PoolSize <= 0 {
		t.Fatalf("expected pool size default")
	}
	if cfg.DialTimeout <= 0 || cfg.PingTimeout <= 0 {
		t.Fatalf("expected timeout defaults")
	}
}
