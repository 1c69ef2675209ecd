package services

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"feedrank/config"
	"feedrank/models"
	"feedrank/providers"
)

func newTestResolver(t *testing.T, cfg *config.Config) (*ReadinessResolver, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	if cfg == nil {
		cfg = &config.Config{}
	}
	return NewReadinessResolver(db, cfg, zap.NewNop()), db
}

func TestResolveRuntimeReasonCodes(t *testing.T) {
	fake := &fakeLLM{name: "fake-reasons", models: []string{"fake-model"}}
	providers.Register(fake)

	t.Run("no route and no legacy config", func(t *testing.T) {
		resolver, _ := newTestResolver(t, nil)
		_, reason, err := resolver.ResolveRuntime(models.TaskScoring)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if reason != ReasonProviderUnconfigured {
			t.Errorf("reason = %q, want %q", reason, ReasonProviderUnconfigured)
		}
	})

	t.Run("route without provider config", func(t *testing.T) {
		resolver, db := newTestResolver(t, nil)
		db.Create(&models.LLMTaskRoute{Task: models.TaskScoring, Provider: fake.name})
		_, reason, err := resolver.ResolveRuntime(models.TaskScoring)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if reason != ReasonProviderUnconfigured {
			t.Errorf("reason = %q, want %q", reason, ReasonProviderUnconfigured)
		}
	})

	t.Run("disabled provider", func(t *testing.T) {
		resolver, db := newTestResolver(t, nil)
		db.Create(&models.LLMProviderConfig{Provider: fake.name, Enabled: false, ConfigJSON: []byte("{}")})
		db.Create(&models.LLMTaskRoute{Task: models.TaskScoring, Provider: fake.name})
		_, reason, err := resolver.ResolveRuntime(models.TaskScoring)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if reason != ReasonProviderDisabled {
			t.Errorf("reason = %q, want %q", reason, ReasonProviderDisabled)
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		resolver, db := newTestResolver(t, nil)
		db.Create(&models.LLMProviderConfig{Provider: "nonexistent", Enabled: true, ConfigJSON: []byte("{}")})
		db.Create(&models.LLMTaskRoute{Task: models.TaskScoring, Provider: "nonexistent"})
		_, reason, err := resolver.ResolveRuntime(models.TaskScoring)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if reason != ReasonProviderUnknown {
			t.Errorf("reason = %q, want %q", reason, ReasonProviderUnknown)
		}
	})

	t.Run("no model configured", func(t *testing.T) {
		noDefaults := &fakeLLM{name: "fake-no-defaults"}
		providers.Register(noDefaults)
		resolver, db := newTestResolver(t, nil)
		db.Create(&models.LLMProviderConfig{Provider: noDefaults.name, Enabled: true, ConfigJSON: []byte("{}")})
		db.Create(&models.LLMTaskRoute{Task: models.TaskScoring, Provider: noDefaults.name})
		_, reason, err := resolver.ResolveRuntime(models.TaskScoring)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if reason != ReasonModelUnconfigured {
			t.Errorf("reason = %q, want %q", reason, ReasonModelUnconfigured)
		}
	})

	t.Run("explicit route model wins over default", func(t *testing.T) {
		resolver, db := newTestResolver(t, nil)
		db.Create(&models.LLMProviderConfig{Provider: fake.name, Enabled: true, ConfigJSON: []byte("{}")})
		db.Create(&models.LLMTaskRoute{Task: models.TaskScoring, Provider: fake.name, Model: strPtr("pinned-model")})
		runtime, reason, err := resolver.ResolveRuntime(models.TaskScoring)
		if err != nil || reason != "" {
			t.Fatalf("resolve: reason=%q err=%v", reason, err)
		}
		if runtime.Model != "pinned-model" {
			t.Errorf("model = %q, want pinned-model", runtime.Model)
		}
	})
}

func TestResolveRuntimeLegacyFallback(t *testing.T) {
	legacy := &fakeLLM{name: "ollama", models: []string{"llama3"}}
	providers.Register(legacy)

	cfg := &config.Config{OllamaEndpoint: "http://localhost:11434", OllamaModel: "llama3"}
	resolver, _ := newTestResolver(t, cfg)

	runtime, reason, err := resolver.ResolveRuntime(models.TaskCategorization)
	if err != nil || reason != "" {
		t.Fatalf("resolve: reason=%q err=%v", reason, err)
	}
	if runtime.Model != "llama3" {
		t.Errorf("model = %q, want llama3", runtime.Model)
	}
	if runtime.Runtime.Endpoint() != "http://localhost:11434" {
		t.Errorf("endpoint = %q", runtime.Runtime.Endpoint())
	}

	// Ohne Modell bleibt der Fallback unbrauchbar.
	resolver2, _ := newTestResolver(t, &config.Config{OllamaEndpoint: "http://localhost:11434"})
	_, reason, err = resolver2.ResolveRuntime(models.TaskCategorization)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if reason != ReasonModelUnconfigured {
		t.Errorf("reason = %q, want %q", reason, ReasonModelUnconfigured)
	}
}

func TestEvaluateReadinessChecksProvider(t *testing.T) {
	t.Run("unreachable provider", func(t *testing.T) {
		down := &fakeLLM{name: "fake-down", models: []string{"fake-model"}}
		down.healthErr = providers.Transientf("connection refused")
		providers.Register(down)

		resolver, db := newTestResolver(t, nil)
		db.Create(&models.LLMProviderConfig{Provider: down.name, Enabled: true, ConfigJSON: []byte("{}")})
		db.Create(&models.LLMTaskRoute{Task: models.TaskScoring, Provider: down.name})

		_, reason := resolver.EvaluateReadiness(context.Background(), models.TaskScoring)
		if reason != ReasonProviderUnreachable {
			t.Errorf("reason = %q, want %q", reason, ReasonProviderUnreachable)
		}
	})

	t.Run("model not installed", func(t *testing.T) {
		up := &fakeLLM{name: "fake-up", models: []string{"other-model"}}
		providers.Register(up)

		resolver, db := newTestResolver(t, nil)
		db.Create(&models.LLMProviderConfig{Provider: up.name, Enabled: true, ConfigJSON: []byte("{}")})
		db.Create(&models.LLMTaskRoute{Task: models.TaskScoring, Provider: up.name, Model: strPtr("missing-model")})

		_, reason := resolver.EvaluateReadiness(context.Background(), models.TaskScoring)
		if reason != ReasonModelMissing {
			t.Errorf("reason = %q, want %q", reason, ReasonModelMissing)
		}
	})

	t.Run("model list unavailable", func(t *testing.T) {
		flaky := &fakeLLM{name: "fake-flaky-list", models: []string{"fake-model"}}
		flaky.listErr = providers.Transientf("tags endpoint timed out")
		providers.Register(flaky)

		resolver, db := newTestResolver(t, nil)
		db.Create(&models.LLMProviderConfig{Provider: flaky.name, Enabled: true, ConfigJSON: []byte("{}")})
		db.Create(&models.LLMTaskRoute{Task: models.TaskScoring, Provider: flaky.name})

		// Ohne Modell-Liste gilt das Modell als nicht verfügbar.
		_, reason := resolver.EvaluateReadiness(context.Background(), models.TaskScoring)
		if reason != ReasonModelMissing {
			t.Errorf("reason = %q, want %q", reason, ReasonModelMissing)
		}
	})

	t.Run("ready", func(t *testing.T) {
		ready := &fakeLLM{name: "fake-ready", models: []string{"fake-model"}}
		providers.Register(ready)

		resolver, db := newTestResolver(t, nil)
		db.Create(&models.LLMProviderConfig{Provider: ready.name, Enabled: true, ConfigJSON: []byte("{}")})
		db.Create(&models.LLMTaskRoute{Task: models.TaskScoring, Provider: ready.name})

		runtime, reason := resolver.EvaluateReadiness(context.Background(), models.TaskScoring)
		if reason != "" {
			t.Fatalf("reason = %q, want ready", reason)
		}
		if runtime == nil || runtime.Model != "fake-model" {
			t.Errorf("runtime = %+v, want fake-model", runtime)
		}
	})
}

func TestFormatReadinessReason(t *testing.T) {
	if got := FormatReadinessReason(""); got != "ready" {
		t.Errorf("empty reason = %q, want ready", got)
	}
	for _, reason := range []string{
		ReasonProviderUnconfigured, ReasonProviderDisabled, ReasonProviderUnknown,
		ReasonModelUnconfigured, ReasonProviderUnreachable, ReasonModelMissing,
	} {
		if got := FormatReadinessReason(reason); got == "" || got == reason {
			t.Errorf("reason %q must map to a human-readable message, got %q", reason, got)
		}
	}
}
