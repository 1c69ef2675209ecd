package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"feedrank/config"
	"feedrank/models"
	"feedrank/providers"
)

// Gründe, warum ein Task (noch) nicht lauffähig ist. Leerer String
// bedeutet bereit.
const (
	ReasonProviderUnconfigured = "provider_unconfigured"
	ReasonProviderDisabled     = "provider_disabled"
	ReasonProviderUnknown      = "provider_unknown"
	ReasonModelUnconfigured    = "model_unconfigured"
	ReasonProviderUnreachable  = "provider_unreachable"
	ReasonModelMissing         = "model_missing"
)

// FormatReadinessReason übersetzt einen Grund-Code in eine Meldung für
// die Status-API.
func FormatReadinessReason(reason string) string {
	switch reason {
	case "":
		return "ready"
	case ReasonProviderUnconfigured:
		return "no provider is configured for this task"
	case ReasonProviderDisabled:
		return "the configured provider is disabled"
	case ReasonProviderUnknown:
		return "the configured provider is not registered"
	case ReasonModelUnconfigured:
		return "no model is configured for this task"
	case ReasonProviderUnreachable:
		return "the provider endpoint is unreachable"
	case ReasonModelMissing:
		return "the configured model is not available on the provider"
	default:
		return reason
	}
}

// TaskRuntime ist das aufgelöste Laufzeit-Tripel für einen Task:
// Provider-Implementierung, dessen Konfiguration und das Modell.
type TaskRuntime struct {
	Task     string
	Provider providers.Provider
	Runtime  providers.RuntimeConfig
	Model    string
}

// ReadinessResolver löst Task-Routen auf Provider und Modelle auf und
// prüft deren Erreichbarkeit vor jedem Batch.
type ReadinessResolver struct {
	DB     *gorm.DB
	Config *config.Config
	Logger *zap.Logger
}

func NewReadinessResolver(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *ReadinessResolver {
	return &ReadinessResolver{DB: db, Config: cfg, Logger: logger}
}

// legacyRuntime trägt die Umgebungs-Konfiguration, wenn noch keine
// Task-Routen in der DB existieren (Bestandsinstallationen).
type legacyRuntime struct {
	endpoint string
	model    string
}

func (l legacyRuntime) Endpoint() string                    { return l.endpoint }
func (l legacyRuntime) DefaultModelForTask(_ string) string { return l.model }
func (l legacyRuntime) Thinking() bool                      { return false }

// ResolveRuntime ermittelt Provider, Konfiguration und Modell für einen
// Task. Ein nicht-leerer reason-Code bedeutet: nicht lauffähig; err ist
// nur für echte Infrastrukturfehler reserviert.
func (r *ReadinessResolver) ResolveRuntime(task string) (*TaskRuntime, string, error) {
	var route models.LLMTaskRoute
	err := r.DB.Where("task = ?", task).First(&route).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.resolveLegacy(task)
	}
	if err != nil {
		return nil, "", fmt.Errorf("load task route %q: %w", task, err)
	}

	var cfg models.LLMProviderConfig
	err = r.DB.Where("provider = ?", route.Provider).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ReasonProviderUnconfigured, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load provider config %q: %w", route.Provider, err)
	}
	if !cfg.Enabled {
		return nil, ReasonProviderDisabled, nil
	}

	provider, ok := providers.Get(route.Provider)
	if !ok {
		return nil, ReasonProviderUnknown, nil
	}

	runtime, err := provider.ParseConfig(cfg.ConfigJSON)
	if err != nil {
		r.Logger.Warn("Provider config rejected",
			zap.String("provider", route.Provider),
			zap.Error(err))
		return nil, ReasonProviderUnconfigured, nil
	}

	model := ""
	if route.Model != nil {
		model = *route.Model
	}
	if model == "" {
		model = runtime.DefaultModelForTask(task)
	}
	if model == "" {
		return nil, ReasonModelUnconfigured, nil
	}

	return &TaskRuntime{Task: task, Provider: provider, Runtime: runtime, Model: model}, "", nil
}

// resolveLegacy greift auf OLLAMA_ENDPOINT / OLLAMA_MODEL zurück, wenn
// für den Task keine Route hinterlegt ist.
func (r *ReadinessResolver) resolveLegacy(task string) (*TaskRuntime, string, error) {
	if r.Config == nil || r.Config.OllamaEndpoint == "" {
		return nil, ReasonProviderUnconfigured, nil
	}
	provider, ok := providers.Get("ollama")
	if !ok {
		return nil, ReasonProviderUnknown, nil
	}
	if r.Config.OllamaModel == "" {
		return nil, ReasonModelUnconfigured, nil
	}
	runtime := legacyRuntime{endpoint: r.Config.OllamaEndpoint, model: r.Config.OllamaModel}
	return &TaskRuntime{Task: task, Provider: provider, Runtime: runtime, Model: r.Config.OllamaModel}, "", nil
}

// EvaluateReadiness prüft zusätzlich zur Auflösung die Erreichbarkeit
// des Providers und das Vorhandensein des Modells. Die Funktion liefert
// nie einen Fehler an den Aufrufer durch; jedes Problem wird als
// Grund-Code gemeldet.
func (r *ReadinessResolver) EvaluateReadiness(ctx context.Context, task string) (*TaskRuntime, string) {
	runtime, reason, err := r.ResolveRuntime(task)
	if err != nil {
		r.Logger.Error("Readiness resolution failed", zap.String("task", task), zap.Error(err))
		return nil, ReasonProviderUnconfigured
	}
	if reason != "" {
		return nil, reason
	}

	health, err := runtime.Provider.Health(ctx, runtime.Runtime.Endpoint())
	if err != nil || !health.Connected {
		return nil, ReasonProviderUnreachable
	}

	if !modelAvailable(ctx, runtime) {
		return nil, ReasonModelMissing
	}
	return runtime, ""
}

func modelAvailable(ctx context.Context, runtime *TaskRuntime) bool {
	infos, err := runtime.Provider.ListModels(ctx, runtime.Runtime.Endpoint())
	if err != nil {
		// Ohne Modell-Liste lässt sich die Verfügbarkeit nicht
		// bestätigen; der Tick setzt aus statt blind zu scoren.
		return false
	}
	for _, info := range infos {
		if info.Name == runtime.Model {
			return true
		}
	}
	return false
}
