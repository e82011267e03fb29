package ai

import (
	"context"

	"github.com/screentask/screentask/internal/models"
)

// Provider is the interface for screenshot analysis providers
type Provider interface {
	// ExtractTasks analyzes a screenshot and returns the main actionable task,
	// its subtasks, and the source the screenshot came from. customPrompt, when
	// non-empty, replaces the default extraction instructions.
	ExtractTasks(ctx context.Context, imageBase64, mediaType, customPrompt string) (*models.ExtractionResult, error)
}

// ProviderFactory creates a provider from configuration values
type ProviderFactory func(config map[string]string) (Provider, error)

// ProviderRegistry stores available analysis providers
type ProviderRegistry struct {
	providers map[string]ProviderFactory
}

// NewProviderRegistry creates a new provider registry
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]ProviderFactory),
	}
}

// Register registers a provider factory
func (r *ProviderRegistry) Register(name string, factory ProviderFactory) {
	r.providers[name] = factory
}

// GetProvider gets a provider by name
func (r *ProviderRegistry) GetProvider(name string, config map[string]string) (Provider, error) {
	factory, ok := r.providers[name]
	if !ok {
		return nil, &ErrProviderNotFound{Name: name}
	}

	return factory(config)
}

// ErrProviderNotFound is returned when a provider is not found
type ErrProviderNotFound struct {
	Name string
}

func (e *ErrProviderNotFound) Error() string {
	return "analysis provider not found: " + e.Name
}
