package connections

import (
	"context"
	"fmt"
	"strconv"

	"token-refresher/internal/common/errors"
)

// StoreFactory creates a Store from a backend-agnostic settings map. Concrete
// backends register themselves; the settings keys mirror the config package.
type StoreFactory func(ctx context.Context, settings map[string]string) (Store, error)

var factories = map[string]StoreFactory{}

// RegisterFactory registers a store backend under a type name. Registration
// happens at package init time; later registrations overwrite earlier ones.
func RegisterFactory(storeType string, factory StoreFactory) {
	factories[storeType] = factory
}

// NewStore creates a connection store of the given type.
func NewStore(ctx context.Context, storeType string, settings map[string]string) (Store, error) {
	factory, exists := factories[storeType]
	if !exists {
		return nil, errors.ConfigError(fmt.Sprintf("unsupported store type: %s", storeType))
	}
	return factory(ctx, settings)
}

// SettingInt reads an integer setting with a default.
func SettingInt(settings map[string]string, key string, defaultValue int) int {
	if value, ok := settings[key]; ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
