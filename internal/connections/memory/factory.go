package memory

import (
	"context"

	"token-refresher/internal/connections"
)

func init() {
	connections.RegisterFactory("memory", func(ctx context.Context, settings map[string]string) (connections.Store, error) {
		return NewStore(), nil
	})
}
