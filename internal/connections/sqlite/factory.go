package sqlite

import (
	"context"

	"token-refresher/internal/connections"
)

func init() {
	connections.RegisterFactory("sqlite", func(ctx context.Context, settings map[string]string) (connections.Store, error) {
		path := settings["path"]
		if path == "" {
			path = "./token_refresher.db"
		}
		return NewStore(path)
	})
}
