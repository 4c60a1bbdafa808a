package postgres

import (
	"context"

	"token-refresher/internal/connections"
)

func init() {
	register := func(name string) {
		connections.RegisterFactory(name, func(ctx context.Context, settings map[string]string) (connections.Store, error) {
			return NewStore(ctx, &Config{
				Host:     settings["host"],
				Port:     settings["port"],
				Database: settings["database"],
				User:     settings["username"],
				Password: settings["password"],
				SSLMode:  settings["sslmode"],
			})
		})
	}
	register("postgres")
	register("postgresql")
}
