package redis

import (
	"context"

	"token-refresher/internal/connections"
)

func init() {
	connections.RegisterFactory("redis", func(ctx context.Context, settings map[string]string) (connections.Store, error) {
		return NewStore(&Config{
			Address:  settings["address"],
			Password: settings["password"],
			DB:       connections.SettingInt(settings, "db", 0),
		})
	})
}
