package connections

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNeedsRefresh(t *testing.T) {
	now := time.Now()
	cutoff := now.Add(15 * time.Minute)
	timePtr := func(t time.Time) *time.Time { return &t }

	tests := []struct {
		name string
		conn Connection
		want bool
	}{
		{
			name: "expired",
			conn: Connection{RefreshToken: "rt", ExpiresAt: timePtr(now.Add(-time.Hour))},
			want: true,
		},
		{
			name: "expiring inside buffer",
			conn: Connection{RefreshToken: "rt", ExpiresAt: timePtr(now.Add(10 * time.Minute))},
			want: true,
		},
		{
			name: "expiring exactly at cutoff",
			conn: Connection{RefreshToken: "rt", ExpiresAt: timePtr(cutoff)},
			want: true,
		},
		{
			name: "unknown expiry treated as expired",
			conn: Connection{RefreshToken: "rt"},
			want: true,
		},
		{
			name: "still fresh",
			conn: Connection{RefreshToken: "rt", ExpiresAt: timePtr(now.Add(time.Hour))},
			want: false,
		},
		{
			name: "no refresh token is never due",
			conn: Connection{ExpiresAt: timePtr(now.Add(-time.Hour))},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.conn.NeedsRefresh(cutoff))
		})
	}
}
