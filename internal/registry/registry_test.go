package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-refresher/internal/common/errors"
	"token-refresher/internal/connections/memory"
	"token-refresher/internal/providers"
)

type fakeAdapter struct{ id string }

func (a *fakeAdapter) ID() string { return a.id }
func (a *fakeAdapter) Exchange(ctx context.Context, refreshToken string) (*providers.TokenGrant, error) {
	return &providers.TokenGrant{AccessToken: "token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func service(id string) *Service {
	return &Service{
		ID:      id,
		Store:   memory.NewStore(),
		Adapter: &fakeAdapter{id: id},
	}
}

func TestNewPreservesOrder(t *testing.T) {
	reg, err := New(service("google"), service("facebook"), service("apple"))
	require.NoError(t, err)
	require.Equal(t, 3, reg.Len())

	ids := make([]string, 0, 3)
	for _, svc := range reg.Services() {
		ids = append(ids, svc.ID)
	}
	assert.Equal(t, []string{"google", "facebook", "apple"}, ids)
}

func TestNewDefaultsName(t *testing.T) {
	reg, err := New(service("google"))
	require.NoError(t, err)

	svc, ok := reg.Get("google")
	require.True(t, ok)
	assert.Equal(t, "google", svc.Name)
}

func TestNewRejectsDuplicateID(t *testing.T) {
	_, err := New(service("google"), service("google"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestNewRejectsIncompleteService(t *testing.T) {
	tests := []struct {
		name string
		svc  *Service
	}{
		{"missing id", &Service{Store: memory.NewStore(), Adapter: &fakeAdapter{}}},
		{"missing store", &Service{ID: "google", Adapter: &fakeAdapter{}}},
		{"missing adapter", &Service{ID: "google", Store: memory.NewStore()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.svc)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		})
	}
}

func TestGetUnknownProvider(t *testing.T) {
	reg, err := New(service("google"))
	require.NoError(t, err)

	_, ok := reg.Get("unknown")
	assert.False(t, ok)
}
