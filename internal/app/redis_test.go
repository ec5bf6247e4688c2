package app

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestCollectionOf(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cmd  redis.Cmder
		want string
	}{
		{"prefixed key", redis.NewStringCmd(ctx, "get", "cache:driver:d-1"), "cache"},
		{"plain key", redis.NewStringCmd(ctx, "get", "drivers"), "drivers"},
		{"no key", redis.NewStatusCmd(ctx, "ping"), "redis"},
		{"non-string key", redis.NewStringCmd(ctx, "get", 42), "redis"},
		{"leading colon", redis.NewStringCmd(ctx, "get", ":x"), ":x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collectionOf(tt.cmd))
		})
	}
}
