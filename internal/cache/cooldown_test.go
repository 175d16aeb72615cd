package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestSeen(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewCooldown(client)

	mock.ExpectExists("payerwatch:cooldown:fp-1").SetVal(1)
	assert.True(t, c.Seen(context.Background(), "fp-1"))

	mock.ExpectExists("payerwatch:cooldown:fp-2").SetVal(0)
	assert.False(t, c.Seen(context.Background(), "fp-2"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeen_CacheFailureFallsThrough(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewCooldown(client)

	mock.ExpectExists("payerwatch:cooldown:fp-1").SetErr(errors.New("connection refused"))

	assert.False(t, c.Seen(context.Background(), "fp-1"),
		"cache failures must fail toward not-seen; the database backstop decides")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMark(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewCooldown(client)

	mock.ExpectSet("payerwatch:cooldown:fp-1", "1", 4*time.Hour).SetVal("OK")
	c.Mark(context.Background(), "fp-1", 4*time.Hour)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNilCooldownDisabled(t *testing.T) {
	var c *Cooldown
	assert.False(t, c.Seen(context.Background(), "fp-1"))
	c.Mark(context.Background(), "fp-1", time.Hour)

	c = NewCooldown(nil)
	assert.False(t, c.Seen(context.Background(), "fp-1"))
	c.Mark(context.Background(), "fp-1", time.Hour)
}
