package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("HRVDB_HOST", "db.internal")
	t.Setenv("HRVDB_PORT", "6543")
	t.Setenv("HRVDB_NAME", "myhealth")
	t.Setenv("HRVDB_MAX_CONNS", "not-a-number")

	c := DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", SSLMode: "disable", MaxConns: 10}
	c.LoadFromEnv("HRVDB")

	assert.Equal(t, "db.internal", c.Host)
	assert.Equal(t, 6543, c.Port)
	assert.Equal(t, "myhealth", c.Database)
	assert.Equal(t, "postgres", c.User)
	assert.Equal(t, 10, c.MaxConns)
	assert.Equal(t, "host=db.internal port=6543 user=postgres password= dbname=myhealth sslmode=disable", c.GetDSN())
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("CACHE_ADDR", "redis:6380")
	t.Setenv("CACHE_DB", "2")

	c := RedisConfig{Addr: "localhost:6379"}
	c.LoadFromEnv("CACHE")

	assert.Equal(t, "redis:6380", c.Addr)
	assert.Equal(t, 2, c.DB)
	assert.Empty(t, c.Password)
}
