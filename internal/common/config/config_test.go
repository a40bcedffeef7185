package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db",
		Port:     5432,
		User:     "precursor",
		Password: "pa ss'word",
		Database: "routes",
		SSLMode:  "disable",
	}

	assert.Equal(t, `host=db port=5432 user=precursor password='pa ss\'word' dbname=routes sslmode=disable`, cfg.GetDSN())

	cfg.Password = ""
	assert.Contains(t, cfg.GetDSN(), "password=''")
}

func TestDatabaseConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("ROUTEDB_HOST", "pg.internal")
	t.Setenv("ROUTEDB_PORT", "6543")
	t.Setenv("ROUTEDB_MAX_CONNS", "not-a-number")
	t.Setenv("ROUTEDB_CONN_MAX_LIFETIME", "5m")

	cfg := DatabaseConfig{Host: "localhost", Port: 5432, MaxConns: 4}
	cfg.LoadFromEnv("ROUTEDB")

	assert.Equal(t, "pg.internal", cfg.Host)
	assert.Equal(t, 6543, cfg.Port)
	assert.Equal(t, 4, cfg.MaxConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
}

func TestRedisConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("CACHE_ADDR", "redis:6380")
	t.Setenv("CACHE_DB", "3")
	t.Setenv("CACHE_READ_TIMEOUT", "750ms")

	cfg := RedisConfig{Addr: "localhost:6379"}
	cfg.LoadFromEnv("CACHE")

	assert.Equal(t, "redis:6380", cfg.Addr)
	assert.Equal(t, 3, cfg.DB)
	assert.Equal(t, 750*time.Millisecond, cfg.ReadTimeout)
	assert.Zero(t, cfg.DialTimeout)
}

func TestMQTTConfig_LoadFromEnv_QoS(t *testing.T) {
	cfg := MQTTConfig{QoS: 1}

	t.Setenv("BROKER_QOS", "2")
	cfg.LoadFromEnv("BROKER")
	assert.Equal(t, byte(2), cfg.QoS)

	t.Setenv("BROKER_QOS", "7")
	cfg.LoadFromEnv("BROKER")
	assert.Equal(t, byte(2), cfg.QoS)
}
