package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Spider holds the exhaustive recognized configuration set from spec.md §6.
type Spider struct {
	Storage             string        // registry name of the default data-flow sink
	RetriedTimes        int           // max admission attempts per request
	Depth               int           // 0 disables the depth check
	Speed               float64       // requests/second target
	RequestedQueueCount int           // soft in-flight upper bound before back-pressure
	EmptySleepTime      int           // seconds; terminal threshold for idle/paused
	UseProxy            bool
	RequestTimeout      time.Duration // in-flight table timeout sweep threshold
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
}

type Redis struct {
	Addr string
	Pass string
	DB   int
}

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Admin struct {
	HTTPPort         string // admin/health/metrics listen port
	JWTIssuer        string
	JWTAudience      string
	JWTPublicKeyPath string
}

type Audit struct {
	Enabled bool // gates the optional Postgres admission-replay log
}

type Proxy struct {
	MinScore    int     // spec §4.4: leases below this score are refused
	RateLimit   float64 // per-proxy token bucket rate (req/s)
	Burst       int
	CooldownSec int // time a misbehaving proxy is benched
}

type Config struct {
	AppName string
	Spider  Spider
	NSQ     NSQ
	Redis   Redis
	DB      DB
	Admin   Admin
	Proxy   Proxy
	Audit   Audit
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "spidercore"),
		Spider: Spider{
			Storage:             getenv("SPIDER_STORAGE", "memorysink"),
			RetriedTimes:        getenvInt("SPIDER_RETRIED_TIMES", 3),
			Depth:               getenvInt("SPIDER_DEPTH", 0),
			Speed:               getenvFloat("SPIDER_SPEED", 2),
			RequestedQueueCount: getenvInt("SPIDER_REQUESTED_QUEUE_COUNT", 100),
			EmptySleepTime:      getenvInt("SPIDER_EMPTY_SLEEP_TIME", 60),
			UseProxy:            getenvBool("SPIDER_USE_PROXY", false),
			RequestTimeout:      getenvDuration("SPIDER_REQUEST_TIMEOUT", 30*time.Second),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
		},
		Redis: Redis{
			Addr: getenv("REDIS_ADDR", "redis:6379"),
			Pass: getenv("REDIS_PASS", ""),
			DB:   getenvInt("REDIS_DB", 0),
		},
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "spidercore"),
		},
		Admin: Admin{
			HTTPPort:         ":" + getenv("ADMIN_HTTP_PORT", "8090"),
			JWTIssuer:        getenv("ADMIN_JWT_ISSUER", "spidercore"),
			JWTAudience:      getenv("ADMIN_JWT_AUDIENCE", "spidercore-admin"),
			JWTPublicKeyPath: getenv("ADMIN_JWT_PUBLIC_KEY_PATH", ""),
		},
		Proxy: Proxy{
			MinScore:    getenvInt("PROXY_MIN_SCORE", 70),
			RateLimit:   getenvFloat("PROXY_RATE_LIMIT", 5),
			Burst:       getenvInt("PROXY_BURST", 10),
			CooldownSec: getenvInt("PROXY_COOLDOWN_SECONDS", 30),
		},
		Audit: Audit{
			Enabled: getenvBool("AUDIT_ENABLED", false),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
