package global

import (
	"os"
	"strconv"

	"QRGate/tools/errs"
	"QRGate/tools/security"

	"github.com/joho/godotenv"
)

// AppConfig is built once at startup and passed by reference into the
// components that need it. There is no package-level config singleton.
type AppConfig struct {
	HTTPAddr      string
	MongoURI      string
	MongoDatabase string
	JWTSecret     []byte
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// LoadConfig reads the environment (plus an optional .env file). A missing
// JWT_SECRET is a fatal configuration error: the service must never fall back
// to signing with a built-in default.
func LoadConfig() (*AppConfig, error) {
	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, errs.New("JWT_SECRET is not set; refusing to start without a signing secret")
	}

	cfg := &AppConfig{
		HTTPAddr:      envOr("HTTP_ADDR", ":8080"),
		MongoURI:      envOr("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: envOr("MONGODB_DATABASE", "teacher_attendance"),
		JWTSecret:     []byte(secret),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, errs.WrapMsg(err, "REDIS_DB must be an integer", "value", v)
		}
		cfg.RedisDB = n
	}
	return cfg, nil
}

// JWTOptions returns the signing options every issued assertion uses.
func (c *AppConfig) JWTOptions() security.Options {
	return security.DefaultOptions(c.JWTSecret)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
