package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database (audit 저장소, 선택적)
	Database DatabaseConfig

	// Redis (상태 스냅샷 캐시, 선택적)
	Redis RedisConfig

	// Engine
	Allocation AllocationConfig
	Control    ControlConfig

	// Audit
	Audit AuditConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL     string
	Enabled bool

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// AllocationConfig holds particle filter / Thompson Sampling parameters
// ⭐ SSOT: 배분 엔진 파라미터는 여기서만 정의
type AllocationConfig struct {
	NumParticles        int     // 파티클 수 (많을수록 정밀)
	ResamplingThreshold float64 // ESS/N 비율이 이하로 떨어지면 리샘플링
	MutationStd         float64 // 파티클 변이 표준편차
	SelectionFraction   float64 // Thompson으로 활성화할 전략 비율
	ThompsonDecay       float64 // 고정 망각 계수 (적응형 미사용 시)
	AdaptiveDecay       bool    // 변동성 기반 적응형 망각 사용 여부
	PenaltyLambda       float64 // 상관 페널티 강도 (0 = 비활성)
	CorrelationDecay    float64 // 상관 EMA decay
	Shrinkage           float64 // Ledoit-Wolf 수축 강도
	MinSamples          int     // 상관 추정 신뢰 최소 샘플 수
	Seed                int64   // 재현성용 시드 (0=랜덤)
}

// ControlConfig holds meta-controller / PID parameters
type ControlConfig struct {
	TargetDrawdown       float64 // 목표 최대 낙폭 (예: 0.02 = 2%)
	Kp                   float64 // PID 비례 게인
	Ki                   float64 // PID 적분 게인
	Kd                   float64 // PID 미분 게인
	IntegralLimit        float64 // Anti-windup 한계
	MinOutput            float64 // 리스크 배수 하한
	MaxOutput            float64 // 리스크 배수 상한
	VentralThreshold     float64 // VENTRAL 상태 health score 임계값
	SympatheticThreshold float64 // SYMPATHETIC 상태 health score 임계값
	HarmonyLookback      int     // 하모니 계산용 PnL 이력 길이
}

// AuditConfig holds audit emitter configuration
type AuditConfig struct {
	Enabled      bool
	BufferSize   int     // 이벤트 버퍼 크기 (가득 차면 drop)
	BatchSize    int     // 배치당 최대 이벤트 수
	FlushPerSec  float64 // 초당 flush 횟수 제한 (rate limit)
	SnapshotCron string  // 메트릭 스냅샷 주기 (cron spec)
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8099"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Enabled:         getEnvAsBool("DB_ENABLED", false),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		// Engine
		Allocation: AllocationConfig{
			NumParticles:        getEnvAsInt("ALLOC_NUM_PARTICLES", 100),
			ResamplingThreshold: getEnvAsFloat("ALLOC_RESAMPLING_THRESHOLD", 0.5),
			MutationStd:         getEnvAsFloat("ALLOC_MUTATION_STD", 0.1),
			SelectionFraction:   getEnvAsFloat("ALLOC_SELECTION_FRACTION", 0.5),
			ThompsonDecay:       getEnvAsFloat("ALLOC_THOMPSON_DECAY", 0.99),
			AdaptiveDecay:       getEnvAsBool("ALLOC_ADAPTIVE_DECAY", true),
			PenaltyLambda:       getEnvAsFloat("ALLOC_PENALTY_LAMBDA", 0.5),
			CorrelationDecay:    getEnvAsFloat("ALLOC_CORRELATION_DECAY", 0.99),
			Shrinkage:           getEnvAsFloat("ALLOC_SHRINKAGE", 0.1),
			MinSamples:          getEnvAsInt("ALLOC_MIN_SAMPLES", 30),
			Seed:                getEnvAsInt64("ALLOC_SEED", 0),
		},
		Control: ControlConfig{
			TargetDrawdown:       getEnvAsFloat("CONTROL_TARGET_DRAWDOWN", 0.05),
			Kp:                   getEnvAsFloat("CONTROL_PID_KP", 2.0),
			Ki:                   getEnvAsFloat("CONTROL_PID_KI", 0.1),
			Kd:                   getEnvAsFloat("CONTROL_PID_KD", 0.5),
			IntegralLimit:        getEnvAsFloat("CONTROL_PID_INTEGRAL_LIMIT", 0.5),
			MinOutput:            getEnvAsFloat("CONTROL_PID_MIN_OUTPUT", 0.0),
			MaxOutput:            getEnvAsFloat("CONTROL_PID_MAX_OUTPUT", 1.0),
			VentralThreshold:     getEnvAsFloat("CONTROL_VENTRAL_THRESHOLD", 70),
			SympatheticThreshold: getEnvAsFloat("CONTROL_SYMPATHETIC_THRESHOLD", 40),
			HarmonyLookback:      getEnvAsInt("CONTROL_HARMONY_LOOKBACK", 50),
		},

		// Audit
		Audit: AuditConfig{
			Enabled:      getEnvAsBool("AUDIT_ENABLED", true),
			BufferSize:   getEnvAsInt("AUDIT_BUFFER_SIZE", 1024),
			BatchSize:    getEnvAsInt("AUDIT_BATCH_SIZE", 64),
			FlushPerSec:  getEnvAsFloat("AUDIT_FLUSH_PER_SEC", 4),
			SnapshotCron: getEnv("AUDIT_SNAPSHOT_CRON", "0 * * * * *"),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	// Validate environment
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	// Database URL is required only when the audit repository is enabled
	if c.Database.Enabled && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when DB_ENABLED=true")
	}

	if c.Allocation.NumParticles < 1 {
		return fmt.Errorf("ALLOC_NUM_PARTICLES must be >= 1")
	}
	if c.Control.TargetDrawdown <= 0 {
		return fmt.Errorf("CONTROL_TARGET_DRAWDOWN must be > 0")
	}
	if c.Control.VentralThreshold < c.Control.SympatheticThreshold {
		return fmt.Errorf("CONTROL_VENTRAL_THRESHOLD must be >= CONTROL_SYMPATHETIC_THRESHOLD")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	// Try paths in order of priority
	paths := []string{
		".env", // Current directory
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		fallback, _ := time.ParseDuration(defaultValue)
		return fallback
	}

	return value
}
