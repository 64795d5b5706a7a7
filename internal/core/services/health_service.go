package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// ComponentHealth represents the health of a specific component.
type ComponentHealth struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	Latency   string       `json:"latency,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// HealthReport represents the overall health report.
type HealthReport struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Components map[string]ComponentHealth `json:"components"`
}

// BreakerStater reports a circuit breaker state, e.g. the cloud escalator.
type BreakerStater interface {
	BreakerState() string
}

// HealthService aggregates component checks. The registry database is a hard
// dependency; redis and the cloud breaker only degrade the report.
type HealthService struct {
	db      *gorm.DB      // nil when the in-memory registry is used
	redis   *redis.Client // nil when the event bus is disabled
	cloud   BreakerStater // nil when escalation is disabled
	version string
}

func NewHealthService(db *gorm.DB, redisClient *redis.Client, cloud BreakerStater, version string) *HealthService {
	if version == "" {
		version = "0.0.1"
	}
	return &HealthService{db: db, redis: redisClient, cloud: cloud, version: version}
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     HealthStatusHealthy,
		Version:    s.version,
		CheckedAt:  time.Now(),
		Components: make(map[string]ComponentHealth),
	}

	if s.db != nil {
		dbHealth := s.checkDatabase(ctx)
		report.Components["registry_db"] = dbHealth
		if dbHealth.Status != HealthStatusHealthy {
			report.Status = HealthStatusError
		}
	}

	if s.redis != nil {
		redisHealth := s.checkRedis(ctx)
		report.Components["event_bus"] = redisHealth
		if redisHealth.Status != HealthStatusHealthy && report.Status == HealthStatusHealthy {
			report.Status = HealthStatusDegraded
		}
	}

	if s.cloud != nil {
		cloudHealth := s.checkCloudBreaker()
		report.Components["cloud_escalation"] = cloudHealth
		if cloudHealth.Status != HealthStatusHealthy && report.Status == HealthStatusHealthy {
			report.Status = HealthStatusDegraded
		}
	}

	return report
}

func (s *HealthService) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()

	sqlDB, err := s.db.DB()
	if err != nil {
		return ComponentHealth{
			Status:    HealthStatusError,
			Message:   fmt.Sprintf("failed to get database instance: %v", err),
			CheckedAt: time.Now(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return ComponentHealth{
			Status:    HealthStatusError,
			Message:   fmt.Sprintf("database ping failed: %v", err),
			Latency:   time.Since(start).String(),
			CheckedAt: time.Now(),
		}
	}

	return ComponentHealth{
		Status:    HealthStatusHealthy,
		Latency:   time.Since(start).String(),
		CheckedAt: time.Now(),
	}
}

func (s *HealthService) checkRedis(ctx context.Context) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		return ComponentHealth{
			Status:    HealthStatusDegraded,
			Message:   fmt.Sprintf("redis ping failed: %v", err),
			Latency:   time.Since(start).String(),
			CheckedAt: time.Now(),
		}
	}

	return ComponentHealth{
		Status:    HealthStatusHealthy,
		Latency:   time.Since(start).String(),
		CheckedAt: time.Now(),
	}
}

func (s *HealthService) checkCloudBreaker() ComponentHealth {
	state := s.cloud.BreakerState()
	status := HealthStatusHealthy
	msg := ""
	if state != "closed" {
		status = HealthStatusDegraded
		msg = fmt.Sprintf("escalation circuit breaker is %s", state)
	}
	return ComponentHealth{
		Status:    status,
		Message:   msg,
		CheckedAt: time.Now(),
	}
}

// SimpleHealthCheck returns a compact status for load balancers.
func (s *HealthService) SimpleHealthCheck(ctx context.Context) (string, int) {
	report := s.CheckHealth(ctx)

	switch report.Status {
	case HealthStatusHealthy:
		return "healthy", 200
	case HealthStatusDegraded:
		return "degraded", 200 // still serving requests
	default:
		return "error", 503
	}
}
