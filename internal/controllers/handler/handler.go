package handler

import (
	"context"
	"errors"
	"time"

	"progress/internal/appers"
	"progress/internal/application/common"
	"progress/internal/application/entity"
	use_cases "progress/internal/application/use-cases"

	"github.com/gofiber/fiber/v2"
	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type Handler interface {
	GetProgress(c *fiber.Ctx) error
	GetDeliveryStatus(c *fiber.Ctx) error
	GetTaskRecords(c *fiber.Ctx) error
	HealthCheck(c *fiber.Ctx) error
	Live(c *fiber.Ctx) error
}

type HandlerImpl struct {
	usecase use_cases.UseCaser
	logger  *zap.SugaredLogger
}

func NewPipelineHandler(usecase use_cases.UseCaser, logger *zap.SugaredLogger) *HandlerImpl {
	return &HandlerImpl{
		usecase: usecase,
		logger:  logger,
	}
}

func (h *HandlerImpl) Live(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusOK)
}

// HealthCheck возвращает состояние зависимостей: PostgreSQL, Kafka, Redis.
// Redis деградирует мягко (кэш), поэтому его сбой не валит readiness.
func (h *HandlerImpl) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	dbHealthy, kafkaHealthy, redisHealthy, _ := h.usecase.HealthCheck(ctx)

	health := entity.HealthCheckResponse{
		Status:  dbHealthy && kafkaHealthy,
		Message: "success",
		Version: common.Version,
		Checks: entity.HealthCheckResponseData{
			Database: entity.HealthCheckItem{Status: dbHealthy, Type: "postgresql"},
			Kafka:    entity.HealthCheckItem{Status: kafkaHealthy, Type: "kafka"},
			Redis:    entity.HealthCheckItem{Status: redisHealthy, Type: "redis"},
		},
	}
	if !dbHealthy {
		health.Checks.Database.Error = "Database connection failed"
		health.Message = "Some services are unavailable"
	}
	if !kafkaHealthy {
		health.Checks.Kafka.Error = "Kafka connection failed"
		health.Message = "Some services are unavailable"
	}
	if !redisHealthy {
		health.Checks.Redis.Error = "Redis connection failed"
	}

	status := fiber.StatusOK
	if !dbHealthy || !kafkaHealthy {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(health)
}

// GetProgress отдаёт агрегат прогресса пары (learner, course).
// Несуществующая пара — валидный пустой агрегат с нулевым прогрессом.
func (h *HandlerImpl) GetProgress(c *fiber.Ctx) error {
	learnerID, err := uuid.FromString(c.Params("learnerId"))
	if err != nil {
		return appers.SanitizeError(c, appers.ErrBadID)
	}
	courseID, err := uuid.FromString(c.Params("courseId"))
	if err != nil {
		return appers.SanitizeError(c, appers.ErrBadID)
	}

	agg, err := h.usecase.GetProgress(c.Context(), learnerID, courseID)
	if err != nil {
		h.logger.Errorf("[learner: %s, course: %s] get progress failed: %v", learnerID, courseID, err)
		return appers.SanitizeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"learnerId":       agg.LearnerID,
		"courseId":        agg.CourseID,
		"percentComplete": agg.PercentComplete,
		"status":          agg.Status,
		"timeSpent":       agg.TotalTimeSpentSeconds,
		"updatedAt":       agg.UpdatedAt,
	})
}

// GetDeliveryStatus — аудит: интент и судьба его задач по каналам.
func (h *HandlerImpl) GetDeliveryStatus(c *fiber.Ctx) error {
	intentID, err := uuid.FromString(c.Params("intentId"))
	if err != nil {
		return appers.SanitizeError(c, appers.ErrBadID)
	}

	status, err := h.usecase.GetDeliveryStatus(c.Context(), intentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return appers.SanitizeError(c, appers.ErrIntentNotFound)
		}
		h.logger.Errorf("[intent: %s] get delivery status failed: %v", intentID, err)
		return appers.SanitizeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(status)
}

// GetTaskRecords — полная история переходов статуса задачи доставки.
func (h *HandlerImpl) GetTaskRecords(c *fiber.Ctx) error {
	taskID, err := uuid.FromString(c.Params("taskId"))
	if err != nil {
		return appers.SanitizeError(c, appers.ErrBadID)
	}

	records, err := h.usecase.GetTaskRecords(c.Context(), taskID)
	if err != nil {
		h.logger.Errorf("[task: %s] get task records failed: %v", taskID, err)
		return appers.SanitizeError(c, err)
	}
	if len(records) == 0 {
		return appers.SanitizeError(c, appers.ErrTaskNotFound)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"taskId":  taskID,
		"records": records,
	})
}
