package appers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

var (
	// ErrCASConflict — проигранная гонка за строку агрегата: version ушёл
	// вперёд между чтением и записью. Повторяется с backoff.
	ErrCASConflict = errors.New("aggregate version conflict")

	// ErrStaleSequence — TimeSpent с seq <= last_applied_seq. Логируется,
	// не применяется: at-most-once для аддитивных дельт.
	ErrStaleSequence = errors.New("stale sequence number")

	// ErrMalformedEvent — событие не прошло схему/shape-проверку,
	// уходит в poison topic.
	ErrMalformedEvent = errors.New("malformed progress event")
)

type ErrorResp struct {
	StatusCode int    `json:"statusCode,omitempty"`
	StatusDesc string `json:"statusDesc,omitempty"`
}

func (e ErrorResp) Error() string {
	return e.StatusDesc
}

var (
	ErrAggregateNotFound = ErrorResp{
		http.StatusNotFound,
		"прогресс не найден",
	}
	ErrIntentNotFound = ErrorResp{
		http.StatusNotFound,
		"интент не найден",
	}
	ErrTaskNotFound = ErrorResp{
		http.StatusNotFound,
		"задача доставки не найдена",
	}
	ErrBadID = ErrorResp{
		StatusCode: http.StatusBadRequest,
		StatusDesc: "не верный формат идентификатора, ожидается UUID",
	}
)

func SanitizeError(c *fiber.Ctx, err error) error {
	var errResp ErrorResp

	if ok := errors.As(err, &errResp); ok {
		return c.Status(errResp.StatusCode).JSON(fiber.Map{
			"message": errResp.StatusDesc,
		})
	} else {
		return NewErr(c, http.StatusInternalServerError, err)
	}
}

func NewErr(ctx *fiber.Ctx, status int, err error) error {
	return ctx.Status(status).JSON(fiber.Map{
		"message": err.Error(),
	})
}
