package handlers

import "github.com/gofiber/fiber/v3"

// ErrHistoryUnavailable is returned when no KPI history store is configured
var ErrHistoryUnavailable = fiber.NewError(fiber.StatusServiceUnavailable, "kpi history requires redis")

// ErrPeriodNotFound is returned for a KPI period without history
var ErrPeriodNotFound = fiber.NewError(fiber.StatusNotFound, "unknown kpi period, expected daily or weekly")

// ErrInvalidLimit is returned when the limit query parameter is not a non-negative integer
var ErrInvalidLimit = fiber.NewError(fiber.StatusBadRequest, "limit must be a non-negative integer")
