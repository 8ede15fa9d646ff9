// Package handlers implements the REST endpoints of the simulation API.
package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/kpisim/pkg/command"
	"github.com/ethpandaops/kpisim/pkg/records"
	"github.com/ethpandaops/kpisim/pkg/redis"
	"github.com/ethpandaops/kpisim/pkg/simulation"
)

// Simulation is the simulation control surface exposed over REST.
type Simulation interface {
	Status() simulation.StatusMessage
	Statistics() simulation.StatisticsMessage
	HandleMessage(ctx context.Context, data []byte) error
}

// History reads stored KPI values.
type History interface {
	KPIHistory(ctx context.Context, period string, limit int64) ([]redis.KPIPoint, error)
}

// Server holds the request handlers
type Server struct {
	sim     Simulation
	history History
	log     logrus.FieldLogger
}

// NewServer creates a new API server instance. history may be nil.
func NewServer(sim Simulation, history History, log logrus.FieldLogger) *Server {
	return &Server{
		sim:     sim,
		history: history,
		log:     log.WithField("component", "api.handlers"),
	}
}

// Register adds the routes to router.
func (s *Server) Register(router fiber.Router) {
	router.Get("/status", s.GetStatus)
	router.Get("/statistics", s.GetStatistics)
	router.Post("/commands", s.PostCommand)
	router.Get("/kpi/:period", s.GetKPIHistory)
}

// GetStatus handles GET /api/v1/status
func (s *Server) GetStatus(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(s.sim.Status())
}

// GetStatistics handles GET /api/v1/statistics
func (s *Server) GetStatistics(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(s.sim.Statistics())
}

// PostCommand handles POST /api/v1/commands and responds with the resulting status
func (s *Server) PostCommand(c fiber.Ctx) error {
	err := s.sim.HandleMessage(c.Context(), c.Body())

	switch {
	case err == nil:
		return c.Status(fiber.StatusOK).JSON(s.sim.Status())
	case errors.Is(err, command.ErrMalformed),
		errors.Is(err, command.ErrUnknownType),
		errors.Is(err, command.ErrInvalidValue):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, records.ErrCursorInit):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		s.log.WithError(err).Error("Command failed")

		return err
	}
}

// GetKPIHistory handles GET /api/v1/kpi/:period
func (s *Server) GetKPIHistory(c fiber.Ctx) error {
	if s.history == nil {
		return ErrHistoryUnavailable
	}

	limit, err := strconv.ParseInt(c.Query("limit", "0"), 10, 64)
	if err != nil || limit < 0 {
		return ErrInvalidLimit
	}

	period := c.Params("period")

	points, err := s.history.KPIHistory(c.Context(), period, limit)
	if err != nil {
		if errors.Is(err, redis.ErrUnknownPeriod) {
			return ErrPeriodNotFound
		}

		return err
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"period": period,
		"points": points,
		"total":  len(points),
	})
}
