package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/ManuelReschke/PayProxy/app/models"
	"github.com/ManuelReschke/PayProxy/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const statusReportField = "csv_file"

// QueueStats reports the background queue state.
type QueueStats interface {
	GetStats(ctx context.Context) (*jobqueue.Stats, error)
}

// AdminController serves the staff-only routes.
type AdminController struct {
	deps  Dependencies
	queue QueueStats
}

func NewAdminController(deps Dependencies, queue QueueStats) *AdminController {
	deps.withDefaults()
	return &AdminController{deps: deps, queue: queue}
}

// UpdateStatuses applies subscription statuses exported from the processor,
// either as an uploaded CSV report or as a JSON list.
func (a *AdminController) UpdateStatuses(c *fiber.Ctx) error {
	rows, err := a.statusRows(c)
	if err != nil {
		log.Warnf("[Admin] Unreadable status update: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ctx, cancel := a.deps.context(c)
	defer cancel()

	report, err := a.deps.Payments.ReconcileStatuses(ctx, rows)
	var validation *models.ValidationError
	switch {
	case err == nil:
		return c.JSON(fiber.Map{"message": "Statuses Updated", "report": report})
	case errors.As(err, &validation):
		log.Warnf("[Admin] Status update rejected: %v", validation)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validation.Error()})
	case report != nil && (errors.Is(err, payments.ErrAgreementNotFound) || errors.Is(err, payments.ErrMultipleMatches)):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error(), "report": report})
	default:
		log.Errorf("[Admin] Status update failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "status update failed"})
	}
}

func (a *AdminController) statusRows(c *fiber.Ctx) ([]payments.StatusUpdate, error) {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		header, err := c.FormFile(statusReportField)
		if err != nil {
			return nil, err
		}
		f, err := header.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return payments.ParseStatusReport(f)
	}

	var rows []payments.StatusUpdate
	if err := json.Unmarshal(c.Body(), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// PendingCancellations lists the cancellations staff still have to carry out.
func (a *AdminController) PendingCancellations(c *fiber.Ctx) error {
	ctx, cancel := a.deps.context(c)
	defer cancel()

	pending, err := a.deps.Payments.PendingCancellations(ctx)
	if err != nil {
		log.Errorf("[Admin] Pending cancellations: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}
	return c.JSON(fiber.Map{"pending": pending, "total": len(pending)})
}

// Jobs shows the background queue statistics.
func (a *AdminController) Jobs(c *fiber.Ctx) error {
	ctx, cancel := a.deps.context(c)
	defer cancel()

	stats, err := a.queue.GetStats(ctx)
	if err != nil {
		log.Errorf("[Admin] Queue stats: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "queue unavailable"})
	}
	return c.JSON(stats)
}
