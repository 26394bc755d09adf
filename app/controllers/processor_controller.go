package controllers

import (
	"errors"

	"github.com/ManuelReschke/PayProxy/app/models"
	"github.com/ManuelReschke/PayProxy/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments"
	"github.com/ManuelReschke/PayProxy/internal/pkg/s3backup"
	"github.com/ManuelReschke/PayProxy/internal/pkg/transmission"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const pipelineProcessor = "processor"

var knownDecisions = map[string]bool{
	models.DecisionAccept:  true,
	models.DecisionReview:  true,
	models.DecisionDecline: true,
	models.DecisionError:   true,
	models.DecisionCancel:  true,
}

// ProcessorController receives the processor's signed notifications.
type ProcessorController struct {
	deps Dependencies
}

func NewProcessorController(deps Dependencies) *ProcessorController {
	deps.withDefaults()
	return &ProcessorController{deps: deps}
}

// Callback records the processor's decision on one of our requests.
func (p *ProcessorController) Callback(c *fiber.Ctx) error {
	post := formFields(c)
	fields, err := p.deps.Transmissions.ProcessProcessorTransmission(post, transmission.RequiredFromProcessor)
	if err != nil {
		var invalid *transmission.InvalidTransmission
		if errors.As(err, &invalid) {
			log.Warnf("[Callback] Rejected transmission: %s", invalid.Reason)
		} else {
			log.Warnf("[Callback] Rejected transmission: %v", err)
		}
		p.deps.Metrics.TransmissionRejected(pipelineProcessor)
		return badRequest(c)
	}

	ctx, cancel := p.deps.context(c)
	defer cancel()

	result, err := p.deps.Payments.Callback(ctx, payments.CallbackInput{
		TransactionUUID: fields["req_transaction_uuid"],
		Decision:        fields["decision"],
		ReasonCode:      fields["reason_code"],
		Message:         fields["message"],
		PaymentToken:    post["payment_token"],
		Post:            post,
	})
	var validation *models.ValidationError
	switch {
	case err == nil:
	case errors.Is(err, payments.ErrDuplicateResponse):
		return renderGeneric(c, fiber.StatusOK, "CyberSource Callback", "Duplicate notification ignored")
	case errors.As(err, &validation):
		log.Warnf("[Callback] Rejected callback: %v", validation)
		return badRequest(c)
	default:
		log.Errorf("[Callback] Callback for %s failed: %v", fields["req_transaction_uuid"], err)
		return serverError(c)
	}

	p.deps.Metrics.CallbackDecision(string(result.Request.Kind), decisionLabel(result.Response.Decision))
	if p.deps.ArchiveEnabled {
		p.archive(c, result)
	}
	return renderGeneric(c, fiber.StatusOK, "CyberSource Callback", "OK")
}

// archive queues the sealed payload for upload. The callback is already
// stored, so failures are only logged.
func (p *ProcessorController) archive(c *fiber.Ctx, result *payments.CallbackResult) {
	ctx, cancel := p.deps.context(c)
	defer cancel()

	_, err := p.deps.Jobs.EnqueueResponseArchive(ctx, jobqueue.ArchiveResponseJobPayload{
		ResponseID:      result.Response.ID,
		TransactionUUID: result.Request.TransactionUUID,
		EncryptionKeyID: result.Response.EncryptionKeyID,
		ObjectKey:       s3backup.ResponseObjectKey(result.Request.TransactionUUID, p.deps.Now()),
		Ciphertext:      result.Response.FullResponse,
	})
	if err != nil {
		log.Errorf("[Callback] Archive of response %d not queued: %v", result.Response.ID, err)
	}
}

func decisionLabel(decision string) string {
	if knownDecisions[decision] {
		return decision
	}
	return "UNKNOWN"
}
