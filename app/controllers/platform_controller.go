package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayProxy/app/models"
	"github.com/ManuelReschke/PayProxy/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayProxy/internal/pkg/mail"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments"
	"github.com/ManuelReschke/PayProxy/internal/pkg/transmission"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
)

const pipelinePlatform = "platform"

const startDateLayout = "2006-01-02"

// PlatformController serves the encrypted routes the platform calls.
type PlatformController struct {
	deps Dependencies
}

func NewPlatformController(deps Dependencies) *PlatformController {
	deps.withDefaults()
	return &PlatformController{deps: deps}
}

// receive decrypts and checks the posted transmission for op.
func (p *PlatformController) receive(c *fiber.Ctx, op string) (transmission.Data, error) {
	return p.deps.Transmissions.ProcessPlatformTransmission(formFields(c), transmission.RequiredFromPlatform[op])
}

// fail answers every error the platform routes can produce. The platform only
// ever learns that its request was rejected.
func (p *PlatformController) fail(c *fiber.Ctx, op string, err error) error {
	var invalid *transmission.InvalidTransmission
	var validation *models.ValidationError
	switch {
	case errors.As(err, &invalid):
		log.Warnf("[Platform] Rejected %s transmission: %s", op, invalid.Reason)
		p.deps.Metrics.TransmissionRejected(pipelinePlatform)
		return badRequest(c)
	case errors.As(err, &validation):
		log.Warnf("[Platform] Rejected %s: %v", op, validation)
		return badRequest(c)
	case errors.Is(err, payments.ErrAlreadySubscribed):
		return renderGeneric(c, fiber.StatusOK, "Good News!",
			"You already have an active subscription to Perma.cc, and your payment information is on file.")
	case errors.Is(err, payments.ErrNoActiveSubscription):
		return renderGeneric(c, fiber.StatusOK, "Are you sure you have a subscription?",
			"We can't find any active subscriptions associated with your account.")
	case errors.Is(err, payments.ErrPurchaseNotFound),
		errors.Is(err, payments.ErrPurchaseNotFlagged),
		errors.Is(err, payments.ErrPurchaseAcknowledged):
		log.Warnf("[Platform] Rejected %s: %v", op, err)
		return badRequest(c)
	default:
		log.Errorf("[Platform] %s failed: %v", op, err)
		return serverError(c)
	}
}

// reply seals payload for the platform, stamped with the customer and the
// current time.
func (p *PlatformController) reply(c *fiber.Ctx, customer payments.Customer, payload fiber.Map) error {
	payload["customer_pk"] = customer.PK
	payload["customer_type"] = customer.Type
	payload["timestamp"] = float64(p.deps.Now().UnixNano()) / float64(time.Second)

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode platform response: %w", err)
	}
	sealed, err := p.deps.Platform.EncryptForPlatform(plaintext)
	if err != nil {
		return fmt.Errorf("encrypt platform response: %w", err)
	}
	return c.JSON(fiber.Map{transmission.FieldEncryptedData: sealed})
}

func customerFrom(data transmission.Data) (payments.Customer, error) {
	pk, err := data.Uint("customer_pk")
	if err != nil {
		return payments.Customer{}, invalidField(err)
	}
	kind, err := data.String("customer_type")
	if err != nil {
		return payments.Customer{}, invalidField(err)
	}
	return payments.Customer{PK: pk, Type: kind}, nil
}

func decimalFrom(data transmission.Data, key string) (decimal.Decimal, error) {
	s, err := data.String(key)
	if err != nil {
		return decimal.Decimal{}, invalidField(err)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, invalidField(fmt.Errorf("%s is not a decimal", key))
	}
	return d, nil
}

func stringFrom(data transmission.Data, key string) (string, error) {
	s, err := data.String(key)
	if err != nil {
		return "", invalidField(err)
	}
	return s, nil
}

func timeFrom(data transmission.Data, key string) (time.Time, error) {
	t, err := data.Time(key)
	if err != nil {
		return time.Time{}, invalidField(err)
	}
	return t, nil
}

// startDateFrom accepts a calendar date or epoch seconds.
func startDateFrom(data transmission.Data, key string) (time.Time, error) {
	if s, ok := data[key].(string); ok {
		t, err := time.Parse(startDateLayout, s)
		if err != nil {
			return time.Time{}, invalidField(fmt.Errorf("%s must be a YYYY-MM-DD date", key))
		}
		return t, nil
	}
	return timeFrom(data, key)
}

func invalidField(err error) error {
	return &transmission.InvalidTransmission{Reason: err.Error()}
}

// Subscribe sends the customer to the processor to set up a subscription.
func (p *PlatformController) Subscribe(c *fiber.Ctx) error {
	in, err := p.subscribeInput(c)
	if err != nil {
		return p.fail(c, transmission.OpSubscribe, err)
	}
	ctx, cancel := p.deps.context(c)
	defer cancel()

	out, err := p.deps.Payments.Subscribe(ctx, in)
	if err != nil {
		return p.fail(c, transmission.OpSubscribe, err)
	}
	return renderRedirect(c, out)
}

func (p *PlatformController) subscribeInput(c *fiber.Ctx) (payments.SubscribeInput, error) {
	var in payments.SubscribeInput
	data, err := p.receive(c, transmission.OpSubscribe)
	if err != nil {
		return in, err
	}
	if in.Customer, err = customerFrom(data); err != nil {
		return in, err
	}
	if in.Amount, err = decimalFrom(data, "amount"); err != nil {
		return in, err
	}
	if in.RecurringAmount, err = decimalFrom(data, "recurring_amount"); err != nil {
		return in, err
	}
	if in.RecurringFrequency, err = stringFrom(data, "recurring_frequency"); err != nil {
		return in, err
	}
	if in.RecurringStartDate, err = startDateFrom(data, "recurring_start_date"); err != nil {
		return in, err
	}
	if in.LinkLimit, err = stringFrom(data, "link_limit"); err != nil {
		return in, err
	}
	in.LinkLimitEffectiveTimestamp, err = timeFrom(data, "link_limit_effective_timestamp")
	return in, err
}

// Change sends the customer to the processor to accept new terms.
func (p *PlatformController) Change(c *fiber.Ctx) error {
	in, err := p.changeInput(c)
	if err != nil {
		return p.fail(c, transmission.OpChange, err)
	}
	ctx, cancel := p.deps.context(c)
	defer cancel()

	out, err := p.deps.Payments.Change(ctx, in)
	if err != nil {
		return p.fail(c, transmission.OpChange, err)
	}
	return renderRedirect(c, out)
}

func (p *PlatformController) changeInput(c *fiber.Ctx) (payments.ChangeInput, error) {
	var in payments.ChangeInput
	data, err := p.receive(c, transmission.OpChange)
	if err != nil {
		return in, err
	}
	if in.Customer, err = customerFrom(data); err != nil {
		return in, err
	}
	if in.Amount, err = decimalFrom(data, "amount"); err != nil {
		return in, err
	}
	if in.RecurringAmount, err = decimalFrom(data, "recurring_amount"); err != nil {
		return in, err
	}
	if in.LinkLimit, err = stringFrom(data, "link_limit"); err != nil {
		return in, err
	}
	in.LinkLimitEffectiveTimestamp, err = timeFrom(data, "link_limit_effective_timestamp")
	return in, err
}

// Update sends the customer to the processor to replace their card.
func (p *PlatformController) Update(c *fiber.Ctx) error {
	data, err := p.receive(c, transmission.OpUpdate)
	if err != nil {
		return p.fail(c, transmission.OpUpdate, err)
	}
	customer, err := customerFrom(data)
	if err != nil {
		return p.fail(c, transmission.OpUpdate, err)
	}
	ctx, cancel := p.deps.context(c)
	defer cancel()

	out, err := p.deps.Payments.Update(ctx, customer)
	if err != nil {
		return p.fail(c, transmission.OpUpdate, err)
	}
	return renderRedirect(c, out)
}

// Purchase sends the customer to the processor to buy links.
func (p *PlatformController) Purchase(c *fiber.Ctx) error {
	var in payments.PurchaseInput
	data, err := p.receive(c, transmission.OpPurchase)
	if err == nil {
		in.Customer, err = customerFrom(data)
	}
	if err == nil {
		in.Amount, err = decimalFrom(data, "amount")
	}
	if err == nil {
		in.LinkQuantity, err = stringFrom(data, "link_quantity")
	}
	if err != nil {
		return p.fail(c, transmission.OpPurchase, err)
	}
	ctx, cancel := p.deps.context(c)
	defer cancel()

	out, err := p.deps.Payments.Purchase(ctx, in)
	if err != nil {
		return p.fail(c, transmission.OpPurchase, err)
	}
	return renderRedirect(c, out)
}

// AcknowledgePurchase records that the platform credited a purchase.
func (p *PlatformController) AcknowledgePurchase(c *fiber.Ctx) error {
	data, err := p.receive(c, transmission.OpAcknowledgePurchase)
	if err != nil {
		return p.fail(c, transmission.OpAcknowledgePurchase, err)
	}
	id, err := data.Uint("purchase_pk")
	if err != nil {
		return p.fail(c, transmission.OpAcknowledgePurchase, invalidField(err))
	}
	ctx, cancel := p.deps.context(c)
	defer cancel()

	if err := p.deps.Payments.AcknowledgePurchase(ctx, id); err != nil {
		return p.fail(c, transmission.OpAcknowledgePurchase, err)
	}
	return c.JSON(fiber.Map{})
}

// PurchaseHistory returns the customer's successful purchases.
func (p *PlatformController) PurchaseHistory(c *fiber.Ctx) error {
	data, err := p.receive(c, transmission.OpPurchaseHistory)
	if err != nil {
		return p.fail(c, transmission.OpPurchaseHistory, err)
	}
	customer, err := customerFrom(data)
	if err != nil {
		return p.fail(c, transmission.OpPurchaseHistory, err)
	}
	ctx, cancel := p.deps.context(c)
	defer cancel()

	history, err := p.deps.Payments.PurchaseHistory(ctx, customer)
	if err != nil {
		return p.fail(c, transmission.OpPurchaseHistory, err)
	}
	return p.reply(c, customer, fiber.Map{"purchase_history": history})
}

// Subscription reports the customer's standing subscription and the
// purchases awaiting acknowledgment.
func (p *PlatformController) Subscription(c *fiber.Ctx) error {
	data, err := p.receive(c, transmission.OpSubscription)
	if err != nil {
		return p.fail(c, transmission.OpSubscription, err)
	}
	customer, err := customerFrom(data)
	if err != nil {
		return p.fail(c, transmission.OpSubscription, err)
	}
	ctx, cancel := p.deps.context(c)
	defer cancel()

	status, err := p.deps.Payments.SubscriptionStatus(ctx, customer)
	if err != nil {
		return p.fail(c, transmission.OpSubscription, err)
	}
	return p.reply(c, customer, fiber.Map{
		"subscription": status.Subscription,
		"purchases":    status.Purchases,
	})
}

// CancelRequest flags the subscription and asks staff to cancel it at the
// processor.
func (p *PlatformController) CancelRequest(c *fiber.Ctx) error {
	data, err := p.receive(c, transmission.OpCancelRequest)
	if err != nil {
		return p.fail(c, transmission.OpCancelRequest, err)
	}
	customer, err := customerFrom(data)
	if err != nil {
		return p.fail(c, transmission.OpCancelRequest, err)
	}
	ctx, cancel := p.deps.context(c)
	defer cancel()

	cancellation, err := p.deps.Payments.RequestCancellation(ctx, customer)
	if err != nil {
		return p.fail(c, transmission.OpCancelRequest, err)
	}

	links := p.deps.Links
	links.SearchURL = p.deps.Payments.Processor().SubscriptionSearchURL()
	subject, body, err := mail.RenderCancellationRequest(mail.CancellationRequest{
		AdminLinks:              links,
		CustomerPK:              customer.PK,
		CustomerType:            customer.Type,
		MerchantReferenceNumber: cancellation.ReferenceNumber,
	})
	if err != nil {
		log.Errorf("[Platform] Cancellation email for %s %d not rendered: %v", customer.Type, customer.PK, err)
	} else if _, err := p.deps.Jobs.EnqueueAdminEmail(ctx, jobqueue.AdminEmailJobPayload{Subject: subject, Body: body}); err != nil {
		log.Errorf("[Platform] Cancellation email for %s %d not queued: %v", customer.Type, customer.PK, err)
	}

	return c.Redirect(p.deps.CanceledRedirectURL, fiber.StatusFound)
}
