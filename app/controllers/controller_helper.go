package controllers

import (
	"context"
	"time"

	"github.com/ManuelReschke/PayProxy/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayProxy/internal/pkg/mail"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments"
	"github.com/ManuelReschke/PayProxy/internal/pkg/transmission"
	"github.com/gofiber/fiber/v2"
)

const defaultHandlerTimeout = 15 * time.Second

// Transmissions validates what the platform and the processor post to us.
type Transmissions interface {
	ProcessPlatformTransmission(post map[string]string, required []string) (transmission.Data, error)
	ProcessProcessorTransmission(post map[string]string, required []string) (map[string]string, error)
}

// PlatformEncrypter seals responses to the platform.
type PlatformEncrypter interface {
	EncryptForPlatform(plaintext []byte) (string, error)
}

// JobEnqueuer hands work to the background queue.
type JobEnqueuer interface {
	EnqueueAdminEmail(ctx context.Context, p jobqueue.AdminEmailJobPayload) (*jobqueue.Job, error)
	EnqueueResponseArchive(ctx context.Context, p jobqueue.ArchiveResponseJobPayload) (*jobqueue.Job, error)
}

// Recorder counts rejected transmissions and callback decisions.
type Recorder interface {
	TransmissionRejected(pipeline string)
	CallbackDecision(kind, decision string)
}

type noopRecorder struct{}

func (noopRecorder) TransmissionRejected(string)     {}
func (noopRecorder) CallbackDecision(string, string) {}

// Dependencies is everything the controllers need, built once at startup.
type Dependencies struct {
	Payments            *payments.Service
	Transmissions       Transmissions
	Platform            PlatformEncrypter
	Jobs                JobEnqueuer
	Metrics             Recorder
	Links               mail.AdminLinks
	CanceledRedirectURL string
	ArchiveEnabled      bool
	HandlerTimeout      time.Duration
	Now                 func() time.Time
}

func (d *Dependencies) withDefaults() {
	if d.Metrics == nil {
		d.Metrics = noopRecorder{}
	}
	if d.HandlerTimeout <= 0 {
		d.HandlerTimeout = defaultHandlerTimeout
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

func (d *Dependencies) context(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), d.HandlerTimeout)
}

// formFields flattens the posted form. Repeated names keep their last value.
func formFields(c *fiber.Ctx) map[string]string {
	post := make(map[string]string)
	c.Request().PostArgs().VisitAll(func(key, value []byte) {
		post[string(key)] = string(value)
	})
	if form, err := c.MultipartForm(); err == nil {
		for key, values := range form.Value {
			if len(values) > 0 {
				post[key] = values[len(values)-1]
			}
		}
	}
	return post
}

func renderGeneric(c *fiber.Ctx, status int, heading, message string) error {
	return c.Status(status).Render("generic", fiber.Map{
		"Heading": heading,
		"Message": message,
	})
}

func badRequest(c *fiber.Ctx) error {
	return renderGeneric(c, fiber.StatusBadRequest, "400 Bad Request", "Bad Request")
}

func serverError(c *fiber.Ctx) error {
	return renderGeneric(c, fiber.StatusInternalServerError, "500 Internal Server Error", "Something went wrong.")
}

func renderRedirect(c *fiber.Ctx, out *payments.Outbound) error {
	return c.Render("redirect", fiber.Map{
		"PostTo": out.URL,
		"Fields": out.Fields,
	})
}
