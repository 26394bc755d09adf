package mail

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/*.txt
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.txt"))

// AdminLinks point staff at the processor and platform admin pages.
type AdminLinks struct {
	SearchURL            string
	PermaURL             string
	IndividualDetailPath string
	RegistrarDetailPath  string
	RegistrarUsersPath   string
}

// CancellationRequest is the context of the email sent when a customer asks
// to cancel.
type CancellationRequest struct {
	AdminLinks
	CustomerPK              uint
	CustomerType            string
	MerchantReferenceNumber string
}

// PendingRequest is one line of the cancellation report.
type PendingRequest struct {
	CustomerPK              uint
	CustomerType            string
	MerchantReferenceNumber string
	Status                  string
}

// CancellationReport lists every cancellation still to be carried out.
type CancellationReport struct {
	AdminLinks
	Tier     string
	Requests []PendingRequest
}

func (r CancellationReport) Total() int {
	return len(r.Requests)
}

func RenderCancellationRequest(data CancellationRequest) (subject, body string, err error) {
	body, err = render("cancel.txt", data)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("Cancellation request: %s %d", data.CustomerType, data.CustomerPK), body, nil
}

// RenderCancellationReport produces the daily report, or a short all-clear
// note when nothing is pending.
func RenderCancellationReport(data CancellationReport) (subject, body string, err error) {
	if len(data.Requests) == 0 {
		body, err = render("no_cancellations.txt", data)
		return fmt.Sprintf("No cancellation requests pending on %s", data.Tier), body, err
	}
	body, err = render("cancellation_report.txt", data)
	return fmt.Sprintf("ACTION REQUIRED: cancellation requests pending on %s", data.Tier), body, err
}

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
