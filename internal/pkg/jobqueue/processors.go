package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
)

// MailSender delivers plain text email.
type MailSender interface {
	Send(to []string, subject, body string) error
}

// ObjectUploader stores an object in the archive bucket.
type ObjectUploader interface {
	PutObject(ctx context.Context, objectKey string, body []byte, metadata map[string]string) error
}

// AdminEmailHandler sends queued admin emails, to adminRecipients unless
// the job names its own.
func AdminEmailHandler(sender MailSender, adminRecipients []string) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := AdminEmailJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid admin email payload: %w", err)
		}
		to := payload.Recipients
		if len(to) == 0 {
			to = adminRecipients
		}
		if err := sender.Send(to, payload.Subject, payload.Body); err != nil {
			return fmt.Errorf("send admin email %q: %w", payload.Subject, err)
		}
		return nil
	}
}

// ArchiveResponseHandler uploads sealed callback payloads.
func ArchiveResponseHandler(uploader ObjectUploader) Handler {
	return func(ctx context.Context, job *Job) error {
		payload, err := ArchiveResponseJobPayloadFromMap(job.Payload)
		if err != nil {
			return fmt.Errorf("invalid archive payload: %w", err)
		}
		if payload.ObjectKey == "" || len(payload.Ciphertext) == 0 {
			return errors.New("archive payload has no object key or ciphertext")
		}

		metadata := map[string]string{
			"response-id":       strconv.FormatUint(uint64(payload.ResponseID), 10),
			"transaction-uuid":  payload.TransactionUUID,
			"encryption-key-id": strconv.Itoa(payload.EncryptionKeyID),
		}
		if err := uploader.PutObject(ctx, payload.ObjectKey, payload.Ciphertext, metadata); err != nil {
			return err
		}
		log.Infof("[JobQueue] Archived response %d at %s", payload.ResponseID, payload.ObjectKey)
		return nil
	}
}

// EnqueueAdminEmail queues an email to staff.
func (q *Queue) EnqueueAdminEmail(ctx context.Context, p AdminEmailJobPayload) (*Job, error) {
	return q.enqueue(ctx, JobTypeAdminEmail, p.ToMap())
}

// EnqueueResponseArchive queues a sealed callback payload for upload.
func (q *Queue) EnqueueResponseArchive(ctx context.Context, p ArchiveResponseJobPayload) (*Job, error) {
	return q.enqueue(ctx, JobTypeArchiveResponse, p.ToMap())
}
