// services/notification_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/maverickdeepak/mahadev-auto/models"
	"github.com/maverickdeepak/mahadev-auto/utils"
	log "github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// DeliveryNotice is what the customer is told when their bike is handed over.
type DeliveryNotice struct {
	RecordID     uuid.UUID
	Phone        string
	CustomerName string
	ServiceType  string
	BikeNumber   string
	TotalCost    float64
}

// Notifier delivers the completion message. A returned error is reported, never fatal.
type Notifier interface {
	NotifyDelivered(ctx context.Context, n DeliveryNotice) error
}

// MessageSender is one delivery channel.
type MessageSender interface {
	Channel() string
	Send(ctx context.Context, to, body string) (ref string, err error)
}

// messageCreator is the slice of the Twilio API we call.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type TwilioSender struct {
	api  messageCreator
	from string
}

func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{api: client.Api, from: from}
}

func (s *TwilioSender) Channel() string { return "sms" }

// Send runs the Twilio call in the background so ctx bounds how long we wait.
func (s *TwilioSender) Send(ctx context.Context, to, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	type result struct {
		ref string
		err error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.api.CreateMessage(params)
		if err != nil {
			done <- result{err: err}
			return
		}
		ref := ""
		if resp != nil && resp.Sid != nil {
			ref = *resp.Sid
		}
		done <- result{ref: ref}
	}()

	select {
	case r := <-done:
		return r.ref, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct{}

func (LogSender) Channel() string { return "log" }

func (LogSender) Send(_ context.Context, to, body string) (string, error) {
	log.WithFields(log.Fields{"to": to, "body": body}).Info("SMS delivery not configured, message logged")
	return "", nil
}

type NotificationService struct {
	sender   MessageSender
	logs     NotificationLogWriter
	shopName string
	timeout  time.Duration
	now      func() time.Time
}

func NewNotificationService(sender MessageSender, logs NotificationLogWriter, shopName string, timeout time.Duration) *NotificationService {
	return &NotificationService{
		sender:   sender,
		logs:     logs,
		shopName: shopName,
		timeout:  timeout,
		now:      time.Now,
	}
}

// DeliveryMessage renders the completion text sent to the customer.
func DeliveryMessage(n DeliveryNotice, shopName string) string {
	return fmt.Sprintf(
		"Dear %s, your %s service for bike %s has been completed and is delivered. Total cost: ₹%.2f. Thank you for choosing %s!",
		n.CustomerName, n.ServiceType, n.BikeNumber, n.TotalCost, shopName,
	)
}

func (s *NotificationService) NotifyDelivered(ctx context.Context, n DeliveryNotice) error {
	message := DeliveryMessage(n, s.shopName)
	entry := log.WithFields(log.Fields{"record_id": n.RecordID, "bike_number": n.BikeNumber})

	status := models.NotificationSent
	errorMsg := ""
	ref := ""

	to, err := utils.FormatE164(n.Phone, utils.DefaultCountryCode)
	if err == nil {
		sendCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		ref, err = s.sender.Send(sendCtx, to, message)
	}

	if err != nil {
		entry.WithError(err).Warn("Failed to send delivery notification")
		status = models.NotificationFailed
		errorMsg = err.Error()
	} else {
		entry.WithField("ref", ref).Info("Delivery notification sent")
	}

	if s.logs != nil {
		if to == "" {
			to = n.Phone
		}
		notificationLog := models.NotificationLog{
			RecordID:     n.RecordID,
			BikeNumber:   n.BikeNumber,
			Phone:        to,
			Message:      message,
			Status:       status,
			ErrorMessage: errorMsg,
			Channel:      s.sender.Channel(),
			ProviderRef:  ref,
			SentAt:       s.now(),
		}
		if logErr := s.logs.CreateNotificationLog(context.WithoutCancel(ctx), &notificationLog); logErr != nil {
			entry.WithError(logErr).Error("Failed to log delivery notification")
		}
	}

	if err != nil {
		return &NotificationError{Err: err}
	}
	return nil
}
