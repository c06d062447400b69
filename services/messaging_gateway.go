package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"text/template"
	"time"

	"reviewpilot-backend/config"
	"reviewpilot-backend/logging"
	"reviewpilot-backend/models"
	"reviewpilot-backend/monitoring"
	"reviewpilot-backend/utils"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"gorm.io/gorm"
)

var (
	ErrInvalidRecipient = errors.New("recipient must be a single phone number")
	ErrRateLimited      = errors.New("recipient rate limit exceeded")
	ErrUnknownTemplate  = errors.New("unknown message template")
)

const notifyResendBatch = 50

var messageTemplates = func() map[string]*template.Template {
	bodies := map[string]string{
		models.TemplateCriticalAlert: `New {{.Rating}}-star review for {{.OutletName}} from {{.CustomerName}}: "{{.ReviewText}}". Please reply from your dashboard.`,
		models.TemplateReminder:      `Reminder {{.ReminderNumber}}: the {{.Rating}}-star review from {{.CustomerName}} for {{.OutletName}} has been waiting {{.PendingFor}} for a reply.`,
		models.TemplateEscalation:    `Escalated: no reply to the {{.Rating}}-star review from {{.CustomerName}} for {{.OutletName}} after {{.ReminderCount}} reminders ({{.PendingFor}} pending). Reminders have stopped.`,
		models.TemplateAutoReplyNotice:     `Auto-replied to {{.CustomerName}}'s {{.Rating}}-star review for {{.OutletName}}: "{{.ReplyText}}"`,
	}
	parsed := make(map[string]*template.Template, len(bodies))
	for name, body := range bodies {
		parsed[name] = template.Must(template.New(name).Parse(body))
	}
	return parsed
}()

// messageCreator is the slice of the Twilio client the gateway needs.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// MessagingGateway sends owner and admin notifications over Twilio SMS or
// WhatsApp. Every send is recorded in notification_logs before the provider
// call, so a crash between the call and the bookkeeping leaves a pending row
// that ResendPending picks up later.
type MessagingGateway struct {
	db           *gorm.DB
	api          messageCreator
	smsFrom      string
	waFrom       string
	buckets      *gocache.Cache
	burst        int
	refillPerSec float64
	mu           sync.Mutex
	log          *logrus.Entry
}

func NewMessagingGateway(db *gorm.DB, cfg config.AutomationConfig) *MessagingGateway {
	accountSid := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	return newMessagingGateway(db, cfg, client.Api)
}

// newMessagingGateway wires an explicit message API; tests pass a fake.
func newMessagingGateway(db *gorm.DB, cfg config.AutomationConfig, api messageCreator) *MessagingGateway {
	return &MessagingGateway{
		db:           db,
		api:          api,
		smsFrom:      os.Getenv("TWILIO_PHONE_NUMBER"),
		waFrom:       os.Getenv("TWILIO_WHATSAPP_NUMBER"),
		buckets:      gocache.New(30*time.Minute, 10*time.Minute),
		burst:        cfg.NotifyBurst,
		refillPerSec: float64(cfg.NotifyRPM) / 60.0,
		log:          logging.Component("messaging"),
	}
}

// allow checks and burns one token from the recipient's bucket.
func (g *MessagingGateway) allow(recipient string, now time.Time) bool {
	g.mu.Lock()
	var b *tokenBucket
	if v, ok := g.buckets.Get(recipient); ok {
		b = v.(*tokenBucket)
	} else {
		b = &tokenBucket{tokens: float64(g.burst), last: now}
	}
	g.buckets.Set(recipient, b, gocache.DefaultExpiration)
	g.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = math.Min(float64(g.burst), b.tokens+now.Sub(b.last).Seconds()*g.refillPerSec)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func channelFor(recipient string) string {
	// E.164 numbers go out over WhatsApp, everything else over plain SMS.
	if len(recipient) > 0 && recipient[0] == '+' {
		return models.ChannelWhatsApp
	}
	return models.ChannelSMS
}

func (g *MessagingGateway) render(name string, params map[string]interface{}) (string, error) {
	tmpl, ok := messageTemplates[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SendTemplate renders and delivers one message to one recipient. Messages
// never fan out here; callers loop when several people must be told.
func (g *MessagingGateway) SendTemplate(ctx context.Context, recipient, tmplName string, params map[string]interface{}, outletID uuid.UUID, reviewID *uuid.UUID) error {
	if !utils.IsSingleRecipient(recipient) {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	body, err := g.render(tmplName, params)
	if err != nil {
		return fmt.Errorf("render %s: %w", tmplName, err)
	}
	if !g.allow(recipient, time.Now()) {
		g.log.WithFields(logrus.Fields{
			"recipient": recipient,
			"template":  tmplName,
		}).Warn("notification rate limited")
		return ErrRateLimited
	}

	entry := models.NotificationLog{
		OutletID:  outletID,
		ReviewID:  reviewID,
		Recipient: recipient,
		Template:  tmplName,
		Params:    params,
		Channel:   channelFor(recipient),
		Status:    models.NotificationPending,
	}
	if err := g.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("record notification: %w", err)
	}
	return g.deliver(ctx, &entry, body)
}

func (g *MessagingGateway) deliver(ctx context.Context, entry *models.NotificationLog, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetBody(body)
	if entry.Channel == models.ChannelWhatsApp {
		params.SetTo("whatsapp:" + entry.Recipient)
		params.SetFrom("whatsapp:" + g.waFrom)
	} else {
		params.SetTo(entry.Recipient)
		params.SetFrom(g.smsFrom)
	}

	resp, err := g.api.CreateMessage(params)
	if err != nil {
		entry.Status = models.NotificationFailed
		entry.ErrorMessage = err.Error()
		if dbErr := g.db.WithContext(ctx).Save(entry).Error; dbErr != nil {
			g.log.WithError(dbErr).Error("failed to update notification log")
		}
		monitoring.MessagesSent.WithLabelValues(entry.Template, "failed").Inc()
		g.log.WithFields(logrus.Fields{
			"recipient":   entry.Recipient,
			"template":    entry.Template,
			"channel":     entry.Channel,
			"error_class": "transient",
		}).WithError(err).Error("message send failed")
		return fmt.Errorf("send %s to %s: %w", entry.Template, entry.Recipient, err)
	}

	now := time.Now()
	entry.Status = models.NotificationSent
	entry.SentAt = &now
	entry.ErrorMessage = ""
	if dbErr := g.db.WithContext(ctx).Save(entry).Error; dbErr != nil {
		g.log.WithError(dbErr).Error("failed to update notification log")
	}
	monitoring.MessagesSent.WithLabelValues(entry.Template, "sent").Inc()

	fields := logrus.Fields{
		"recipient": entry.Recipient,
		"template":  entry.Template,
		"channel":   entry.Channel,
	}
	if resp.Sid != nil {
		fields["sid"] = *resp.Sid
	}
	g.log.WithFields(fields).Debug("message sent")
	return nil
}

// ResendPending retries notifications stuck in pending longer than olderThan,
// and expires anything older than maxAge. Returns how many went out.
func (g *MessagingGateway) ResendPending(ctx context.Context, olderThan, maxAge time.Duration) (int, error) {
	now := time.Now()

	expired := g.db.WithContext(ctx).Model(&models.NotificationLog{}).
		Where("status = ? AND created_at <= ?", models.NotificationPending, now.Add(-maxAge)).
		Updates(map[string]interface{}{
			"status":        models.NotificationFailed,
			"error_message": "expired before delivery",
		})
	if expired.Error != nil {
		return 0, expired.Error
	}
	if expired.RowsAffected > 0 {
		g.log.WithField("count", expired.RowsAffected).Warn("expired undelivered notifications")
	}

	var stale []models.NotificationLog
	err := g.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", models.NotificationPending, now.Add(-olderThan)).
		Order("created_at asc").Limit(notifyResendBatch).Find(&stale).Error
	if err != nil {
		return 0, err
	}

	resent := 0
	for i := range stale {
		entry := &stale[i]
		if !g.allow(entry.Recipient, time.Now()) {
			continue
		}
		body, renderErr := g.render(entry.Template, entry.Params)
		if renderErr != nil {
			entry.Status = models.NotificationFailed
			entry.ErrorMessage = renderErr.Error()
			if dbErr := g.db.WithContext(ctx).Save(entry).Error; dbErr != nil {
				g.log.WithError(dbErr).Error("failed to update notification log")
			}
			continue
		}
		if err := g.deliver(ctx, entry, body); err == nil {
			resent++
		}
	}
	return resent, nil
}

// SendCriticalAlert tells the outlet owner a low review just landed and needs
// a human reply.
func (g *MessagingGateway) SendCriticalAlert(ctx context.Context, recipient, outletName string, review *models.Review) error {
	params := map[string]interface{}{
		"OutletName":   outletName,
		"CustomerName": review.CustomerName,
		"Rating":       review.Rating,
		"ReviewText":   snippet(review.ReviewText, 140),
	}
	return g.SendTemplate(ctx, recipient, models.TemplateCriticalAlert, params, review.OutletID, &review.ID)
}

// SendAutoReplyNotice tells the owner what the automation replied on their
// behalf.
func (g *MessagingGateway) SendAutoReplyNotice(ctx context.Context, recipient, outletName string, review *models.Review, reply string) error {
	params := map[string]interface{}{
		"OutletName":   outletName,
		"CustomerName": review.CustomerName,
		"Rating":       review.Rating,
		"ReplyText":    snippet(reply, 200),
	}
	return g.SendTemplate(ctx, recipient, models.TemplateAutoReplyNotice, params, review.OutletID, &review.ID)
}

func (g *MessagingGateway) SendReminder(ctx context.Context, recipient, outletName string, review *models.Review, reminderNumber int, pendingFor time.Duration) error {
	params := map[string]interface{}{
		"OutletName":     outletName,
		"CustomerName":   review.CustomerName,
		"Rating":         review.Rating,
		"ReminderNumber": reminderNumber,
		"PendingFor":     utils.HumanDuration(pendingFor),
	}
	return g.SendTemplate(ctx, recipient, models.TemplateReminder, params, review.OutletID, &review.ID)
}

func (g *MessagingGateway) SendEscalation(ctx context.Context, recipient, outletName string, review *models.Review, reminderCount int, pendingFor time.Duration) error {
	params := map[string]interface{}{
		"OutletName":    outletName,
		"CustomerName":  review.CustomerName,
		"Rating":        review.Rating,
		"ReminderCount": reminderCount,
		"PendingFor":    utils.HumanDuration(pendingFor),
	}
	return g.SendTemplate(ctx, recipient, models.TemplateEscalation, params, review.OutletID, &review.ID)
}

func snippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
