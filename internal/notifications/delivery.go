package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"bizpulse/insight-engine/internal/notifications/websocket"
)

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	SMTPHost    string `json:"smtp_host"`
	SMTPPort    int    `json:"smtp_port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
}

// DeliveryManager is the default Notifier. It routes email and webhook
// channels itself and hands websocket delivery to the hub.
type DeliveryManager struct {
	emailConfig EmailConfig
	httpClient  *http.Client
	hub         *websocket.Hub
	logger      *zap.Logger
}

// NewDeliveryManager creates a delivery manager. hub may be nil when the
// websocket channel is not deployed.
func NewDeliveryManager(emailConfig EmailConfig, hub *websocket.Hub, logger *zap.Logger) *DeliveryManager {
	return &DeliveryManager{
		emailConfig: emailConfig,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		hub:         hub,
		logger:      logger,
	}
}

// Dispatch sends the payload on one channel. For webhook, recipients are
// target URLs; for email they are addresses; websocket ignores recipients
// and broadcasts to subscribed connections.
func (d *DeliveryManager) Dispatch(ctx context.Context, channel string, recipients []string, payload Payload) error {
	switch channel {
	case ChannelEmail:
		if err := d.sendEmail(recipients, payload); err != nil {
			return &DispatchError{Channel: channel, Err: err}
		}
	case ChannelWebhook:
		if err := d.sendWebhooks(ctx, recipients, payload); err != nil {
			return &DispatchError{Channel: channel, Err: err}
		}
	case ChannelWebsocket:
		d.broadcastWebsocket(payload)
	default:
		return &DispatchError{Channel: channel, Err: fmt.Errorf("unknown channel")}
	}

	d.logger.Info("notification dispatched",
		zap.String("channel", channel),
		zap.Int("recipients", len(recipients)),
		zap.String("severity", payload.Severity))
	return nil
}

func (d *DeliveryManager) sendEmail(to []string, payload Payload) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients specified")
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", d.emailConfig.FromName, d.emailConfig.FromAddress)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: [%s] %s\r\n", strings.ToUpper(payload.Severity), payload.Title)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(payload.Message)

	auth := smtp.PlainAuth("", d.emailConfig.Username, d.emailConfig.Password, d.emailConfig.SMTPHost)
	addr := fmt.Sprintf("%s:%d", d.emailConfig.SMTPHost, d.emailConfig.SMTPPort)
	if err := smtp.SendMail(addr, auth, d.emailConfig.FromAddress, to, msg.Bytes()); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (d *DeliveryManager) sendWebhooks(ctx context.Context, urls []string, payload Payload) error {
	if len(urls) == 0 {
		return fmt.Errorf("no webhook URLs specified")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	delivered := 0
	for _, url := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.httpClient.Do(req)
		if err != nil {
			lastErr = err
			d.logger.Warn("webhook request failed", zap.String("url", url), zap.Error(err))
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("webhook %s returned status %d", url, resp.StatusCode)
			continue
		}
		delivered++
	}

	if delivered == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

func (d *DeliveryManager) broadcastWebsocket(payload Payload) {
	if d.hub == nil {
		return
	}
	d.hub.Broadcast(websocket.Message{
		Type:     "alert",
		Title:    payload.Title,
		Message:  payload.Message,
		Severity: payload.Severity,
		Data:     payload.Data,
		SentAt:   payload.SentAt,
	})
}
