package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/Raymond9734/wa-campaign-dispatcher/internal/gateway"
	"github.com/Raymond9734/wa-campaign-dispatcher/internal/models"
)

// Outgoing is everything sent to one recipient
type Outgoing struct {
	Text      string
	MediaType string
	Media     *gateway.Media
	Poll      *gateway.PollRequest
}

// SendOutcome reports which parts of an Outgoing were delivered
type SendOutcome struct {
	ProviderMessageID string
	PartsSent         []string
	PartErrors        map[string]string
}

// MessageSender defines the interface for sending messages
type MessageSender interface {
	Send(ctx context.Context, device *models.Device, phone string, out Outgoing) (*SendOutcome, error)
}

// gatewaySender sends through the WhatsApp gateway
type gatewaySender struct {
	client gateway.Client
}

// NewGatewaySender creates a sender backed by the gateway
func NewGatewaySender(client gateway.Client) MessageSender {
	return &gatewaySender{client: client}
}

// Send delivers text, media and poll independently. It fails only when no
// part was sent.
func (s *gatewaySender) Send(ctx context.Context, device *models.Device, phone string, out Outgoing) (*SendOutcome, error) {
	outcome := &SendOutcome{PartErrors: map[string]string{}}
	var errs []error

	record := func(part string, res *gateway.SendResult, err error) {
		if err != nil {
			outcome.PartErrors[part] = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", part, err))
			return
		}
		outcome.PartsSent = append(outcome.PartsSent, part)
		if outcome.ProviderMessageID == "" && res != nil {
			outcome.ProviderMessageID = res.MessageID
		}
	}

	if out.Text != "" {
		res, err := s.client.SendText(ctx, device.SessionName, phone, out.Text)
		record("text", res, err)
	}

	if out.Media != nil {
		var res *gateway.SendResult
		var err error
		switch out.MediaType {
		case models.MediaTypeImage:
			res, err = s.client.SendImage(ctx, device.SessionName, phone, *out.Media)
		case models.MediaTypeVideo:
			res, err = s.client.SendVideo(ctx, device.SessionName, phone, *out.Media)
		case models.MediaTypeVoice:
			res, err = s.client.SendVoice(ctx, device.SessionName, phone, *out.Media)
		default:
			res, err = s.client.SendFile(ctx, device.SessionName, phone, *out.Media)
		}
		record("media", res, err)
	}

	if out.Poll != nil {
		res, err := s.client.SendPoll(ctx, device.SessionName, phone, *out.Poll)
		record("poll", res, err)
	}

	if len(outcome.PartsSent) == 0 {
		if len(errs) == 0 {
			return nil, errors.New("nothing to send")
		}
		return nil, errors.Join(errs...)
	}

	return outcome, nil
}

// dryRunSender simulates sends without touching WhatsApp
type dryRunSender struct {
	successRate float64
	minDelay    time.Duration
	maxDelay    time.Duration
}

// NewDryRunSender creates a simulated sender for local development.
// successRate is the probability of success (0.0 to 1.0), default 0.92.
func NewDryRunSender(successRate float64) MessageSender {
	if successRate <= 0 || successRate > 1.0 {
		successRate = 0.92
	}

	return &dryRunSender{
		successRate: successRate,
		minDelay:    50 * time.Millisecond,
		maxDelay:    200 * time.Millisecond,
	}
}

// Send simulates network latency and random failures
func (s *dryRunSender) Send(ctx context.Context, device *models.Device, phone string, out Outgoing) (*SendOutcome, error) {
	delay := s.minDelay + time.Duration(rand.Int63n(int64(s.maxDelay-s.minDelay)))

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if rand.Float64() > s.successRate {
		return nil, fmt.Errorf("dry-run sender failed: simulated network error")
	}

	return &SendOutcome{
		ProviderMessageID: "dry-" + uuid.NewString(),
		PartsSent:         []string{"text"},
	}, nil
}
