package sos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigil-app/vigil/internal/geo"
	"github.com/vigil-app/vigil/internal/jobs"
)

// ErrNoContact indicates no emergency contact is configured for dispatch.
var ErrNoContact = errors.New("sos: no emergency contact configured")

// Dispatcher performs the emergency dispatch action when the countdown
// expires uncancelled.
type Dispatcher interface {
	Dispatch(ctx context.Context, location *geo.Point) error
}

// MessageSender delivers a text message to a phone number.
type MessageSender interface {
	SendMessage(ctx context.Context, phone, body string) error
}

// Dialer places a voice call to a phone number.
type Dialer interface {
	Dial(ctx context.Context, phone string) error
}

// ContactDispatcher sends an emergency SMS to a contact, falling back to a
// voice call when the message transport is unavailable.
type ContactDispatcher struct {
	phone   string
	sender  MessageSender
	dialer  Dialer
	logger  *slog.Logger
	metrics *jobs.Metrics
}

// NewContactDispatcher creates a dispatcher escalating to phone.
func NewContactDispatcher(phone string, sender MessageSender, dialer Dialer, logger *slog.Logger) *ContactDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContactDispatcher{
		phone:  phone,
		sender: sender,
		dialer: dialer,
		logger: logger,
	}
}

// SetMetrics enables dispatch outcome metrics.
func (d *ContactDispatcher) SetMetrics(m *jobs.Metrics) {
	d.metrics = m
}

// Message composes the emergency text. Coordinates are included when the
// device reported a location; the message is still sent without them.
func Message(location *geo.Point) string {
	if location == nil {
		return "EMERGENCY SOS! I need help. My location is currently unavailable."
	}
	return fmt.Sprintf(
		"EMERGENCY SOS! I need help. My location: https://maps.google.com/?q=%.6f,%.6f",
		location.Latitude, location.Longitude,
	)
}

// Dispatch sends the emergency message, dialing the contact instead when the
// message transport fails. An error is returned only when both paths fail.
func (d *ContactDispatcher) Dispatch(ctx context.Context, location *geo.Point) error {
	if d.phone == "" {
		return ErrNoContact
	}

	start := time.Now()
	err := d.dispatch(ctx, location)
	if d.metrics != nil {
		d.metrics.ObserveJobDuration(jobs.JobTypeSOSDispatch, time.Since(start).Seconds())
		status := jobs.StatusSuccess
		if err != nil {
			status = jobs.StatusFailure
			d.metrics.IncJobErrors(jobs.JobTypeSOSDispatch, "delivery_failed")
		}
		d.metrics.IncJobsTotal(jobs.JobTypeSOSDispatch, status)
	}
	return err
}

func (d *ContactDispatcher) dispatch(ctx context.Context, location *geo.Point) error {
	smsErr := d.sender.SendMessage(ctx, d.phone, Message(location))
	if smsErr == nil {
		d.logger.Info("sos message sent", slog.String("phone", maskPhone(d.phone)))
		return nil
	}
	d.logger.Warn("sos message failed, dialing contact",
		slog.String("phone", maskPhone(d.phone)),
		slog.String("error", smsErr.Error()),
	)

	if dialErr := d.dialer.Dial(ctx, d.phone); dialErr != nil {
		return fmt.Errorf("sos dispatch: message failed (%v), dial failed: %w", smsErr, dialErr)
	}
	d.logger.Info("sos dial placed", slog.String("phone", maskPhone(d.phone)))
	return nil
}

// maskPhone hides all but the last four digits in log output.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return "****" + phone[len(phone)-4:]
}
