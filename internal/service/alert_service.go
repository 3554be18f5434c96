package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type CreditLevel string

const (
	CreditsOK       CreditLevel = "ok"
	CreditsLow      CreditLevel = "low"
	CreditsDepleted CreditLevel = "depleted"
	CreditsUnknown  CreditLevel = "unknown"
)

type CreditStatus struct {
	Status    CreditLevel `json:"status"`
	Credits   *float64    `json:"credits,omitempty"`
	Threshold int         `json:"threshold"`
	Alerted   bool        `json:"alerted,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// AlertService watches the provider account balance and tells the admin when it runs low.
type AlertService struct {
	log       *slog.Logger
	source    CreditSource
	notifier  Notifier
	gate      *EventGate
	threshold int
	now       func() time.Time
}

func NewAlertService(log *slog.Logger, source CreditSource, notifier Notifier, gate *EventGate, threshold int) *AlertService {
	return &AlertService{log: log, source: source, notifier: notifier, gate: gate, threshold: threshold, now: time.Now}
}

// Check reads provider credits. Below the threshold it sends at most one alert per day
// and threshold.
func (s *AlertService) Check(ctx context.Context) (*CreditStatus, error) {
	status := &CreditStatus{Status: CreditsUnknown, Threshold: s.threshold}
	if !s.source.Configured() {
		return status, nil
	}
	credits, err := s.source.Credits(ctx)
	if err != nil {
		s.log.Warn("provider credits unavailable", "err", err)
		status.Error = err.Error()
		return status, nil
	}
	status.Credits = &credits

	switch {
	case credits <= 0:
		status.Status = CreditsDepleted
	case credits < float64(s.threshold):
		status.Status = CreditsLow
	default:
		status.Status = CreditsOK
		return status, nil
	}

	key := fmt.Sprintf("alert:provider-credits:%s:%d", s.now().UTC().Format("2006-01-02"), s.threshold)
	duplicate, err := s.gate.Run(ctx, key, func(ctx context.Context) error {
		text := fmt.Sprintf("Provider credits are %s: %.2f left (threshold %d)", status.Status, credits, s.threshold)
		return s.notifier.Notify(ctx, text)
	})
	if err != nil {
		return status, fmt.Errorf("send credit alert: %w", err)
	}
	status.Alerted = !duplicate
	return status, nil
}

// Run checks on every tick until ctx is cancelled.
func (s *AlertService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Check(ctx); err != nil {
				s.log.Error("credit alert check", "err", err)
			}
		}
	}
}
