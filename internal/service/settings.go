package service

import (
	"time"

	"github.com/prohmpiriya/ticket-reservation-engine/pkg/config"
)

// Settings holds the business knobs shared by the reservation services
type Settings struct {
	HoldTTL                 time.Duration
	MaxHoldTTL              time.Duration
	DefaultMaxPerPurchase   int
	UploadDeadlineHours     int
	PlatformFeeRate         float64
	CaptureTimeout          time.Duration
	RefundTimeout           time.Duration
	PayoutTimeout           time.Duration
	TestConfirmationEnabled bool
	AutoApproveGenerated    bool
}

// DefaultSettings returns the settings used when no configuration is loaded
func DefaultSettings() Settings {
	return Settings{
		HoldTTL:               10 * time.Minute,
		MaxHoldTTL:            30 * time.Minute,
		DefaultMaxPerPurchase: 10,
		UploadDeadlineHours:   48,
		PlatformFeeRate:       0.05,
		CaptureTimeout:        10 * time.Second,
		RefundTimeout:         10 * time.Second,
		PayoutTimeout:         10 * time.Second,
	}
}

// SettingsFromConfig maps the loaded configuration onto Settings,
// keeping defaults for unset values
func SettingsFromConfig(cfg *config.ReservationConfig) Settings {
	s := DefaultSettings()
	if cfg == nil {
		return s
	}
	if cfg.HoldTTL > 0 {
		s.HoldTTL = cfg.HoldTTL
	}
	if cfg.MaxHoldTTL > 0 {
		s.MaxHoldTTL = cfg.MaxHoldTTL
	}
	if cfg.DefaultMaxPerPurchase > 0 {
		s.DefaultMaxPerPurchase = cfg.DefaultMaxPerPurchase
	}
	if cfg.UploadDeadlineHours > 0 {
		s.UploadDeadlineHours = cfg.UploadDeadlineHours
	}
	if cfg.PlatformFeeRate >= 0 {
		s.PlatformFeeRate = cfg.PlatformFeeRate
	}
	if cfg.CaptureTimeout > 0 {
		s.CaptureTimeout = cfg.CaptureTimeout
	}
	if cfg.RefundTimeout > 0 {
		s.RefundTimeout = cfg.RefundTimeout
	}
	if cfg.PayoutTimeout > 0 {
		s.PayoutTimeout = cfg.PayoutTimeout
	}
	s.TestConfirmationEnabled = cfg.TestConfirmationEnabled
	s.AutoApproveGenerated = cfg.AutoApproveGenerated
	return s
}
