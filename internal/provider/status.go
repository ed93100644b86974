package provider

import (
	"strings"

	"paylink-be/internal/logger"

	"go.uber.org/zap"
)

// Whitelist mapping of provider status vocabulary. Providers disagree on
// terminology; everything unmapped defaults to PENDING and is logged so the
// code can be classified manually.
var statusWhitelist = map[string]NormalizedStatus{
	"SUCCESS":  StatusPaid,
	"SETTLED":  StatusPaid,
	"CAPTURED": StatusPaid,
	"PAID":     StatusPaid,

	"EXPIRED": StatusExpired,
	"TIMEOUT": StatusExpired,

	"FAILED":   StatusFailed,
	"DECLINED": StatusFailed,

	"CANCELLED": StatusCancel,
	"CANCELED":  StatusCancel,
	"CANCEL":    StatusCancel,
}

// Normalize maps a raw provider status onto the whitelist.
func Normalize(raw string) NormalizedStatus {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if s, ok := statusWhitelist[key]; ok {
		return s
	}

	logger.L().Warn("unmapped provider status, defaulting to PENDING",
		zap.String("raw_status", raw),
	)
	return StatusPending
}
