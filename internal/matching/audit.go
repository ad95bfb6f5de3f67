package matching

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AuditLog writes one JSON line per neighbor search for offline drift
// analysis. It never returns errors: a sink that cannot be opened or written
// is silently skipped.
type AuditLog struct {
	logger *zap.Logger
	file   *os.File
}

// OpenAuditLog opens path for appending. An empty path or an unopenable file
// yields a disabled audit log; the reason is reported on logger.
func OpenAuditLog(path string, logger *zap.Logger) *AuditLog {
	if path == "" {
		return &AuditLog{logger: zap.NewNop()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "" {
		_ = os.MkdirAll(dir, 0o750)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640) //nolint:gosec // path is from trusted config
	if err != nil {
		logger.Warn("neighbor audit log disabled", zap.String("path", path), zap.Error(err))
		return &AuditLog{logger: zap.NewNop()}
	}
	return &AuditLog{logger: newAuditLogger(zapcore.AddSync(f)), file: f}
}

// NewAuditLogWriter writes audit records to w. Used in tests.
func NewAuditLogWriter(w io.Writer) *AuditLog {
	return &AuditLog{logger: newAuditLogger(zapcore.AddSync(w))}
}

func newAuditLogger(ws zapcore.WriteSyncer) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), ws, zapcore.InfoLevel)
	// Write failures go nowhere.
	return zap.New(core, zap.ErrorOutput(zapcore.AddSync(io.Discard)))
}

type auditCandidate struct {
	IdentityID string  `json:"identity_id"`
	Distance   float64 `json:"distance"`
	Tier       string  `json:"tier"`
	CanMerge   bool    `json:"can_merge"`
}

// Record writes the audit line for one search.
func (a *AuditLog) Record(res *Result, limit int, topN int) {
	if a == nil || res == nil {
		return
	}
	top := make([]auditCandidate, 0, topN)
	for i, n := range res.Neighbors {
		if i >= topN {
			break
		}
		top = append(top, auditCandidate{IdentityID: n.IdentityID, Distance: n.Distance, Tier: n.Tier, CanMerge: n.CanMerge})
	}

	t := res.Calibration.Thresholds
	a.logger.Info("neighbor_search",
		zap.String("target_id", res.TargetID),
		zap.Int("candidate_count", res.Scored),
		zap.Int("rejected_count", res.Rejected),
		zap.Int("returned", len(res.Neighbors)),
		zap.Int("limit", limit),
		zap.Any("top", top),
		zap.String("calibration_source", res.Calibration.Source),
		zap.Float64("threshold_very_high", t.VeryHigh),
		zap.Float64("threshold_high", t.High),
		zap.Float64("threshold_moderate", t.Moderate),
		zap.Float64("threshold_low", t.Low),
	)
}

// Close flushes and closes the underlying file.
func (a *AuditLog) Close() error {
	if a == nil || a.file == nil {
		return nil
	}
	_ = a.logger.Sync()
	return a.file.Close()
}
