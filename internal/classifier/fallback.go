package classifier

import (
	"context"
	"log/slog"
	"time"

	"opsassist/internal/domain"
	"opsassist/internal/metrics"
)

// DefaultSecondaryTimeout bounds the fallback attempt when the caller's
// deadline is already spent.
const DefaultSecondaryTimeout = 5 * time.Second

// Fallback tries Primary and, if it fails, Secondary exactly once.
type Fallback struct {
	Primary          Classifier
	Secondary        Classifier
	Logger           *slog.Logger
	SecondaryTimeout time.Duration
}

// NewFallback chains two classifiers.
func NewFallback(primary, secondary Classifier, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		Primary:          primary,
		Secondary:        secondary,
		Logger:           logger.With("component", "classifier"),
		SecondaryTimeout: DefaultSecondaryTimeout,
	}
}

// Name implements Classifier.
func (f *Fallback) Name() string {
	return f.Primary.Name()
}

// Classify implements Classifier. When the primary ran into the caller's
// deadline the secondary still gets an attempt, bounded by SecondaryTimeout.
func (f *Fallback) Classify(ctx context.Context, c *Context) (*domain.Classification, error) {
	result, err := f.Primary.Classify(ctx, c)
	if err == nil {
		return result, nil
	}

	metrics.ClassificationsTotal.WithLabelValues(f.Primary.Name(), "fallback").Inc()
	f.Logger.Warn("primary classifier failed, falling back",
		"incident_id", c.IncidentID,
		"primary", f.Primary.Name(),
		"secondary", f.Secondary.Name(),
		"error", err,
	)

	if ctx.Err() != nil {
		timeout := f.SecondaryTimeout
		if timeout <= 0 {
			timeout = DefaultSecondaryTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
	}

	return f.Secondary.Classify(ctx, c)
}
