package maintenance

import (
	"context"

	"go.uber.org/zap"
)

// Job names.
const (
	JobPurgeSMSCodes = "purge-sms-codes"
	JobEvictSessions = "evict-sessions"
)

// CodePurger drops expired verification codes.
type CodePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// SessionEvicter drops idle onboarding sessions from memory.
type SessionEvicter interface {
	EvictIdle() int
}

// PurgeSMSCodes removes expired, unverified SMS codes.
func PurgeSMSCodes(purger CodePurger, spec string, logger *zap.Logger) Job {
	return Job{
		Name: JobPurgeSMSCodes,
		Spec: spec,
		Run: func(ctx context.Context) error {
			n, err := purger.PurgeExpired(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("Purged expired SMS codes", zap.Int64("count", n))
			}
			return nil
		},
	}
}

// EvictSessions frees engines nobody used for the session TTL.
func EvictSessions(evicter SessionEvicter, spec string, logger *zap.Logger) Job {
	return Job{
		Name: JobEvictSessions,
		Spec: spec,
		Run: func(context.Context) error {
			if n := evicter.EvictIdle(); n > 0 {
				logger.Debug("Evicted idle onboarding sessions", zap.Int("count", n))
			}
			return nil
		},
	}
}
