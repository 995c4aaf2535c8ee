package httpapi

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"contactsignal-engine/internal/config"
	"contactsignal-engine/internal/domain"
	"contactsignal-engine/internal/events"
	"contactsignal-engine/internal/runner"
	"contactsignal-engine/internal/store"
)

// RunService is the part of the runner the API needs.
type RunService interface {
	Run(ctx context.Context, opts runner.Options) (runner.Result, error)
	Status() runner.Status
	Contacts() (domain.ContactSet, int, error)
}

type Deps struct {
	Log *zap.Logger
	DB  *store.DB
	Hub *events.Hub

	Runner RunService
	// BaseCtx bounds background runs started over HTTP.
	BaseCtx context.Context

	// Atomic stores
	CfgVal *atomic.Value // stores config.Config

	// Config persistence
	UserCfgPath string
	LoadCfg     func() (config.Config, error)
}
