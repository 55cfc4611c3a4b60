package execution

import "errors"

var (
	errPreconditionMappingIncomplete   = errors.New("execution: mapping incomplete")
	errPreconditionKillSwitch          = errors.New("execution: kill switch active")
	errPreconditionCooldown            = errors.New("execution: in cooldown")
	errPreconditionDeferred            = errors.New("execution: busy lock held, deferred")
	errPreconditionInsufficientNotional = errors.New("execution: insufficient notional headroom")
)
