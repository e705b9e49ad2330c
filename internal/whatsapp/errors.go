package whatsapp

import (
	"errors"
	"fmt"
)

// ErrTransportUnavailable is wrapped by every error meaning the agent's
// session cannot send right now.
var ErrTransportUnavailable = errors.New("transport unavailable")

var (
	ErrInstanceNotFound     = fmt.Errorf("%w: instance not available", ErrTransportUnavailable)
	ErrInstanceNotConnected = fmt.Errorf("%w: not connected", ErrTransportUnavailable)
)

// ErrReconnectBudgetExhausted marks an instance stopped after repeated
// credential rejections.
var ErrReconnectBudgetExhausted = errors.New("reconnect attempts exhausted after credential rejections")

// ErrMessageNotFound is returned when forwarding an unknown message
var ErrMessageNotFound = errors.New("message not found")
