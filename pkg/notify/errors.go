package notify

import "errors"

var (
	ErrInvalidConfig = errors.New("invalid notifier configuration")
	ErrFailedToSend  = errors.New("failed to send notification")
	ErrUnknownType   = errors.New("unknown notification type")
	ErrNoRecipient   = errors.New("no recipient address for account")
)
