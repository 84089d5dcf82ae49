package ratelimiter

import (
	"time"
)

const (
	DefaultHostInterval = time.Second
	hostBurst           = 1
)
