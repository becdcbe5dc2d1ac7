package process

import (
	"errors"
	"time"
)

// RecoverableError is implemented by errors that know whether retrying the
// operation that produced them can help.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether err is worth retrying. Errors that do not
// implement RecoverableError anywhere in their chain are treated as
// recoverable, as is nil.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// BackoffDelay returns the delay before restart attempt n (1-based): base
// doubled for each previous attempt, capped at maxDelay. A zero maxDelay
// disables the cap.
func BackoffDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if maxDelay > 0 && delay >= maxDelay {
			return maxDelay
		}
	}

	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}
