package transmission

import "fmt"

// InvalidTransmission rejects untrusted input. Reason is for the service's
// own logs; callers answer the sender with a generic rejection.
type InvalidTransmission struct {
	Reason string
}

func (e *InvalidTransmission) Error() string {
	return "invalid transmission: " + e.Reason
}

func invalidf(format string, args ...interface{}) *InvalidTransmission {
	return &InvalidTransmission{Reason: fmt.Sprintf(format, args...)}
}
