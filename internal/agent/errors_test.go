package agent

import "testing"

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrTransportPermanent,
		ErrDepthExceeded,
		ErrBudgetExhausted,
		ErrRoundLimitReached,
	}
	for _, err := range sentinels {
		if err == nil {
			t.Error("sentinel error should not be nil")
		}
		if err.Error() == "" {
			t.Errorf("sentinel %v should have a message", err)
		}
	}
}
