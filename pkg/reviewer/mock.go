package reviewer

import "context"

// MockTransport returns a deterministic approved verdict without
// invoking any external process, mirroring GOVERNANCE_MOCK_REVIEW in the
// reference implementation's E2E test harness.
type MockTransport struct{}

// Run implements Transport.
func (MockTransport) Run(context.Context, string) (string, error) {
	return mockVerdict(), nil
}
