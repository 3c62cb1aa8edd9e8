package resilience

import "testing"

// Stand-in for testing/synctest, which needs Go 1.25: the body runs with
// real time instead of a fake-time bubble.
type synctestShim struct{}

func (synctestShim) Test(t *testing.T, f func(*testing.T)) {
	t.Helper()
	f(t)
}

var synctest synctestShim
