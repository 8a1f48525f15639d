package sx1276

import "time"

// WaitForIRQ blocks until DIO0 rises or timeout elapses, returning whether
// an edge was observed. Exposed for tests and for callers that want to
// synchronize on TX completion without going through Run's event loop.
func (d *Device) WaitForIRQ(timeout time.Duration) bool {
	return d.gpio.dio0.WaitForEdge(timeout)
}
