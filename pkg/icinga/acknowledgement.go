package icinga

import (
	"github.com/icinga/icinga-state-engine/pkg/types"
	"time"
)

// Acknowledgement returns the stored acknowledgement state.
//
// If an expiry is set and has passed, the stored state and expiry are
// cleared as a side effect of the read. No timer fires for this:
// expiry is only observed when someone asks.
func (c *Checkable) Acknowledgement() types.AcknowledgementState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.acknowledgement != types.AcknowledgementNone && !c.acknowledgementExpiry.IsZero() &&
		c.acknowledgementExpiry.Time().Before(time.Now()) {
		c.acknowledgement = types.AcknowledgementNone
		c.acknowledgementExpiry = types.UnixMilli{}
	}

	return c.acknowledgement
}

// SetAcknowledgement stores the given acknowledgement state.
// Callers clearing an acknowledgement conventionally also reset the expiry,
// which is not enforced here to allow setting the expiry first.
func (c *Checkable) SetAcknowledgement(a types.AcknowledgementState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.acknowledgement = a
}

// AcknowledgementExpiry returns when the acknowledgement expires, zero for never.
func (c *Checkable) AcknowledgementExpiry() types.UnixMilli {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.acknowledgementExpiry
}

// SetAcknowledgementExpiry stores when the acknowledgement expires, zero for never.
func (c *Checkable) SetAcknowledgementExpiry(t types.UnixMilli) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.acknowledgementExpiry = t
}
