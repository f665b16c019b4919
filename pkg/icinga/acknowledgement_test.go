package icinga

import (
	"github.com/icinga/icinga-state-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestCheckable_Acknowledgement(t *testing.T) {
	t.Run("WithoutExpiry", func(t *testing.T) {
		c := &Checkable{name: "test"}
		c.SetAcknowledgement(types.AcknowledgementNormal)

		assert.Equal(t, types.AcknowledgementNormal, c.Acknowledgement())
		assert.Equal(t, types.AcknowledgementNormal, c.Acknowledgement())
	})

	t.Run("FutureExpiry", func(t *testing.T) {
		c := &Checkable{name: "test"}
		c.SetAcknowledgement(types.AcknowledgementSticky)
		c.SetAcknowledgementExpiry(types.FromTime(time.Now().Add(time.Hour)))

		assert.Equal(t, types.AcknowledgementSticky, c.Acknowledgement())
		assert.False(t, c.AcknowledgementExpiry().IsZero())
	})

	t.Run("PassedExpiryClearsOnRead", func(t *testing.T) {
		c := &Checkable{name: "test"}
		c.SetAcknowledgement(types.AcknowledgementNormal)
		c.SetAcknowledgementExpiry(types.FromTime(time.Now().Add(-time.Minute)))

		require.Equal(t, types.AcknowledgementNone, c.Acknowledgement())

		// The clear is persistent, not recomputed per read.
		assert.Equal(t, types.AcknowledgementNone, c.Acknowledgement())
		assert.True(t, c.AcknowledgementExpiry().IsZero())
	})

	t.Run("ExpiryIgnoredWhenNotAcknowledged", func(t *testing.T) {
		c := &Checkable{name: "test"}
		c.SetAcknowledgementExpiry(types.FromTime(time.Now().Add(-time.Minute)))

		assert.Equal(t, types.AcknowledgementNone, c.Acknowledgement())
		assert.False(t, c.AcknowledgementExpiry().IsZero(), "expiry of a cleared acknowledgement stays untouched")
	})
}
