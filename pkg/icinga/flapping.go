package icinga

import (
	"github.com/icinga/icinga-state-engine/pkg/logging"
	"github.com/icinga/icinga-state-engine/pkg/types"
	"time"
)

// FlappingDetector keeps the weighted state change history of checkables and
// decides, with hysteresis, whether they are flapping.
type FlappingDetector struct {
	// enabled switches flapping detection for the whole process.
	enabled bool
	logger  *logging.Logger
}

// NewFlappingDetector returns a new FlappingDetector.
func NewFlappingDetector(enabled bool, logger *logging.Logger) *FlappingDetector {
	return &FlappingDetector{enabled: enabled, logger: logger}
}

// UpdateFlappingStatus records whether the just completed check changed the
// checkable's state and re-evaluates the flapping flag.
//
// Each of the last 20 recorded flags contributes 0.8 + 0.02*i to a weighted
// total, i being its recency rank (0 = oldest), so recent changes weigh more.
// The percentage 100*total/20 is then compared against the checkable's
// thresholds: a flapping checkable stays flapping above the low threshold,
// a calm one starts flapping only above the high threshold.
func (f *FlappingDetector) UpdateFlappingStatus(c *Checkable, stateChanged bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buffer := c.flappingBuffer
	index := c.flappingIndex

	if stateChanged {
		buffer |= 1 << uint(index)
	} else {
		buffer &^= 1 << uint(index)
	}
	index = (index + 1) % flappingBufferSize

	var stateChanges float64
	for i := 0; i < flappingBufferSize; i++ {
		slot := (index + i) % flappingBufferSize
		if buffer&(1<<uint(slot)) != 0 {
			stateChanges += 0.8 + 0.02*float64(i)
		}
	}

	flappingValue := 100.0 * stateChanges / flappingBufferSize

	var flapping bool
	if c.flapping {
		flapping = flappingValue > c.flappingThresholdLow
	} else {
		flapping = flappingValue > c.flappingThresholdHigh
	}

	c.flappingBuffer = buffer
	c.flappingIndex = index
	c.flappingCurrent = flappingValue

	if flapping != c.flapping {
		c.flapping = flapping
		c.flappingLastChange = types.FromTime(time.Now())

		f.logger.Infow("Flapping state changed",
			"checkable", c.name,
			"flapping", flapping,
			"value", flappingValue,
		)
	}
}

// IsFlapping returns the persisted flapping flag, false if flapping
// detection is disabled globally or for the checkable. It does not recompute.
func (f *FlappingDetector) IsFlapping(c *Checkable) bool {
	if !f.enabled {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.flappingEnabled {
		return false
	}

	return c.flapping
}
