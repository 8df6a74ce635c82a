package audio

import (
	"github.com/gen2brain/malgo"
)

// DeviceConfig selects the capture format. Voice calls stream signed 16-bit
// little-endian PCM.
type DeviceConfig struct {
	Format          malgo.FormatType
	CaptureChannels int
	SampleRate      int
}

// NewDeviceConfig returns an S16LE capture configuration.
func NewDeviceConfig(sampleRate, channels uint32) *DeviceConfig {
	return &DeviceConfig{
		Format:          malgo.FormatS16,
		CaptureChannels: int(channels),
		SampleRate:      int(sampleRate),
	}
}

// BytesPerSecond is the PCM data rate of the configuration.
func (c *DeviceConfig) BytesPerSecond() int {
	return c.SampleRate * c.CaptureChannels * malgo.SampleSizeInBytes(c.Format)
}
