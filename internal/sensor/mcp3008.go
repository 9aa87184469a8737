package sensor

import (
	"fmt"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/hw"
)

const adcMax = 1023 // 10-bit

// MCP3008 reads a capacitive soil probe through an MCP3008 ADC on SPI0.
type MCP3008 struct {
	mu      sync.Mutex
	channel int
	dry     int // raw value in completely dry soil
	wet     int // raw value in saturated soil
	closed  bool
}

// OpenMCP3008 starts SPI0 at 1MHz on chip select 0.
func OpenMCP3008(channel, dry, wet int) (*MCP3008, error) {
	if channel < 0 || channel > 7 {
		return nil, fmt.Errorf("mcp3008: channel %d out of [0,7]", channel)
	}
	if err := hw.Acquire(); err != nil {
		return nil, err
	}
	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		_ = hw.Release()
		return nil, fmt.Errorf("mcp3008: spi begin: %w", err)
	}
	rpio.SpiChipSelect(0)
	rpio.SpiSpeed(1_000_000)
	return &MCP3008{channel: channel, dry: dry, wet: wet}, nil
}

// ReadMoisture returns the calibrated moisture percentage.
func (m *MCP3008) ReadMoisture() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, fmt.Errorf("mcp3008: closed")
	}
	// single-ended read: start bit, SGL/DIFF + channel, don't care
	buf := []byte{1, byte(8+m.channel) << 4, 0}
	rpio.SpiExchange(buf)
	raw := int(buf[1]&3)<<8 | int(buf[2])
	return MoistureFromRaw(raw, m.dry, m.wet), nil
}

func (m *MCP3008) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	rpio.SpiEnd(rpio.Spi0)
	return hw.Release()
}

// MoistureFromRaw converts a raw ADC value to percent; lower raw means wetter soil.
func MoistureFromRaw(raw, dry, wet int) float64 {
	if dry == wet {
		return 0
	}
	if raw < 0 {
		raw = 0
	}
	if raw > adcMax {
		raw = adcMax
	}
	pct := float64(dry-raw) / float64(dry-wet) * 100
	return clampPct(pct)
}
