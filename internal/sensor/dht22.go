package sensor

import (
	"errors"
	"runtime/debug"
	"sync"
	"time"

	rpio "github.com/stianeikeland/go-rpio/v4"

	"github.com/LeonardoBeccarini/irrigation_agent/internal/hw"
)

const (
	dhtMaxSpin     = int64(time.Millisecond) // busy-wait budget per pulse
	dhtMinInterval = 2 * time.Second         // the sensor refuses faster polling
)

var (
	errDHTNoResponse = errors.New("dht22: sensor never pulled low")
	errDHTChecksum   = errors.New("dht22: checksum mismatch")
)

// DHT22 bit-bangs an AM2302/DHT22 on a single GPIO pin.
type DHT22 struct {
	mu       sync.Mutex
	pin      rpio.Pin
	lastRead time.Time
	closed   bool
}

// OpenDHT22 claims the GPIO map for the sensor on BCM pin p.
func OpenDHT22(p int) (*DHT22, error) {
	if err := hw.Acquire(); err != nil {
		return nil, err
	}
	return &DHT22{pin: rpio.Pin(p)}, nil
}

// ReadClimate performs one transaction; DHT sensors often need several attempts.
func (d *DHT22) ReadClimate() (float64, float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, 0, errors.New("dht22: closed")
	}
	if wait := dhtMinInterval - time.Since(d.lastRead); wait > 0 {
		time.Sleep(wait)
	}
	defer func() { d.lastRead = time.Now() }()

	var (
		pulses []int64
		err    error
	)
	withoutGC(func() { pulses, err = d.capture() })
	if err != nil {
		return 0, 0, err
	}
	t, h, ok := decodeDHT22(pulses)
	if !ok {
		return 0, 0, errDHTChecksum
	}
	return float64(t), float64(h), nil
}

// withoutGC keeps the collector away from a timing-critical section and then
// restores whatever setting was in force.
func withoutGC(fn func()) {
	prev := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(prev)
	fn()
}

func (d *DHT22) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return hw.Release()
}

// capture sends the start signal and records 41 low/high pulse lengths.
func (d *DHT22) capture() ([]int64, error) {
	pin := d.pin
	pulseLen := make([]int64, 82)

	pin.Mode(rpio.Output)
	pin.High()
	time.Sleep(400 * time.Millisecond)
	pin.Low()

	// hold low ~20ms to request a reading
	s := time.Now().UnixNano()
	to := int64(20 * time.Millisecond)
	for time.Now().UnixNano()-s < to {
	}
	pin.Mode(rpio.Input)
	pin.PullUp()
	defer pin.PullOff()

	s = time.Now().UnixNano()
	firstWaitMax := int64(5 * time.Millisecond)
	for pin.Read() == rpio.High {
		if time.Now().UnixNano()-s > firstWaitMax {
			return nil, errDHTNoResponse
		}
	}

	// 80us low + 80us high preamble, then 40 bits as low/high pairs
	var n int64
READER:
	for i := 0; i < 81; i += 2 {
		n = 0
		for pin.Read() == rpio.Low {
			if n > dhtMaxSpin {
				break READER
			}
			n++
		}
		pulseLen[i] = n

		n = 0
		for pin.Read() == rpio.High {
			if n > dhtMaxSpin {
				break READER
			}
			n++
		}
		pulseLen[i+1] = n
	}
	return pulseLen, nil
}

// decodeDHT22 turns pulse lengths into temperature and humidity.
// A high pulse longer than the mean low pulse is a 1 bit.
func decodeDHT22(pulseLen []int64) (temp float32, hum float32, ok bool) {
	if len(pulseLen) < 82 {
		return 0, 0, false
	}
	var threshold int64
	for i := 2; i < 82; i += 2 {
		threshold += pulseLen[i]
	}
	threshold /= 40

	bytes := make([]uint8, 5)
	for i := 3; i < 82; i += 2 {
		bi := (i - 3) / 16
		bytes[bi] <<= 1
		if pulseLen[i] > threshold {
			bytes[bi] |= 0x01
		}
	}

	hum = float32(uint16(bytes[0])*256+uint16(bytes[1])) / 10.0
	temp = float32((uint16(bytes[2])&0x7F)*256+uint16(bytes[3])) / 10.0
	if bytes[2]&0x80 > 0 {
		temp *= -1
	}
	return temp, hum, dhtChecksum(bytes)
}

func dhtChecksum(bytes []uint8) bool {
	var sum uint8
	for i := 0; i < 4; i++ {
		sum += bytes[i]
	}
	return sum == bytes[4]
}
