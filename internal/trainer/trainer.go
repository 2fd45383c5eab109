package trainer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lamim/trainsession/pkg/models"
)

// ErrUnsupportedDevice is returned when a trainer cannot run on the requested device
var ErrUnsupportedDevice = errors.New("unsupported device")

// DeviceKind names a class of compute device
type DeviceKind string

const (
	DeviceCPU DeviceKind = "cpu"
	DeviceGPU DeviceKind = "gpu"
)

// Device is an explicit compute device handle passed through every trainer call
type Device struct {
	Kind DeviceKind
	ID   int
}

// CPU returns the default CPU device
func CPU() Device {
	return Device{Kind: DeviceCPU}
}

func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Kind, d.ID)
}

// ParseDevice parses "cpu", "gpu", or "kind:id"
func ParseDevice(s string) (Device, error) {
	kind, idText, hasID := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	d := Device{Kind: DeviceKind(kind)}
	if d.Kind != DeviceCPU && d.Kind != DeviceGPU {
		return Device{}, fmt.Errorf("%w: %q", ErrUnsupportedDevice, s)
	}
	if hasID {
		id, err := strconv.Atoi(idText)
		if err != nil || id < 0 {
			return Device{}, fmt.Errorf("%w: bad device id in %q", ErrUnsupportedDevice, s)
		}
		d.ID = id
	}
	return d, nil
}

// Trainer updates model state from minibatches and persists it.
// Implementations are driven from a single goroutine.
type Trainer interface {
	// TrainMinibatch performs one update and returns aggregate criterion values
	TrainMinibatch(mb *models.Minibatch, device Device) (models.MinibatchResult, error)
	// TestMinibatch evaluates without updating and returns the error rate
	TestMinibatch(mb *models.Minibatch, device Device) (float64, error)
	// TotalSamplesSeen returns the samples consumed by TrainMinibatch so far
	TotalSamplesSeen() uint64
	SaveCheckpoint(path string) error
	RestoreFromCheckpoint(path string) error
}
