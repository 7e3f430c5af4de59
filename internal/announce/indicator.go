package announce

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const sysfsGPIORoot = "/sys/class/gpio"

// NewIndicator probes GPIO availability once at startup and returns either
// a real sysfs-backed indicator or a no-op one behind the same interface.
// There is no runtime capability branching after this point.
func NewIndicator(pin int) Indicator {
	ind, err := newSysfsIndicator(sysfsGPIORoot, pin)
	if err != nil {
		slog.Warn("GPIO unavailable, indicator disabled", "pin", pin, "error", err)
		return NoopIndicator{}
	}
	slog.Info("GPIO indicator ready", "pin", pin)
	return ind
}

// NoopIndicator satisfies Indicator on hardware without GPIO.
type NoopIndicator struct{}

// Set implements Indicator.
func (NoopIndicator) Set(bool) error { return nil }

// Close implements Indicator.
func (NoopIndicator) Close() error { return nil }

// sysfsIndicator drives one LED through the Linux sysfs GPIO files.
type sysfsIndicator struct {
	root      string
	valuePath string
	pin       int
}

func newSysfsIndicator(root string, pin int) (*sysfsIndicator, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("gpio sysfs not present: %w", err)
	}

	pinDir := filepath.Join(root, fmt.Sprintf("gpio%d", pin))
	if _, err := os.Stat(pinDir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(root, "export"), []byte(strconv.Itoa(pin)), 0o200); err != nil {
			return nil, fmt.Errorf("failed to export gpio %d: %w", pin, err)
		}
		// The kernel creates the pin directory asynchronously.
		for i := 0; i < 10; i++ {
			if _, err := os.Stat(pinDir); err == nil {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	if err := os.WriteFile(filepath.Join(pinDir, "direction"), []byte("out"), 0o200); err != nil {
		return nil, fmt.Errorf("failed to set gpio %d direction: %w", pin, err)
	}

	ind := &sysfsIndicator{
		root:      root,
		valuePath: filepath.Join(pinDir, "value"),
		pin:       pin,
	}
	// Start with the indicator off.
	if err := ind.Set(false); err != nil {
		return nil, err
	}
	return ind, nil
}

// Set implements Indicator.
func (s *sysfsIndicator) Set(on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	if err := os.WriteFile(s.valuePath, []byte(v), 0o200); err != nil {
		return fmt.Errorf("failed to write gpio %d value: %w", s.pin, err)
	}
	return nil
}

// Close implements Indicator. Leaves the pin low and unexports it.
func (s *sysfsIndicator) Close() error {
	if err := s.Set(false); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.root, "unexport"), []byte(strconv.Itoa(s.pin)), 0o200); err != nil {
		return fmt.Errorf("failed to unexport gpio %d: %w", s.pin, err)
	}
	return nil
}
