package actuation

import (
	"github.com/life-stream-dev/life-stream-go-padlink/internal/gamepad"
	"github.com/life-stream-dev/life-stream-go-padlink/internal/logger"
)

// Device is the virtual controller the receiver drives.
type Device interface {
	Press(code gamepad.Code) error
	Release(code gamepad.Code) error
}

// LogDevice stands in for a virtual controller by logging every call.
type LogDevice struct {
	Name string
}

func (d *LogDevice) Press(code gamepad.Code) error {
	logger.Info("Press", "device", d.Name, "code", code)
	return nil
}

func (d *LogDevice) Release(code gamepad.Code) error {
	logger.Info("Release", "device", d.Name, "code", code)
	return nil
}
