package modbus

import "github.com/grid-x/serial"

// serialConfig translates a DeviceConfig's RTU payload into the
// github.com/grid-x/serial.Config this Device's transport opens.
func serialConfig(c DeviceConfig) serial.Config {
	return serial.Config{
		Address:  c.PortName,
		BaudRate: int(c.Baud),
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   parityString(c.Parity),
	}
}

func parityString(p Parity) string {
	switch p {
	case ParityOdd:
		return "O"
	case ParityEven:
		return "E"
	default:
		return "N"
	}
}
