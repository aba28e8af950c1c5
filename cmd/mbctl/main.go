// Command mbctl is a small demo client: it connects to a single Modbus
// device over TCP or RTU and reads holding registers. Configuration loading
// is out of scope for the library — flag parsing below is the only place
// in this repository that looks like it.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/fieldlink-io/modbus"
)

func main() {
	var (
		address  = flag.String("address", "tcp://127.0.0.1:502", "tcp://host:port or rtu:///dev/ttyUSB0")
		slaveID  = flag.Int("slave", 1, "unit/slave id")
		register = flag.Int("register", 0, "starting holding register address")
		quantity = flag.Int("quantity", 1, "number of registers to read")
		timeout  = flag.Duration("timeout", 5*time.Second, "connect and read timeout")
		baud     = flag.Int("rtu-baud", 19200, "serial baud rate")
		dataBits = flag.Int("rtu-databits", 8, "5, 6, 7 or 8")
		stopBits = flag.Int("rtu-stopbits", 1, "1 or 2")
		parity   = flag.String("rtu-parity", "N", "N, E or O")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "", 0)

	config, err := parseConfig(*address, *timeout, *baud, *dataBits, *stopBits, *parity)
	if err != nil {
		logger.Fatal(err)
	}

	client := modbus.NewClient(nil)
	defer client.Shutdown()

	device, err := client.Connect(config)
	if err != nil {
		logger.Fatal(err)
	}

	data, err := modbus.ReadHoldingRegisters(device, byte(*slaveID), uint16(*register), uint16(*quantity))
	if err != nil {
		logger.Fatal(err)
	}

	fmt.Printf("% x\n", data)
}

func parseConfig(address string, timeout time.Duration, baud, dataBits, stopBits int, parity string) (modbus.DeviceConfig, error) {
	u, err := url.Parse(address)
	if err != nil {
		return modbus.DeviceConfig{}, err
	}

	switch u.Scheme {
	case "tcp":
		host, portStr, err := splitHostPort(u.Host)
		if err != nil {
			return modbus.DeviceConfig{}, err
		}
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return modbus.DeviceConfig{}, err
		}
		return modbus.DeviceConfig{Kind: modbus.TCP, IP: host, Port: uint16(port), Timeout: timeout}, nil

	case "rtu":
		return modbus.DeviceConfig{
			Kind:     modbus.RTU,
			PortName: u.Path,
			Baud:     uint32(baud),
			DataBits: dataBits,
			StopBits: stopBits,
			Parity:   parseParity(parity),
			Timeout:  timeout,
		}, nil

	default:
		return modbus.DeviceConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

func splitHostPort(hostport string) (host, port string, err error) {
	for i := len(hostport) - 1; i >= 0; i-- {
		if hostport[i] == ':' {
			return hostport[:i], hostport[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("address %q missing port", hostport)
}

func parseParity(p string) modbus.Parity {
	switch p {
	case "O", "o":
		return modbus.ParityOdd
	case "E", "e":
		return modbus.ParityEven
	default:
		return modbus.ParityNone
	}
}
