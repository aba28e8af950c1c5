package modbus

import (
	"encoding/binary"
	"fmt"

	"github.com/fieldlink-io/modbus/codec"
)

// DataSizeError reports a response whose declared byte count doesn't match
// what was actually returned.
type DataSizeError struct {
	DeviceID      string
	ExpectedBytes int
	ActualBytes   int
}

func (e *DataSizeError) Error() string {
	return fmt.Sprintf("modbus: %s: response data size %d does not match count %d", e.DeviceID, e.ActualBytes, e.ExpectedBytes)
}

const (
	funcCodeWriteSingleCoil            = 0x05
	funcCodeWriteSingleRegister        = 0x06
	funcCodeWriteMultipleCoils         = 0x0F
	funcCodeWriteMultipleRegisters     = 0x10
	funcCodeMaskWriteRegister          = 0x16
	funcCodeReadWriteMultipleRegisters = 0x17
)

// ReadCoils is a convenience decoder over Device.Send for FC 0x01: it
// validates the quantity bound, sends the request, and slices the coil
// status bytes out of the response — callers who'd rather hand-decode
// Device.Send's raw bytes themselves are free to do so instead.
func ReadCoils(d *Device, slave byte, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > 2000 {
		return nil, fmt.Errorf("modbus: %s: quantity %d must be between 1 and 2000", d.DeviceID(), quantity)
	}
	return readCountPrefixed(d, slave, codec.FuncCodeReadCoils, address, quantity)
}

// ReadDiscreteInputs is the FC 0x02 counterpart of ReadCoils.
func ReadDiscreteInputs(d *Device, slave byte, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > 2000 {
		return nil, fmt.Errorf("modbus: %s: quantity %d must be between 1 and 2000", d.DeviceID(), quantity)
	}
	return readCountPrefixed(d, slave, codec.FuncCodeReadDiscreteInputs, address, quantity)
}

// ReadHoldingRegisters is a convenience decoder over Device.Send for FC
// 0x03: beyond ReadCoils' checks, it also confirms the returned byte count
// equals 2*quantity, since register reads have a fixed per-register width.
func ReadHoldingRegisters(d *Device, slave byte, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > 125 {
		return nil, fmt.Errorf("modbus: %s: quantity %d must be between 1 and 125", d.DeviceID(), quantity)
	}
	data, err := readCountPrefixed(d, slave, codec.FuncCodeReadHoldingRegisters, address, quantity)
	if data == nil {
		return nil, err
	}
	if len(data) != 2*int(quantity) {
		return data, fmt.Errorf("modbus: %s: response data size %d does not match request quantity %d", d.DeviceID(), len(data), quantity)
	}
	return data, err
}

// ReadInputRegisters is the FC 0x04 counterpart of ReadHoldingRegisters.
func ReadInputRegisters(d *Device, slave byte, address, quantity uint16) ([]byte, error) {
	if quantity < 1 || quantity > 125 {
		return nil, fmt.Errorf("modbus: %s: quantity %d must be between 1 and 125", d.DeviceID(), quantity)
	}
	data, err := readCountPrefixed(d, slave, codec.FuncCodeReadInputRegisters, address, quantity)
	if data == nil {
		return nil, err
	}
	if len(data) != 2*int(quantity) {
		return data, fmt.Errorf("modbus: %s: response data size %d does not match request quantity %d", d.DeviceID(), len(data), quantity)
	}
	return data, err
}

// readCountPrefixed sends a read request via Device.Send and slices off the
// leading byte-count prefix common to FC 0x01-0x04 responses. A mismatched
// count is reported via the returned error even when enough bytes are
// present to slice out — the caller gets both the data and the warning.
func readCountPrefixed(d *Device, slave, funcCode byte, address, quantity uint16) ([]byte, error) {
	resp, err := d.Send(slave, funcCode, address, quantity)
	if err != nil {
		return nil, err
	}
	data, err := d.pduData(resp)
	if err != nil {
		return nil, err
	}
	if len(data) < 1 {
		return nil, fmt.Errorf("modbus: %s: response data is empty", d.DeviceID())
	}
	count := int(data[0])
	length := len(data) - 1
	var sizeErr error
	if count != length {
		sizeErr = &DataSizeError{DeviceID: d.DeviceID(), ExpectedBytes: count, ActualBytes: length}
		if length < count {
			return nil, sizeErr
		}
	}
	return data[1 : count+1], sizeErr
}

// WriteSingleCoil is a convenience wrapper over Device.sendFrame for FC
// 0x05: value must be 0xFF00 (ON) or 0x0000 (OFF), and the echoed
// address/value are checked against what was requested.
func WriteSingleCoil(d *Device, slave byte, address, value uint16) error {
	if value != 0xFF00 && value != 0x0000 {
		return fmt.Errorf("modbus: %s: coil value %#04x must be 0xFF00 or 0x0000", d.DeviceID(), value)
	}
	return writeEchoed(d, slave, funcCodeWriteSingleCoil, address, value)
}

// WriteSingleRegister is the FC 0x06 counterpart of WriteSingleCoil.
func WriteSingleRegister(d *Device, slave byte, address, value uint16) error {
	return writeEchoed(d, slave, funcCodeWriteSingleRegister, address, value)
}

func writeEchoed(d *Device, slave, funcCode byte, address, value uint16) error {
	pdu := make([]byte, 4)
	binary.BigEndian.PutUint16(pdu, address)
	binary.BigEndian.PutUint16(pdu[2:], value)

	resp, err := d.sendFrame(slave, funcCode, pdu)
	if err != nil {
		return err
	}
	data, err := d.pduData(resp)
	if err != nil {
		return err
	}
	if len(data) != 4 {
		return &DataSizeError{DeviceID: d.DeviceID(), ExpectedBytes: 4, ActualBytes: len(data)}
	}
	if got := binary.BigEndian.Uint16(data); got != address {
		return fmt.Errorf("modbus: %s: response address %d does not match request %d", d.DeviceID(), got, address)
	}
	if got := binary.BigEndian.Uint16(data[2:]); got != value {
		return fmt.Errorf("modbus: %s: response value %d does not match request %d", d.DeviceID(), got, value)
	}
	return nil
}

// WriteMultipleCoils is a convenience wrapper over Device.sendFrame for FC
// 0x0F.
func WriteMultipleCoils(d *Device, slave byte, address, quantity uint16, packedBits []byte) error {
	if quantity < 1 || quantity > 1968 {
		return fmt.Errorf("modbus: %s: quantity %d must be between 1 and 1968", d.DeviceID(), quantity)
	}
	return writeMultiple(d, slave, funcCodeWriteMultipleCoils, address, quantity, packedBits)
}

// WriteMultipleRegisters is the FC 0x10 counterpart of WriteMultipleCoils;
// value is the big-endian-encoded register payload (2 bytes per register).
func WriteMultipleRegisters(d *Device, slave byte, address, quantity uint16, value []byte) error {
	if quantity < 1 || quantity > 123 {
		return fmt.Errorf("modbus: %s: quantity %d must be between 1 and 123", d.DeviceID(), quantity)
	}
	return writeMultiple(d, slave, funcCodeWriteMultipleRegisters, address, quantity, value)
}

func writeMultiple(d *Device, slave, funcCode byte, address, quantity uint16, value []byte) error {
	pdu := make([]byte, 4+1+len(value))
	binary.BigEndian.PutUint16(pdu, address)
	binary.BigEndian.PutUint16(pdu[2:], quantity)
	pdu[4] = byte(len(value))
	copy(pdu[5:], value)

	resp, err := d.sendFrame(slave, funcCode, pdu)
	if err != nil {
		return err
	}
	data, err := d.pduData(resp)
	if err != nil {
		return err
	}
	if len(data) != 4 {
		return &DataSizeError{DeviceID: d.DeviceID(), ExpectedBytes: 4, ActualBytes: len(data)}
	}
	if got := binary.BigEndian.Uint16(data); got != address {
		return fmt.Errorf("modbus: %s: response address %d does not match request %d", d.DeviceID(), got, address)
	}
	if got := binary.BigEndian.Uint16(data[2:]); got != quantity {
		return fmt.Errorf("modbus: %s: response quantity %d does not match request %d", d.DeviceID(), got, quantity)
	}
	return nil
}

// MaskWriteRegister is a convenience wrapper over Device.sendFrame for FC
// 0x16: result = (current AND andMask) OR (orMask AND (NOT andMask)).
func MaskWriteRegister(d *Device, slave byte, address, andMask, orMask uint16) error {
	pdu := make([]byte, 6)
	binary.BigEndian.PutUint16(pdu, address)
	binary.BigEndian.PutUint16(pdu[2:], andMask)
	binary.BigEndian.PutUint16(pdu[4:], orMask)

	resp, err := d.sendFrame(slave, funcCodeMaskWriteRegister, pdu)
	if err != nil {
		return err
	}
	data, err := d.pduData(resp)
	if err != nil {
		return err
	}
	if len(data) != 6 {
		return &DataSizeError{DeviceID: d.DeviceID(), ExpectedBytes: 6, ActualBytes: len(data)}
	}
	if got := binary.BigEndian.Uint16(data); got != address {
		return fmt.Errorf("modbus: %s: response address %d does not match request %d", d.DeviceID(), got, address)
	}
	if got := binary.BigEndian.Uint16(data[2:]); got != andMask {
		return fmt.Errorf("modbus: %s: response AND-mask %d does not match request %d", d.DeviceID(), got, andMask)
	}
	if got := binary.BigEndian.Uint16(data[4:]); got != orMask {
		return fmt.Errorf("modbus: %s: response OR-mask %d does not match request %d", d.DeviceID(), got, orMask)
	}
	return nil
}

// ReadWriteMultipleRegisters is a convenience wrapper over Device.sendFrame
// for FC 0x17: writes writeValue starting at writeAddress, then reads
// readQuantity registers starting at readAddress, atomically.
func ReadWriteMultipleRegisters(d *Device, slave byte, readAddress, readQuantity, writeAddress, writeQuantity uint16, writeValue []byte) ([]byte, error) {
	if readQuantity < 1 || readQuantity > 125 {
		return nil, fmt.Errorf("modbus: %s: read quantity %d must be between 1 and 125", d.DeviceID(), readQuantity)
	}
	if writeQuantity < 1 || writeQuantity > 121 {
		return nil, fmt.Errorf("modbus: %s: write quantity %d must be between 1 and 121", d.DeviceID(), writeQuantity)
	}

	pdu := make([]byte, 8+1+len(writeValue))
	binary.BigEndian.PutUint16(pdu, readAddress)
	binary.BigEndian.PutUint16(pdu[2:], readQuantity)
	binary.BigEndian.PutUint16(pdu[4:], writeAddress)
	binary.BigEndian.PutUint16(pdu[6:], writeQuantity)
	pdu[8] = byte(len(writeValue))
	copy(pdu[9:], writeValue)

	resp, err := d.sendFrame(slave, funcCodeReadWriteMultipleRegisters, pdu)
	if err != nil {
		return nil, err
	}
	data, err := d.pduData(resp)
	if err != nil {
		return nil, err
	}
	if len(data) < 1 {
		return nil, fmt.Errorf("modbus: %s: response data is empty", d.DeviceID())
	}
	count := int(data[0])
	length := len(data) - 1
	var sizeErr error
	if count != length {
		sizeErr = &DataSizeError{DeviceID: d.DeviceID(), ExpectedBytes: count, ActualBytes: length}
		if length < count {
			return nil, sizeErr
		}
	}
	return data[1 : count+1], sizeErr
}
