package modbus

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// tcpADU builds a fake-but-shaped MBAP response: a 7-byte header (contents
// irrelevant to codec.PDU), a function code byte, then data.
func tcpADU(funcCode byte, data []byte) []byte {
	adu := make([]byte, 7+1+len(data))
	adu[7] = funcCode
	copy(adu[8:], data)
	return adu
}

func newOpsTestDevice(resp []byte) *Device {
	tr := &fakeTransport{readResps: []fakeRead{{data: resp}}}
	d := newTestDevice(tr, fakeCodec{}, nil)
	_ = d.Connect()
	return d
}

func TestReadHoldingRegistersSlicesPayload(t *testing.T) {
	data := append([]byte{4}, []byte{0x00, 0x01, 0x00, 0x02}...)
	d := newOpsTestDevice(tcpADU(0x03, data))

	got, err := ReadHoldingRegisters(d, 1, 0, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x01, 0x00, 0x02}, got)
}

func TestReadHoldingRegistersRejectsQuantityOutOfBounds(t *testing.T) {
	d := newOpsTestDevice(nil)
	_, err := ReadHoldingRegisters(d, 1, 0, 0)
	require.Error(t, err)
	_, err = ReadHoldingRegisters(d, 1, 0, 126)
	require.Error(t, err)
}

func TestReadHoldingRegistersDetectsSizeMismatchAgainstRequestedQuantity(t *testing.T) {
	// count byte says 1, one payload byte follows — internally consistent,
	// but doesn't match the 2*quantity the caller asked for.
	data := []byte{1, 0xFF}
	d := newOpsTestDevice(tcpADU(0x03, data))

	_, err := ReadHoldingRegisters(d, 1, 0, 1)
	require.Error(t, err)
}

func TestReadCoilsReturnsDataSizeErrorWhenCountExceedsAvailableBytes(t *testing.T) {
	// count byte claims 5 bytes follow, but only 2 are actually present.
	data := []byte{5, 0x01, 0x02}
	d := newOpsTestDevice(tcpADU(0x01, data))

	_, err := ReadCoils(d, 1, 0, 8)
	require.Error(t, err)
	var sizeErr *DataSizeError
	require.ErrorAs(t, err, &sizeErr)
}

func TestReadHoldingRegistersReturnsDataAndDataSizeErrorWhenCountIsLessThanAvailableBytes(t *testing.T) {
	// count byte claims 2 bytes follow, 3 are actually present, but the
	// sliced-out 2 bytes still satisfy the requested quantity: the mismatch
	// must still surface via the returned error, not be swallowed.
	data := []byte{2, 0x00, 0x01, 0xFF}
	d := newOpsTestDevice(tcpADU(0x03, data))

	got, err := ReadHoldingRegisters(d, 1, 0, 1)
	var sizeErr *DataSizeError
	require.ErrorAs(t, err, &sizeErr)
	require.Equal(t, []byte{0x00, 0x01}, got)
}

func TestReadCoilsReturnsDataAndDataSizeErrorWhenCountIsLessThanAvailableBytes(t *testing.T) {
	// count byte claims 2 bytes follow, but 3 are actually present: enough
	// data to slice out, but the mismatch must still be reported.
	data := []byte{2, 0x01, 0x02, 0x03}
	d := newOpsTestDevice(tcpADU(0x01, data))

	got, err := ReadCoils(d, 1, 0, 8)
	var sizeErr *DataSizeError
	require.ErrorAs(t, err, &sizeErr)
	require.Equal(t, []byte{0x01, 0x02}, got)
}

func TestReadCoilsRejectsQuantityOutOfBounds(t *testing.T) {
	d := newOpsTestDevice(nil)
	_, err := ReadCoils(d, 1, 0, 0)
	require.Error(t, err)
	_, err = ReadCoils(d, 1, 0, 2001)
	require.Error(t, err)
}

func TestWriteSingleRegisterValidatesEcho(t *testing.T) {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data, 10)
	binary.BigEndian.PutUint16(data[2:], 42)
	d := newOpsTestDevice(tcpADU(0x06, data))

	require.NoError(t, WriteSingleRegister(d, 1, 10, 42))
}

func TestWriteSingleRegisterRejectsMismatchedEchoedAddress(t *testing.T) {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data, 99) // wrong address echoed back
	binary.BigEndian.PutUint16(data[2:], 42)
	d := newOpsTestDevice(tcpADU(0x06, data))

	err := WriteSingleRegister(d, 1, 10, 42)
	require.Error(t, err)
}

func TestWriteSingleCoilRejectsInvalidValue(t *testing.T) {
	d := newOpsTestDevice(nil)
	err := WriteSingleCoil(d, 1, 0, 0x1234)
	require.Error(t, err)
}

func TestWriteMultipleRegistersValidatesEchoedAddressAndQuantity(t *testing.T) {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data, 5)
	binary.BigEndian.PutUint16(data[2:], 3)
	d := newOpsTestDevice(tcpADU(0x10, data))

	require.NoError(t, WriteMultipleRegisters(d, 1, 5, 3, []byte{0, 1, 0, 2, 0, 3}))
}

func TestWriteMultipleRegistersRejectsQuantityOutOfBounds(t *testing.T) {
	d := newOpsTestDevice(nil)
	err := WriteMultipleRegisters(d, 1, 0, 0, nil)
	require.Error(t, err)
	err = WriteMultipleRegisters(d, 1, 0, 124, make([]byte, 248))
	require.Error(t, err)
}

func TestMaskWriteRegisterValidatesEcho(t *testing.T) {
	data := make([]byte, 6)
	binary.BigEndian.PutUint16(data, 4)
	binary.BigEndian.PutUint16(data[2:], 0x00F2)
	binary.BigEndian.PutUint16(data[4:], 0x0025)
	d := newOpsTestDevice(tcpADU(0x16, data))

	require.NoError(t, MaskWriteRegister(d, 1, 4, 0x00F2, 0x0025))
}

func TestReadWriteMultipleRegistersSlicesReadPayload(t *testing.T) {
	data := append([]byte{2}, []byte{0x00, 0x09}...)
	d := newOpsTestDevice(tcpADU(0x17, data))

	got, err := ReadWriteMultipleRegisters(d, 1, 0, 1, 0, 1, []byte{0, 1})
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x09}, got)
}

func TestReadWriteMultipleRegistersReturnsDataAndDataSizeErrorWhenCountIsLessThanAvailableBytes(t *testing.T) {
	data := []byte{2, 0x00, 0x09, 0xFF}
	d := newOpsTestDevice(tcpADU(0x17, data))

	got, err := ReadWriteMultipleRegisters(d, 1, 0, 1, 0, 1, []byte{0, 1})
	var sizeErr *DataSizeError
	require.ErrorAs(t, err, &sizeErr)
	require.Equal(t, []byte{0x00, 0x09}, got)
}

func TestReadWriteMultipleRegistersRejectsQuantityOutOfBounds(t *testing.T) {
	d := newOpsTestDevice(nil)
	_, err := ReadWriteMultipleRegisters(d, 1, 0, 0, 0, 1, nil)
	require.Error(t, err)
	_, err = ReadWriteMultipleRegisters(d, 1, 0, 1, 0, 122, make([]byte, 244))
	require.Error(t, err)
}

func TestDataSizeErrorMessage(t *testing.T) {
	err := &DataSizeError{DeviceID: "TCP:x:1", ExpectedBytes: 4, ActualBytes: 2}
	require.Contains(t, err.Error(), "TCP:x:1")
	require.Contains(t, err.Error(), "4")
	require.Contains(t, err.Error(), "2")
}
