package codec

import (
	"encoding/binary"
)

// RTU frame layout:
//
//	SlaveID(1) | FC(1) | Address(2) | Quantity(2) | CRC(2, little-endian)
const (
	rtuRequestSize  = 8
	rtuMinFrameSize = 4 // slave + fc + crc(2); an exception response is 5
)

// RTU builds and parses Modbus RTU frames, with a CRC-16/Modbus trailer.
// It is used both for serial RTU and for RTU framing carried over a raw TCP
// socket (DeviceConfig kind TCP_RTU) — the framing is identical, only the
// transport differs.
type RTU struct{}

var _ Codec = RTU{}

// BuildRequest encodes an 8-byte RTU request frame for function codes
// 0x01-0x04.
func (RTU) BuildRequest(req Request) ([]byte, error) {
	adu := make([]byte, rtuRequestSize)
	adu[0] = req.Slave
	adu[1] = req.FuncCode
	binary.BigEndian.PutUint16(adu[2:], req.Address)
	binary.BigEndian.PutUint16(adu[4:], req.Quantity)

	sum := ChecksumCRC16(adu[:6])
	adu[6] = byte(sum)      // low byte first
	adu[7] = byte(sum >> 8)
	return adu, nil
}

// BuildFrame wraps an arbitrary PDU (function code + payload) with a
// CRC-16/Modbus trailer, for function codes BuildRequest's address+quantity
// shape doesn't cover (write operations in the convenience decoder layer).
func (RTU) BuildFrame(slave, funcCode byte, pdu []byte) ([]byte, error) {
	adu := make([]byte, 2+len(pdu)+2)
	adu[0] = slave
	adu[1] = funcCode
	copy(adu[2:], pdu)

	sum := ChecksumCRC16(adu[:2+len(pdu)])
	adu[2+len(pdu)] = byte(sum)
	adu[2+len(pdu)+1] = byte(sum >> 8)
	return adu, nil
}

// ReadResponse reads until inter-frame silence, validates the trailing CRC,
// and returns the full frame unchanged.
func (RTU) ReadResponse(r FrameReader, requestFrame []byte) ([]byte, error) {
	adu, err := r.ReadAvailableUntilIdle()
	if err != nil {
		return nil, err
	}

	if len(adu) < rtuMinFrameSize {
		return nil, protoErr("response length %d below minimum %d", len(adu), rtuMinFrameSize)
	}
	if adu[0] != requestFrame[0] {
		return nil, protoErr("response slave id %d does not match request %d", adu[0], requestFrame[0])
	}

	payload := adu[:len(adu)-2]
	want := ChecksumCRC16(payload)
	got := uint16(adu[len(adu)-2]) | uint16(adu[len(adu)-1])<<8
	if got != want {
		return nil, protoErr("response crc %04x does not match expected %04x", got, want)
	}
	return adu, nil
}

// crc16Table is the standard CRC-16/Modbus lookup table for polynomial
// 0xA001 (reflected 0x8005).
var crc16Table = buildCRC16Table()

func buildCRC16Table() [256]uint16 {
	const poly = 0xA001
	var table [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}

// ChecksumCRC16 computes CRC-16/Modbus over data: polynomial 0xA001, initial
// value 0xFFFF, reflected, no final XOR.
func ChecksumCRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc >> 8) ^ crc16Table[byte(crc)^b]
	}
	return crc
}

