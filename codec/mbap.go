package codec

import (
	"encoding/binary"
	"sync/atomic"
)

// MBAP frame layout, big-endian:
//
//	TID(2) | PID=0x0000(2) | LEN(2) | UnitID(1) | PDU(...)
const (
	mbapHeaderSize  = 7
	mbapProtocolID  = 0x0000
	mbapMinResponse = mbapHeaderSize + 1 // header + function code
)

// TransactionCounter issues wait-free, wrap-around 16-bit transaction ids.
// A single process-wide instance is enough to guarantee no two in-flight
// requests on the same connection ever share a transaction id.
type TransactionCounter struct {
	next atomic.Uint32
}

// Next returns the next transaction id, wrapping modulo 2^16.
func (c *TransactionCounter) Next() uint16 {
	return uint16(c.next.Add(1))
}

// globalTransactionCounter is the process-wide counter shared by every MBAP
// codec instance.
var globalTransactionCounter TransactionCounter

// MBAP builds and parses Modbus TCP (MBAP-wrapped) frames.
type MBAP struct{}

var _ Codec = MBAP{}

// BuildRequest encodes a 12-byte MBAP request frame for function codes
// 0x01-0x04 (address+quantity framing).
func (MBAP) BuildRequest(req Request) ([]byte, error) {
	tid := globalTransactionCounter.Next()

	const pduLen = 1 + 2 + 2 // function code + address + quantity
	adu := make([]byte, mbapHeaderSize+pduLen)

	binary.BigEndian.PutUint16(adu[0:], tid)
	binary.BigEndian.PutUint16(adu[2:], mbapProtocolID)
	binary.BigEndian.PutUint16(adu[4:], uint16(1+pduLen)) // unitID + PDU
	adu[6] = req.Slave
	adu[7] = req.FuncCode
	binary.BigEndian.PutUint16(adu[8:], req.Address)
	binary.BigEndian.PutUint16(adu[10:], req.Quantity)
	return adu, nil
}

// BuildFrame wraps an arbitrary PDU (function code + payload) in an MBAP
// header, for function codes BuildRequest's address+quantity shape doesn't
// cover (write operations in the convenience decoder layer).
func (MBAP) BuildFrame(slave, funcCode byte, pdu []byte) ([]byte, error) {
	tid := globalTransactionCounter.Next()

	adu := make([]byte, mbapHeaderSize+1+len(pdu))
	binary.BigEndian.PutUint16(adu[0:], tid)
	binary.BigEndian.PutUint16(adu[2:], mbapProtocolID)
	binary.BigEndian.PutUint16(adu[4:], uint16(1+1+len(pdu)))
	adu[6] = slave
	adu[7] = funcCode
	copy(adu[8:], pdu)
	return adu, nil
}

// ReadResponse reads exactly 7 bytes of MBAP header, then LEN-1 bytes of
// PDU, and returns the concatenation unchanged.
func (MBAP) ReadResponse(r FrameReader, requestFrame []byte) ([]byte, error) {
	header, err := r.ReadExact(mbapHeaderSize)
	if err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint16(header[4:6])
	if length == 0 || int(length) > MaxFrameLength-mbapHeaderSize+1 {
		return nil, protoErr("declared length %d out of bounds", length)
	}

	pdu, err := r.ReadExact(int(length) - 1)
	if err != nil {
		return nil, err
	}

	adu := make([]byte, 0, mbapHeaderSize+len(pdu))
	adu = append(adu, header...)
	adu = append(adu, pdu...)

	if err := verifyMBAP(requestFrame, adu); err != nil {
		return nil, err
	}
	return adu, nil
}

// verifyMBAP confirms transaction id, protocol id, and unit id match between
// request and response.
func verifyMBAP(req, resp []byte) error {
	if len(resp) < mbapMinResponse {
		return protoErr("response too short: %d bytes", len(resp))
	}

	reqTID := binary.BigEndian.Uint16(req[0:2])
	respTID := binary.BigEndian.Uint16(resp[0:2])
	if reqTID != respTID {
		return protoErr("response transaction id %d does not match request %d", respTID, reqTID)
	}

	reqPID := binary.BigEndian.Uint16(req[2:4])
	respPID := binary.BigEndian.Uint16(resp[2:4])
	if respPID != mbapProtocolID || reqPID != respPID {
		return protoErr("response protocol id %d does not match request %d", respPID, reqPID)
	}

	if resp[6] != req[6] {
		return protoErr("response unit id %d does not match request %d", resp[6], req[6])
	}
	return nil
}

// PDU extracts the function-code-plus-data bytes from a complete MBAP
// response frame, for callers that want to decode rather than pass the raw
// frame through.
func PDU(aduResponse []byte) (funcCode byte, data []byte) {
	return aduResponse[mbapHeaderSize], aduResponse[mbapHeaderSize+1:]
}
