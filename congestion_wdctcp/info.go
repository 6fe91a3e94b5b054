package congestion_wdctcp

import (
	"encoding/binary"

	"github.com/sagernet/sing/common"
	"github.com/sagernet/sing/common/buf"
)

// Diagnostic extension ids. An ext mask requests id n with bit n-1.
const (
	DiagExtVegasInfo = 3
	DiagExtDCTCPInfo = 16
)

const InfoSize = 16

// Info is the diagnostic record of a connection.
type Info struct {
	Enabled         bool
	CEState         CEState
	Alpha           uint32
	AckedBytesECN   uint32
	AckedBytesTotal uint32
}

// MarshalBinary encodes the record in the fixed little endian layout
// u16 enabled, u16 ce_state, u32 alpha, u32 ab_ecn, u32 ab_tot.
func (i Info) MarshalBinary() ([]byte, error) {
	var enabled uint16
	if i.Enabled {
		enabled = 1
	}
	buffer := buf.NewSize(InfoSize)
	defer buffer.Release()
	common.Must(
		binary.Write(buffer, binary.LittleEndian, enabled),
		binary.Write(buffer, binary.LittleEndian, uint16(i.CEState)),
		binary.Write(buffer, binary.LittleEndian, i.Alpha),
		binary.Write(buffer, binary.LittleEndian, i.AckedBytesECN),
		binary.Write(buffer, binary.LittleEndian, i.AckedBytesTotal),
	)
	content := make([]byte, buffer.Len())
	copy(content, buffer.Bytes())
	return content, nil
}

// Info returns the diagnostic snapshot. In fallback mode only the zero
// record is reported.
func (c *Controller) Info() Info {
	if c.mode != ModeWeighted {
		return Info{}
	}
	return Info{
		Enabled:         true,
		CEState:         c.state.ceState,
		Alpha:           c.state.alpha,
		AckedBytesECN:   c.state.ackedBytesECN,
		AckedBytesTotal: c.state.ackedBytesTotal,
	}
}

// GetInfo answers a diagnostic request. ok is false unless ext asks for
// the DCTCP or Vegas extension; both are served with the DCTCP record.
func (c *Controller) GetInfo(sk *Sock, ext uint32) (info Info, ok bool) {
	if ext&(1<<(DiagExtDCTCPInfo-1)) == 0 && ext&(1<<(DiagExtVegasInfo-1)) == 0 {
		return
	}
	return c.Info(), true
}
