package link

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Frame is a decoded EAPOL ethernet frame.
type Frame struct {
	Src     Addr
	Dst     Addr
	Type    layers.EAPOLType
	Payload []byte // EAPOL packet, header included.
}

// EncodeEthernet returns an ethernet II frame that carries the EAPOL packet payload from src to dst.
func EncodeEthernet(src, dst Addr, payload []byte) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr(src[:]),
		DstMAC:       net.HardwareAddr(dst[:]),
		EthernetType: layers.EthernetTypeEAPOL,
	}
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(
		buf,
		gopacket.SerializeOptions{FixLengths: true},
		&eth,
		gopacket.Payload(payload),
	)
	if nil != err {
		return nil, wrapError(err, "failed serializing ethernet frame")
	}
	return buf.Bytes(), nil
}

// DecodeEthernet decodes an ethernet II frame.
// It errors with ErrNotEAPOL if the frame does not carry an EAPOL packet.
func DecodeEthernet(data []byte) (Frame, error) {
	var frame Frame
	var eth layers.Ethernet
	err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback)
	if nil != err {
		return frame, wrapError(err, "failed decoding ethernet header")
	}
	if layers.EthernetTypeEAPOL != eth.EthernetType {
		return frame, wrapError(ErrNotEAPOL, "unexpected ethernet type %s", eth.EthernetType)
	}

	var eapol layers.EAPOL
	err = eapol.DecodeFromBytes(eth.Payload, gopacket.NilDecodeFeedback)
	if nil != err {
		return frame, wrapError(err, "failed decoding EAPOL header")
	}

	copy(frame.Src[:], eth.SrcMAC)
	copy(frame.Dst[:], eth.DstMAC)
	frame.Type = eapol.Type
	frame.Payload = eth.Payload

	return frame, nil
}
