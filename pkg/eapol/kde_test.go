package eapol

import (
	"bytes"
	"errors"
	"testing"
)

func TestGTKEncoding(t *testing.T) {
	rsn := []byte{0x30, 0x02, 0x01, 0x00}
	gtk := GTK{Flags: GTKTransmit | 0x01, Key: bytes.Repeat([]byte{0x7A}, 16)}

	data, err := AppendGTK(bytes.Clone(rsn), gtk)
	if nil != err {
		t.Fatalf("failed AppendGTK, got error %v", err)
	}
	expectedHead := []byte{KDEType, 22, 0x00, 0x0F, 0xAC, 0x01, 0x05, 0x00}
	if !bytes.Equal(expectedHead, data[len(rsn):len(rsn)+8]) {
		t.Errorf("unexpected KDE head % X", data[len(rsn):len(rsn)+8])
	}

	kde, size, err := ParseKDE(data[len(rsn):])
	if nil != err {
		t.Fatalf("failed ParseKDE, got error %v", err)
	}
	if 24 != size {
		t.Errorf("unexpected KDE size %d", size)
	}
	parsed, err := ParseGTK(kde)
	if nil != err {
		t.Fatalf("failed ParseGTK, got error %v", err)
	}
	if gtk.Flags != parsed.Flags || !bytes.Equal(gtk.Key, parsed.Key) {
		t.Errorf("unexpected GTK %+v", parsed)
	}
	if 1 != parsed.Flags.KeyID() || !parsed.Flags.Transmit() {
		t.Errorf("unexpected GTK flags decoding %#02x", parsed.Flags)
	}
}

func TestParseKDEMalformed(t *testing.T) {
	testcases := []struct {
		name string
		data []byte
	}{
		{"short", []byte{KDEType, 4, 0x00, 0x0F, 0xAC}},
		{"element type", []byte{0x30, 4, 0x00, 0x0F, 0xAC, 0x01}},
		{"padding", []byte{KDEType, 0, 0, 0, 0, 0, 0, 0}},
		{"overrun", []byte{KDEType, 10, 0x00, 0x0F, 0xAC, 0x01, 0x00, 0x00}},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseKDE(tc.data)
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestParseGTKInvalid(t *testing.T) {
	_, err := ParseGTK(KDE{Selector: SelectorPMKID, Payload: make([]byte, 16)})
	if nil == err {
		t.Error("ParseGTK accepted a PMKID KDE")
	}
	_, err = ParseGTK(KDE{Selector: SelectorGTK, Payload: []byte{0x04, 0x00}})
	if nil == err {
		t.Error("ParseGTK accepted an empty key")
	}
}
