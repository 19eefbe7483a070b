//go:build windows

package menu

import (
	"bytes"
	"encoding/binary"
	"image"
	_ "image/png"

	"github.com/example/deskwatch/internal/logging"
)

// icoHeader is ICONDIR followed by a single ICONDIRENTRY.
type icoHeader struct {
	Reserved   uint16
	Type       uint16
	Count      uint16
	Width      uint8
	Height     uint8
	Colors     uint8
	Reserved2  uint8
	Planes     uint16
	BitCount   uint16
	BytesInRes uint32
	Offset     uint32
}

const icoHeaderSize = 6 + 16

// The Windows tray only takes ICO data, so PNG dots are wrapped in a
// single-image ICO container.
func platformNormalizeIcon(data []byte) []byte {
	if isICO(data) {
		return data
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || format != "png" {
		logging.Debugf("tray icon is not a png (format=%q): %v", format, err)
		return nil
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		logging.Debugf("tray icon image has invalid bounds: %dx%d", cfg.Width, cfg.Height)
		return nil
	}

	ico, err := wrapPNGAsICO(data, cfg.Width, cfg.Height)
	if err != nil {
		logging.Debugf("failed to wrap tray icon PNG as ico: %v", err)
		return nil
	}
	return ico
}

func wrapPNGAsICO(pngData []byte, width, height int) ([]byte, error) {
	header := icoHeader{
		Type:       1,
		Count:      1,
		Width:      icoDimension(width),
		Height:     icoDimension(height),
		Planes:     1,
		BitCount:   32,
		BytesInRes: uint32(len(pngData)),
		Offset:     icoHeaderSize,
	}
	buf := bytes.NewBuffer(make([]byte, 0, icoHeaderSize+len(pngData)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, err
	}
	buf.Write(pngData)
	return buf.Bytes(), nil
}

// 0 encodes 256 and larger.
func icoDimension(v int) uint8 {
	if v <= 0 || v >= 256 {
		return 0
	}
	return uint8(v)
}

func isICO(data []byte) bool {
	return len(data) >= 4 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01 && data[3] == 0x00
}
