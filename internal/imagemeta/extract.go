// Package imagemeta sniffs uploaded bytes and reads basic image properties.
package imagemeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"morphflux/internal/model"
)

var ErrUnknownFormat = errors.New("unrecognized image format")

// DetectContentType returns the MIME type of data judged by its content,
// without parameters.
func DetectContentType(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}

// Extract reads dimensions, format and color information from the image
// header without decoding pixels. JPEG dimensions honour the EXIF
// orientation tag.
func Extract(data []byte) (*model.ImageMetadata, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnknownFormat
		}
		return nil, fmt.Errorf("decode image config: %w", err)
	}

	meta := &model.ImageMetadata{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
	}
	meta.ColorModel, meta.Channels, meta.HasAlpha = describeColorModel(cfg.ColorModel)

	// Orientations 5-8 rotate by 90 or 270 degrees.
	if format == "jpeg" && jpegOrientation(data) >= 5 {
		meta.Width, meta.Height = meta.Height, meta.Width
	}
	return meta, nil
}

const (
	markerSOI      = 0xffd8
	markerAPP1     = 0xffe1
	markerSOS      = 0xffda
	exifHeader     = "Exif\x00\x00"
	tagOrientation = 0x0112
	typeShort      = 3
)

// jpegOrientation returns the EXIF orientation (1-8) of a JPEG, or 0 when
// there is none. Only the segments ahead of the scan data are read.
func jpegOrientation(data []byte) int {
	if len(data) < 4 || binary.BigEndian.Uint16(data) != markerSOI {
		return 0
	}
	pos := 2
	for pos+4 <= len(data) {
		marker := binary.BigEndian.Uint16(data[pos:])
		if marker>>8 != 0xff || marker == markerSOS {
			return 0
		}
		size := int(binary.BigEndian.Uint16(data[pos+2:]))
		if size < 2 || pos+2+size > len(data) {
			return 0
		}
		if marker == markerAPP1 {
			if o := exifOrientation(data[pos+4 : pos+2+size]); o != 0 {
				return o
			}
		}
		pos += 2 + size
	}
	return 0
}

// exifOrientation looks up the orientation tag in IFD0 of an APP1 payload.
func exifOrientation(seg []byte) int {
	if !bytes.HasPrefix(seg, []byte(exifHeader)) {
		return 0
	}
	tiff := seg[len(exifHeader):]
	if len(tiff) < 8 {
		return 0
	}
	var order binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return 0
	}
	if order.Uint16(tiff[2:]) != 42 {
		return 0
	}
	ifd := int64(order.Uint32(tiff[4:]))
	if ifd < 8 || ifd+2 > int64(len(tiff)) {
		return 0
	}
	entries := int(order.Uint16(tiff[ifd:]))
	for i := 0; i < entries; i++ {
		e := int(ifd) + 2 + i*12
		if e+12 > len(tiff) {
			return 0
		}
		if order.Uint16(tiff[e:]) != tagOrientation {
			continue
		}
		if order.Uint16(tiff[e+2:]) != typeShort {
			return 0
		}
		o := int(order.Uint16(tiff[e+8:]))
		if o < 1 || o > 8 {
			return 0
		}
		return o
	}
	return 0
}

func describeColorModel(m color.Model) (name string, channels int, alpha bool) {
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return "paletted", 4, true
			}
		}
		return "paletted", 3, false
	}
	switch m {
	case color.YCbCrModel:
		return "ycbcr", 3, false
	case color.NYCbCrAModel:
		return "ycbcra", 4, true
	case color.GrayModel, color.Gray16Model:
		return "gray", 1, false
	case color.AlphaModel, color.Alpha16Model:
		return "alpha", 1, true
	case color.CMYKModel:
		return "cmyk", 4, false
	case color.RGBAModel, color.RGBA64Model:
		return "rgba", 4, true
	case color.NRGBAModel, color.NRGBA64Model:
		return "nrgba", 4, true
	}
	return "unknown", 0, false
}
