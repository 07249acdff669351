package processor

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"

	"github.com/ds124wfegd/espdisplay/internal/entity"
)

// EncodeRGB565 packs every pixel as (r>>3)<<11 | (g>>2)<<5 | b>>3 and writes
// it in the requested byte order. Alpha is ignored. Output is always
// width*height*2 bytes.
func EncodeRGB565(img image.Image, order entity.ByteOrder) *entity.EncodedPayload {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h*2)
	put := binaryOrder(order)

	i := 0
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < h; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < w; x++ {
				px := src.Pix[off+x*4:]
				put.PutUint16(out[i:], pack565(px[0], px[1], px[2]))
				i += 2
			}
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				put.PutUint16(out[i:], pack565(c.R, c.G, c.B))
				i += 2
			}
		}
	}

	return &entity.EncodedPayload{
		Kind:      entity.PayloadRawRGB565,
		Data:      out,
		ByteOrder: normalizeOrder(order),
		Width:     w,
		Height:    h,
	}
}

// DecodeRGB565 expands a raw buffer back to 8-bit channels by bit replication,
// so EncodeRGB565 of the result reproduces data exactly.
func DecodeRGB565(data []byte, width, height int, order entity.ByteOrder) (*image.NRGBA, error) {
	if want := width * height * 2; len(data) != want {
		return nil, fmt.Errorf("pixel data size mismatch: expected %d, got %d", want, len(data))
	}
	get := binaryOrder(order)
	img := image.NewNRGBA(image.Rect(0, 0, width, height))

	for i, j := 0, 0; i < len(data); i, j = i+2, j+4 {
		v := get.Uint16(data[i:])
		r5 := uint8(v >> 11 & 0x1f)
		g6 := uint8(v >> 5 & 0x3f)
		b5 := uint8(v & 0x1f)
		img.Pix[j] = r5<<3 | r5>>2
		img.Pix[j+1] = g6<<2 | g6>>4
		img.Pix[j+2] = b5<<3 | b5>>2
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

func pack565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

func binaryOrder(order entity.ByteOrder) binary.ByteOrder {
	if order == entity.LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

func normalizeOrder(order entity.ByteOrder) entity.ByteOrder {
	if order == entity.LittleEndian {
		return entity.LittleEndian
	}
	return entity.BigEndian
}
