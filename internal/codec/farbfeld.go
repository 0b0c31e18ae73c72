package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
)

const farbfeldMagic = "farbfeld"

var errFarbfeldHeader = errors.New("farbfeld: invalid header")

func init() {
	image.RegisterFormat("farbfeld", farbfeldMagic, decodeFarbfeld, decodeFarbfeldConfig)
}

func readFarbfeldHeader(r io.Reader) (int, int, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, fmt.Errorf("farbfeld: read header: %w", err)
	}
	if string(hdr[:8]) != farbfeldMagic {
		return 0, 0, errFarbfeldHeader
	}
	w := int(binary.BigEndian.Uint32(hdr[8:12]))
	h := int(binary.BigEndian.Uint32(hdr[12:16]))
	if err := checkSize(w, h); err != nil {
		return 0, 0, fmt.Errorf("farbfeld: %w", err)
	}
	return w, h, nil
}

func decodeFarbfeldConfig(r io.Reader) (image.Config, error) {
	w, h, err := readFarbfeldHeader(r)
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: color.NRGBA64Model, Width: w, Height: h}, nil
}

func decodeFarbfeld(r io.Reader) (image.Image, error) {
	w, h, err := readFarbfeldHeader(r)
	if err != nil {
		return nil, err
	}

	img := image.NewNRGBA64(image.Rect(0, 0, w, h))
	// Farbfeld stores big-endian 16-bit channels, the same byte order as
	// NRGBA64.Pix.
	for y := 0; y < h; y++ {
		i := img.PixOffset(0, y)
		if _, err := io.ReadFull(r, img.Pix[i:i+8*w]); err != nil {
			return nil, fmt.Errorf("farbfeld: read pixels: %w", err)
		}
	}
	return img, nil
}

func encodeFarbfeld(w io.Writer, img image.Image, _ Options) error {
	b := img.Bounds()
	bw := bufio.NewWriter(w)

	var hdr [16]byte
	copy(hdr[:8], farbfeldMagic)
	binary.BigEndian.PutUint32(hdr[8:12], uint32(b.Dx()))
	binary.BigEndian.PutUint32(hdr[12:16], uint32(b.Dy()))
	if _, err := bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("encode farbfeld: %w", err)
	}

	var px [8]byte
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
			binary.BigEndian.PutUint16(px[0:2], c.R)
			binary.BigEndian.PutUint16(px[2:4], c.G)
			binary.BigEndian.PutUint16(px[4:6], c.B)
			binary.BigEndian.PutUint16(px[6:8], c.A)
			if _, err := bw.Write(px[:]); err != nil {
				return fmt.Errorf("encode farbfeld: %w", err)
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("encode farbfeld: %w", err)
	}
	return nil
}
