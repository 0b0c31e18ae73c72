package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/dunamismax/convertflow/internal/raster"
	"github.com/klauspost/compress/zlib"
)

const (
	exrMagic   = "\x76\x2f\x31\x01"
	exrVersion = 2

	exrFlagTiled     = 0x200
	exrFlagDeep      = 0x800
	exrFlagMultipart = 0x1000

	exrUint  = 0
	exrHalf  = 1
	exrFloat = 2

	exrCompressNone = 0
	exrCompressRLE  = 1
	exrCompressZIPS = 2
	exrCompressZIP  = 3

	exrZIPLines = 16
)

var errEXRHeader = errors.New("exr: invalid header")

func init() {
	image.RegisterFormat("exr", exrMagic, decodeEXR, decodeEXRConfig)
}

type exrChannel struct {
	name      string
	pixelType int32
}

func (c exrChannel) size() int {
	if c.pixelType == exrHalf {
		return 2
	}
	return 4
}

type exrHeader struct {
	channels    []exrChannel
	compression byte
	xMin, yMin  int32
	xMax, yMax  int32
}

func (h exrHeader) width() int  { return int(h.xMax) - int(h.xMin) + 1 }
func (h exrHeader) height() int { return int(h.yMax) - int(h.yMin) + 1 }

func (h exrHeader) linesPerBlock() int {
	if h.compression == exrCompressZIP {
		return exrZIPLines
	}
	return 1
}

func (h exrHeader) lineBytes() int {
	n := 0
	for _, c := range h.channels {
		n += c.size() * h.width()
	}
	return n
}

// exrCursor reads little-endian values from an in-memory file and records
// the first overrun.
type exrCursor struct {
	buf []byte
	pos int
	err error
}

func (c *exrCursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.pos+n > len(c.buf) {
		c.err = io.ErrUnexpectedEOF
		return nil
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b
}

func (c *exrCursor) cstring() string {
	if c.err != nil {
		return ""
	}
	end := bytes.IndexByte(c.buf[c.pos:], 0)
	if end < 0 {
		c.err = io.ErrUnexpectedEOF
		return ""
	}
	s := string(c.buf[c.pos : c.pos+end])
	c.pos += end + 1
	return s
}

func (c *exrCursor) int32() int32 {
	b := c.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (c *exrCursor) uint64() uint64 {
	b := c.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func readEXRHeader(c *exrCursor) (exrHeader, error) {
	if string(c.take(4)) != exrMagic {
		return exrHeader{}, errEXRHeader
	}
	version := c.int32()
	if version&0xff != exrVersion {
		return exrHeader{}, fmt.Errorf("exr: unsupported version %d", version&0xff)
	}
	if version&(exrFlagTiled|exrFlagDeep|exrFlagMultipart) != 0 {
		return exrHeader{}, fmt.Errorf("exr: only single-part scanline files are supported")
	}

	h := exrHeader{compression: 0xff}
	seenWindow := false
	for {
		name := c.cstring()
		if c.err != nil {
			return exrHeader{}, fmt.Errorf("exr: read header: %w", c.err)
		}
		if name == "" {
			break
		}
		typ := c.cstring()
		size := int(c.int32())
		value := c.take(size)
		if c.err != nil {
			return exrHeader{}, fmt.Errorf("exr: read attribute %s: %w", name, c.err)
		}

		switch {
		case name == "channels" && typ == "chlist":
			channels, err := parseEXRChannels(value)
			if err != nil {
				return exrHeader{}, err
			}
			h.channels = channels
		case name == "compression" && typ == "compression" && size == 1:
			h.compression = value[0]
		case name == "dataWindow" && typ == "box2i" && size == 16:
			h.xMin = int32(binary.LittleEndian.Uint32(value[0:4]))
			h.yMin = int32(binary.LittleEndian.Uint32(value[4:8]))
			h.xMax = int32(binary.LittleEndian.Uint32(value[8:12]))
			h.yMax = int32(binary.LittleEndian.Uint32(value[12:16]))
			seenWindow = true
		}
	}

	if len(h.channels) == 0 || !seenWindow {
		return exrHeader{}, errEXRHeader
	}
	switch h.compression {
	case exrCompressNone, exrCompressRLE, exrCompressZIPS, exrCompressZIP:
	default:
		return exrHeader{}, fmt.Errorf("exr: unsupported compression %d", h.compression)
	}
	if err := checkSize(h.width(), h.height()); err != nil {
		return exrHeader{}, fmt.Errorf("exr: %w", err)
	}
	return h, nil
}

func parseEXRChannels(value []byte) ([]exrChannel, error) {
	c := &exrCursor{buf: value}
	var channels []exrChannel
	for {
		name := c.cstring()
		if c.err != nil {
			return nil, fmt.Errorf("exr: read channels: %w", c.err)
		}
		if name == "" {
			break
		}
		ch := exrChannel{name: name, pixelType: c.int32()}
		c.take(4) // pLinear and reserved
		xs, ys := c.int32(), c.int32()
		if c.err != nil {
			return nil, fmt.Errorf("exr: read channels: %w", c.err)
		}
		if ch.pixelType < exrUint || ch.pixelType > exrFloat {
			return nil, fmt.Errorf("exr: channel %s has unknown pixel type %d", name, ch.pixelType)
		}
		if xs != 1 || ys != 1 {
			return nil, fmt.Errorf("exr: channel %s is subsampled", name)
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

func decodeEXRConfig(r io.Reader) (image.Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return image.Config{}, fmt.Errorf("exr: read: %w", err)
	}
	h, err := readEXRHeader(&exrCursor{buf: data})
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: raster.FloatModel, Width: h.width(), Height: h.height()}, nil
}

// decodeEXR decodes scanline OpenEXR into RGBA32F when an A channel is
// present and RGB32F otherwise. A luminance-only Y channel is replicated
// to R, G and B. Channels other than R, G, B, A and Y are ignored.
func decodeEXR(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("exr: read: %w", err)
	}
	c := &exrCursor{buf: data}
	h, err := readEXRHeader(c)
	if err != nil {
		return nil, err
	}

	slot := map[string]int{"R": 0, "G": 1, "B": 2, "A": 3, "Y": 4}
	var present [5]bool
	for _, ch := range h.channels {
		if i, ok := slot[ch.name]; ok {
			present[i] = true
		}
	}
	hasAlpha := present[3]
	luminance := present[4] && !present[0] && !present[1] && !present[2]

	w, height := h.width(), h.height()
	rect := image.Rect(0, 0, w, height)
	var img interface {
		image.Image
		SetFloat(x, y int, f raster.Float)
	}
	if hasAlpha {
		img = raster.NewRGBA32F(rect)
	} else {
		img = raster.NewRGB32F(rect)
	}

	perBlock := h.linesPerBlock()
	blocks := (height + perBlock - 1) / perBlock
	offsets := make([]int, blocks)
	for i := range offsets {
		offsets[i] = int(c.uint64())
	}
	if c.err != nil {
		return nil, fmt.Errorf("exr: read offsets: %w", c.err)
	}

	values := make([][]float32, len(slot))
	for i := range values {
		values[i] = make([]float32, w)
	}
	lineBytes := h.lineBytes()
	for _, off := range offsets {
		if off < 0 || off > len(data) {
			return nil, fmt.Errorf("exr: chunk offset %d out of range", off)
		}
		bc := &exrCursor{buf: data, pos: off}
		y0 := int(bc.int32()) - int(h.yMin)
		size := int(bc.int32())
		chunk := bc.take(size)
		if bc.err != nil {
			return nil, fmt.Errorf("exr: read chunk: %w", bc.err)
		}
		if y0 < 0 || y0 >= height {
			return nil, fmt.Errorf("exr: chunk at line %d outside data window", y0)
		}
		lines := min(perBlock, height-y0)
		raw, err := exrDecompress(h.compression, chunk, lines*lineBytes)
		if err != nil {
			return nil, err
		}

		pos := 0
		for line := 0; line < lines; line++ {
			for i := range values {
				for x := range values[i] {
					values[i][x] = 0
				}
			}
			for x := range values[3] {
				values[3][x] = 1
			}
			for _, ch := range h.channels {
				n := ch.size() * w
				samples := raw[pos : pos+n]
				pos += n
				i, ok := slot[ch.name]
				if !ok {
					continue
				}
				for x := 0; x < w; x++ {
					values[i][x] = exrSample(samples, x, ch.pixelType)
				}
			}

			y := y0 + line
			for x := 0; x < w; x++ {
				f := raster.Float{R: values[0][x], G: values[1][x], B: values[2][x], A: values[3][x]}
				if luminance {
					f.R, f.G, f.B = values[4][x], values[4][x], values[4][x]
				}
				img.SetFloat(x, y, f)
			}
		}
	}
	return img, nil
}

func exrSample(b []byte, x int, pixelType int32) float32 {
	switch pixelType {
	case exrHalf:
		return halfToFloat(binary.LittleEndian.Uint16(b[2*x:]))
	case exrUint:
		return float32(binary.LittleEndian.Uint32(b[4*x:]))
	default:
		return math.Float32frombits(binary.LittleEndian.Uint32(b[4*x:]))
	}
}

func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff
	switch exp {
	case 0:
		v := float32(math.Ldexp(float64(mant), -24))
		if sign != 0 {
			v = -v
		}
		return v
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
	}
}

// exrDecompress returns the raw scanline bytes of a chunk. Writers store a
// chunk uncompressed when compression would not shrink it.
func exrDecompress(compression byte, chunk []byte, expected int) ([]byte, error) {
	if compression == exrCompressNone || len(chunk) == expected {
		if len(chunk) != expected {
			return nil, fmt.Errorf("exr: chunk has %d bytes, want %d", len(chunk), expected)
		}
		return chunk, nil
	}

	var packed []byte
	switch compression {
	case exrCompressRLE:
		var err error
		if packed, err = exrUnRLE(chunk, expected); err != nil {
			return nil, err
		}
	default:
		zr, err := zlib.NewReader(bytes.NewReader(chunk))
		if err != nil {
			return nil, fmt.Errorf("exr: %w", err)
		}
		defer zr.Close()
		packed = make([]byte, expected)
		if _, err := io.ReadFull(zr, packed); err != nil {
			return nil, fmt.Errorf("exr: inflate chunk: %w", err)
		}
	}

	for i := 1; i < len(packed); i++ {
		packed[i] = packed[i-1] + packed[i] - 128
	}
	out := make([]byte, expected)
	half := (expected + 1) / 2
	for i := 0; i < expected; i++ {
		if i%2 == 0 {
			out[i] = packed[i/2]
		} else {
			out[i] = packed[half+i/2]
		}
	}
	return out, nil
}

func exrUnRLE(in []byte, expected int) ([]byte, error) {
	out := make([]byte, 0, expected)
	for i := 0; i < len(in); {
		n := int(int8(in[i]))
		i++
		if n < 0 {
			if i-n > len(in) {
				return nil, fmt.Errorf("exr: truncated rle run")
			}
			out = append(out, in[i:i-n]...)
			i -= n
			continue
		}
		if i >= len(in) {
			return nil, fmt.Errorf("exr: truncated rle run")
		}
		for k := 0; k <= n; k++ {
			out = append(out, in[i])
		}
		i++
	}
	if len(out) != expected {
		return nil, fmt.Errorf("exr: rle chunk has %d bytes, want %d", len(out), expected)
	}
	return out, nil
}

func exrPack(raw []byte) ([]byte, error) {
	n := len(raw)
	half := (n + 1) / 2
	packed := make([]byte, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			packed[i/2] = raw[i]
		} else {
			packed[half+i/2] = raw[i]
		}
	}
	prev := packed[0]
	for i := 1; i < n; i++ {
		cur := packed[i]
		packed[i] = cur - prev + 128
		prev = cur
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(packed); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeEXR writes ZIP-compressed scanline OpenEXR with FLOAT A, B, G and R
// channels.
func encodeEXR(w io.Writer, img image.Image, _ Options) error {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	src := raster.ToRGBA32F(img)

	// Channels are stored in name order.
	channels := []exrChannel{
		{name: "A", pixelType: exrFloat},
		{name: "B", pixelType: exrFloat},
		{name: "G", pixelType: exrFloat},
		{name: "R", pixelType: exrFloat},
	}

	var hdr bytes.Buffer
	hdr.WriteString(exrMagic)
	binary.Write(&hdr, binary.LittleEndian, uint32(exrVersion))

	var chlist bytes.Buffer
	for _, ch := range channels {
		chlist.WriteString(ch.name)
		chlist.WriteByte(0)
		binary.Write(&chlist, binary.LittleEndian, ch.pixelType)
		chlist.Write([]byte{0, 0, 0, 0})
		binary.Write(&chlist, binary.LittleEndian, [2]int32{1, 1})
	}
	chlist.WriteByte(0)

	window := [4]int32{0, 0, int32(width - 1), int32(height - 1)}
	writeEXRAttr(&hdr, "channels", "chlist", chlist.Bytes())
	writeEXRAttr(&hdr, "compression", "compression", []byte{exrCompressZIP})
	writeEXRAttr(&hdr, "dataWindow", "box2i", leBytes(window))
	writeEXRAttr(&hdr, "displayWindow", "box2i", leBytes(window))
	writeEXRAttr(&hdr, "lineOrder", "lineOrder", []byte{0})
	writeEXRAttr(&hdr, "pixelAspectRatio", "float", leBytes(float32(1)))
	writeEXRAttr(&hdr, "screenWindowCenter", "v2f", leBytes([2]float32{0, 0}))
	writeEXRAttr(&hdr, "screenWindowWidth", "float", leBytes(float32(1)))
	hdr.WriteByte(0)

	blocks := (height + exrZIPLines - 1) / exrZIPLines
	chunks := make([][]byte, blocks)
	for blk := range chunks {
		y0 := blk * exrZIPLines
		lines := min(exrZIPLines, height-y0)
		raw := make([]byte, 0, lines*width*16)
		for y := y0; y < y0+lines; y++ {
			for _, ch := range channels {
				for x := 0; x < width; x++ {
					f := src.FloatAt(b.Min.X+x, b.Min.Y+y)
					raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(floatChannel(f, ch.name)))
				}
			}
		}
		packed, err := exrPack(raw)
		if err != nil {
			return fmt.Errorf("encode exr: %w", err)
		}
		if len(packed) >= len(raw) {
			packed = raw
		}
		chunk := binary.LittleEndian.AppendUint32(nil, uint32(y0))
		chunk = binary.LittleEndian.AppendUint32(chunk, uint32(len(packed)))
		chunks[blk] = append(chunk, packed...)
	}

	offset := uint64(hdr.Len() + 8*blocks)
	for _, chunk := range chunks {
		binary.Write(&hdr, binary.LittleEndian, offset)
		offset += uint64(len(chunk))
	}
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return fmt.Errorf("encode exr: %w", err)
	}
	for _, chunk := range chunks {
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("encode exr: %w", err)
		}
	}
	return nil
}

func floatChannel(f raster.Float, name string) float32 {
	switch name {
	case "A":
		return f.A
	case "B":
		return f.B
	case "G":
		return f.G
	default:
		return f.R
	}
}

func writeEXRAttr(buf *bytes.Buffer, name, typ string, value []byte) {
	buf.WriteString(name)
	buf.WriteByte(0)
	buf.WriteString(typ)
	buf.WriteByte(0)
	binary.Write(buf, binary.LittleEndian, int32(len(value)))
	buf.Write(value)
}

func leBytes(v any) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}
