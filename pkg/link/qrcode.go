package link

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/meridianvpn/fleet/pkg/ferrors"
)

// This file is a minimal from-scratch QR Code (ISO/IEC 18004) encoder: byte
// mode only, versions 1-10, error correction levels L/M/Q/H. That range
// comfortably covers the ~100-200 byte connection links this package
// emits; nothing in the corpus carries a QR dependency, so there is no
// ecosystem library to wire here instead.

// ECCLevel is a QR error correction level.
type ECCLevel int

const (
	ECCLow ECCLevel = iota
	ECCMedium
	ECCQuartile
	ECCHigh
)

// eccBlockInfo holds, per (version, level), total codewords, ecc codewords
// per block, and block-group layout. Only versions 1-10 are populated;
// values taken from ISO/IEC 18004 Table 9.
type eccBlockInfo struct {
	totalCodewords int
	eccPerBlock    int
	group1Blocks   int
	group1Words    int
	group2Blocks   int
	group2Words    int
}

var eccTable = map[int]map[ECCLevel]eccBlockInfo{
	1:  {ECCLow: {26, 7, 1, 19, 0, 0}, ECCMedium: {26, 10, 1, 16, 0, 0}, ECCQuartile: {26, 13, 1, 13, 0, 0}, ECCHigh: {26, 17, 1, 9, 0, 0}},
	2:  {ECCLow: {44, 10, 1, 34, 0, 0}, ECCMedium: {44, 16, 1, 28, 0, 0}, ECCQuartile: {44, 22, 1, 22, 0, 0}, ECCHigh: {44, 28, 1, 16, 0, 0}},
	3:  {ECCLow: {70, 15, 1, 55, 0, 0}, ECCMedium: {70, 26, 1, 44, 0, 0}, ECCQuartile: {70, 18, 2, 17, 0, 0}, ECCHigh: {70, 22, 2, 13, 0, 0}},
	4:  {ECCLow: {100, 20, 1, 80, 0, 0}, ECCMedium: {100, 18, 2, 32, 0, 0}, ECCQuartile: {100, 26, 2, 24, 0, 0}, ECCHigh: {100, 16, 4, 9, 0, 0}},
	5:  {ECCLow: {134, 26, 1, 108, 0, 0}, ECCMedium: {134, 24, 2, 43, 0, 0}, ECCQuartile: {134, 18, 2, 15, 2, 16}, ECCHigh: {134, 22, 2, 11, 2, 12}},
	6:  {ECCLow: {172, 18, 2, 68, 0, 0}, ECCMedium: {172, 16, 4, 27, 0, 0}, ECCQuartile: {172, 24, 4, 19, 0, 0}, ECCHigh: {172, 28, 4, 15, 0, 0}},
	7:  {ECCLow: {196, 20, 2, 78, 0, 0}, ECCMedium: {196, 18, 4, 31, 0, 0}, ECCQuartile: {196, 18, 2, 14, 4, 15}, ECCHigh: {196, 26, 4, 13, 1, 14}},
	8:  {ECCLow: {242, 24, 2, 97, 0, 0}, ECCMedium: {242, 22, 2, 38, 2, 39}, ECCQuartile: {242, 22, 4, 18, 2, 19}, ECCHigh: {242, 26, 4, 14, 2, 15}},
	9:  {ECCLow: {292, 30, 2, 116, 0, 0}, ECCMedium: {292, 22, 3, 36, 2, 37}, ECCQuartile: {292, 20, 4, 16, 4, 17}, ECCHigh: {292, 24, 4, 12, 4, 13}},
	10: {ECCLow: {346, 18, 2, 68, 2, 69}, ECCMedium: {346, 26, 4, 43, 1, 44}, ECCQuartile: {346, 24, 6, 19, 2, 20}, ECCHigh: {346, 28, 6, 15, 2, 16}},
}

// capacityBytes returns how many raw data bytes (8-bit byte mode, including
// the mode/length header) version v at level lvl can hold.
func capacityBytes(v int, lvl ECCLevel) int {
	info := eccTable[v][lvl]
	dataWords := info.group1Blocks*info.group1Words + info.group2Blocks*info.group2Words
	return dataWords
}

// QRCodeForLink renders a connection link as a PNG QR code at medium error
// correction, 8 pixels per module.
func QRCodeForLink(connectionLink string) ([]byte, error) {
	return EncodePNG([]byte(connectionLink), ECCMedium, 8)
}

// EncodePNG renders data as a QR code PNG at the given pixel scale (pixels
// per module) with a 4-module quiet border, choosing the smallest version
// (1-10) and the requested error correction level that fits.
func EncodePNG(data []byte, lvl ECCLevel, scale int) ([]byte, error) {
	version := 0
	for v := 1; v <= 10; v++ {
		if capacityBytes(v, lvl)-2 >= len(data) { // -2 for mode+length header at this length range
			version = v
			break
		}
	}
	if version == 0 {
		return nil, fmt.Errorf("%w: payload too large for supported QR versions", ferrors.ErrLinkGeneration)
	}

	modules, size, err := buildMatrix(data, version, lvl)
	if err != nil {
		return nil, err
	}

	quiet := 4
	dim := (size + 2*quiet) * scale
	img := image.NewGray(image.Rect(0, 0, dim, dim))
	white := color.Gray{Y: 255}
	black := color.Gray{Y: 0}
	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			img.Set(x, y, white)
		}
	}
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			if !modules[r][c] {
				continue
			}
			px0, py0 := (c+quiet)*scale, (r+quiet)*scale
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					img.Set(px0+dx, py0+dy, black)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("link: encode qr png: %w", err)
	}
	return buf.Bytes(), nil
}

// buildMatrix assembles the full codeword stream (data + ECC, interleaved),
// places it into the module grid around the fixed patterns, and applies the
// best-scoring mask.
func buildMatrix(data []byte, version int, lvl ECCLevel) ([][]bool, int, error) {
	info := eccTable[version][lvl]
	totalDataWords := info.group1Blocks*info.group1Words + info.group2Blocks*info.group2Words

	payload := encodeByteModeSegment(data, totalDataWords)
	dataBlocks, eccBlocks := splitAndCorrect(payload, info)
	codewords := interleave(dataBlocks, eccBlocks, info)

	size := version*4 + 17
	modules := make([][]bool, size)
	reserved := make([][]bool, size)
	for i := range modules {
		modules[i] = make([]bool, size)
		reserved[i] = make([]bool, size)
	}

	placeFinder(modules, reserved, 0, 0)
	placeFinder(modules, reserved, 0, size-7)
	placeFinder(modules, reserved, size-7, 0)
	placeTiming(modules, reserved, size)
	placeAlignment(modules, reserved, version, size)
	reserveFormatAreas(reserved, size)
	if version >= 7 {
		reserveVersionAreas(reserved, size)
		// Version information: the 6-bit version plus its (18,6) BCH
		// remainder, in the 6x3 blocks beside the top-right and bottom-left
		// finders.
		rem := version
		for i := 0; i < 12; i++ {
			rem = (rem << 1) ^ ((rem >> 11) * 0x1F25)
		}
		vbits := version<<12 | rem
		for i := 0; i < 18; i++ {
			dark := (vbits>>uint(i))&1 == 1
			modules[i/3][size-11+i%3] = dark
			modules[size-11+i%3][i/3] = dark
		}
	}
	// Dark module, always set.
	modules[size-8][8] = true
	reserved[size-8][8] = true

	placeData(modules, reserved, codewords, size)

	best := -1
	var bestModules [][]bool
	for mask := 0; mask < 8; mask++ {
		candidate := applyMask(modules, reserved, size, mask)
		drawFormat(candidate, size, lvl, mask)
		score := penaltyScore(candidate, size)
		if best == -1 || score < best {
			best = score
			bestModules = candidate
		}
	}

	return bestModules, size, nil
}

func encodeByteModeSegment(data []byte, totalDataWords int) []byte {
	bits := newBitWriter()
	bits.writeBits(0b0100, 4) // byte mode indicator
	lenBits := 8
	if totalDataWords > 255 {
		lenBits = 16
	}
	bits.writeBits(uint32(len(data)), lenBits)
	for _, b := range data {
		bits.writeBits(uint32(b), 8)
	}
	// Terminator.
	remaining := totalDataWords*8 - bits.lenBits()
	if remaining > 4 {
		remaining = 4
	}
	if remaining > 0 {
		bits.writeBits(0, remaining)
	}
	bits.padToByte()

	pad := []byte{0xEC, 0x11}
	i := 0
	for bits.lenBits()/8 < totalDataWords {
		bits.writeBits(uint32(pad[i%2]), 8)
		i++
	}
	return bits.bytes()
}

type bitWriter struct {
	buf  []byte
	bits int
}

func newBitWriter() *bitWriter { return &bitWriter{} }

func (w *bitWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		bit := (v >> uint(i)) & 1
		byteIdx := w.bits / 8
		for byteIdx >= len(w.buf) {
			w.buf = append(w.buf, 0)
		}
		if bit == 1 {
			w.buf[byteIdx] |= 1 << uint(7-w.bits%8)
		}
		w.bits++
	}
}

func (w *bitWriter) padToByte() {
	for w.bits%8 != 0 {
		w.writeBits(0, 1)
	}
}

func (w *bitWriter) lenBits() int { return w.bits }
func (w *bitWriter) bytes() []byte { return w.buf }
