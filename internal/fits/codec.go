package fits

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

const (
	blockSize = 2880
	cardSize  = 80
)

// ErrNotFITS is returned when the stream does not start with SIMPLE = T.
var ErrNotFITS = errors.New("fits: not a FITS primary header")

// Image is a row-major 2-D pixel array; Pixels[y*Width+x].
type Image struct {
	Width  int
	Height int
	Pixels []float64
}

// At returns the pixel at column x, row y.
func (im Image) At(x, y int) float64 { return im.Pixels[y*im.Width+x] }

// Validate checks the pixel slice matches the declared dimensions.
func (im Image) Validate() error {
	if im.Width <= 0 || im.Height <= 0 {
		return fmt.Errorf("fits: invalid image dimensions %dx%d", im.Width, im.Height)
	}
	if len(im.Pixels) != im.Width*im.Height {
		return fmt.Errorf("fits: %d pixels for %dx%d image", len(im.Pixels), im.Width, im.Height)
	}
	return nil
}

// Encode writes h and img as a FITS primary HDU with BITPIX -32.
func Encode(w io.Writer, h Header, img Image) error {
	if err := img.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)

	cards := []Card{
		{Key: "SIMPLE", Value: true, Comment: "conforms to FITS standard"},
		{Key: "BITPIX", Value: int64(-32), Comment: "IEEE single precision"},
		{Key: "NAXIS", Value: int64(2)},
		{Key: "NAXIS1", Value: int64(img.Width)},
		{Key: "NAXIS2", Value: int64(img.Height)},
	}
	cards = append(cards, h.cards...)

	written := 0
	for _, c := range cards {
		rec, err := formatCard(c)
		if err != nil {
			return err
		}
		if _, err := bw.WriteString(rec); err != nil {
			return err
		}
		written += cardSize
	}
	if _, err := bw.WriteString(fmt.Sprintf("%-80s", "END")); err != nil {
		return err
	}
	written += cardSize
	if err := pad(bw, written, ' '); err != nil {
		return err
	}

	buf := make([]byte, 4)
	for _, p := range img.Pixels {
		binary.BigEndian.PutUint32(buf, math.Float32bits(float32(p)))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	if err := pad(bw, len(img.Pixels)*4, 0); err != nil {
		return err
	}
	return bw.Flush()
}

func pad(w *bufio.Writer, n int, b byte) error {
	rem := n % blockSize
	if rem == 0 {
		return nil
	}
	_, err := w.Write([]byte(strings.Repeat(string(b), blockSize-rem)))
	return err
}

// Decode reads a FITS primary HDU.
func Decode(r io.Reader) (Header, Image, error) {
	var (
		h      Header
		bitpix int64
		naxis  = map[string]int64{}
		bzero  float64
		bscale = 1.0
		ended  bool
		first  = true
	)
	block := make([]byte, blockSize)
	for !ended {
		if _, err := io.ReadFull(r, block); err != nil {
			if first {
				return h, Image{}, ErrNotFITS
			}
			return h, Image{}, fmt.Errorf("fits: truncated header: %w", err)
		}
		for off := 0; off < blockSize; off += cardSize {
			rec := string(block[off : off+cardSize])
			if first {
				first = false
				c, ok, err := parseCard(rec)
				if err != nil || !ok || c.Key != "SIMPLE" || c.Value != true {
					return h, Image{}, ErrNotFITS
				}
				continue
			}
			if strings.TrimSpace(rec[:8]) == "END" {
				ended = true
				break
			}
			c, ok, err := parseCard(rec)
			if err != nil {
				return h, Image{}, err
			}
			if !ok {
				continue
			}
			switch {
			case c.Key == "BITPIX":
				bitpix, _ = c.Value.(int64)
			case strings.HasPrefix(c.Key, "NAXIS"):
				n, _ := c.Value.(int64)
				naxis[c.Key] = n
			case c.Key == "BZERO":
				bzero, _ = Header{cards: []Card{c}}.Float("BZERO")
			case c.Key == "BSCALE":
				bscale, _ = Header{cards: []Card{c}}.Float("BSCALE")
			case structural[c.Key]:
			default:
				h.cards = append(h.cards, c)
			}
		}
	}

	if naxis["NAXIS"] != 2 {
		return h, Image{}, fmt.Errorf("fits: expected 2-D image, NAXIS=%d", naxis["NAXIS"])
	}
	img := Image{Width: int(naxis["NAXIS1"]), Height: int(naxis["NAXIS2"])}
	if img.Width <= 0 || img.Height <= 0 {
		return h, Image{}, fmt.Errorf("fits: invalid image dimensions %dx%d", img.Width, img.Height)
	}

	var size int
	switch bitpix {
	case 8:
		size = 1
	case 16:
		size = 2
	case 32, -32:
		size = 4
	case -64:
		size = 8
	default:
		return h, Image{}, fmt.Errorf("fits: unsupported BITPIX %d", bitpix)
	}

	n := img.Width * img.Height
	data := make([]byte, n*size)
	if _, err := io.ReadFull(r, data); err != nil {
		return h, Image{}, fmt.Errorf("fits: truncated data: %w", err)
	}
	img.Pixels = make([]float64, n)
	for i := 0; i < n; i++ {
		b := data[i*size : (i+1)*size]
		var v float64
		switch bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(binary.BigEndian.Uint16(b)))
		case 32:
			v = float64(int32(binary.BigEndian.Uint32(b)))
		case -32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
		case -64:
			v = math.Float64frombits(binary.BigEndian.Uint64(b))
		}
		img.Pixels[i] = bzero + bscale*v
	}
	return h, img, nil
}
