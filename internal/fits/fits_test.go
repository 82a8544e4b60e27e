package fits

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeader_SetKeepsOrderAndReplaces(t *testing.T) {
	var h Header
	h.Set("date", "2025-07-03T12:00:00")
	h.Set("EXPTIME", 30.0, "seconds")
	h.Set("TELESCOP", "DummyScope")
	h.Set("EXPTIME", 45)

	require.Equal(t, 3, h.Len())
	cards := h.Cards()
	assert.Equal(t, "DATE", cards[0].Key)
	assert.Equal(t, "EXPTIME", cards[1].Key)
	assert.Equal(t, int64(45), cards[1].Value)
	assert.Equal(t, "seconds", cards[1].Comment, "comment survives replacement")

	exp, ok := h.Float("EXPTIME")
	require.True(t, ok)
	assert.Equal(t, 45.0, exp)

	_, ok = h.Float("TELESCOP")
	assert.False(t, ok)
}

func TestHeader_IgnoresStructuralKeys(t *testing.T) {
	var h Header
	h.Set("NAXIS1", 10)
	h.Set("BITPIX", 16)
	assert.Equal(t, 0, h.Len())
}

func TestHeader_CloneIsIndependent(t *testing.T) {
	var h Header
	h.Set("A", 1)
	c := h.Clone()
	c.Set("A", 2)
	c.Set("B", true)

	v, _ := h.Get("A")
	assert.Equal(t, int64(1), v)
	assert.False(t, h.Has("B"))
}

func TestEncodeDecode(t *testing.T) {
	var h Header
	h.Set("DATE", "2025-07-03T12:00:00")
	h.Set("EXPTIME", 30.0)
	h.Set("OBSERVER", "O'Brien")
	h.Set("CALIB", true)
	h.Set("CDELT1", -0.0001)

	img := Image{Width: 3, Height: 2, Pixels: []float64{1, 2, 3, 4.5, -5, 1000}}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, h, img))
	assert.Equal(t, 0, buf.Len()%blockSize, "output must be whole FITS blocks")

	gotH, gotImg, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, img.Width, gotImg.Width)
	assert.Equal(t, img.Height, gotImg.Height)
	assert.InDeltaSlice(t, img.Pixels, gotImg.Pixels, 1e-4)
	assert.Equal(t, 4.5, gotImg.At(0, 1))

	s, _ := gotH.String("OBSERVER")
	assert.Equal(t, "O'Brien", s)
	cal, _ := gotH.Get("CALIB")
	assert.Equal(t, true, cal)
	cd, _ := gotH.Float("CDELT1")
	assert.InDelta(t, -0.0001, cd, 1e-12)
	assert.False(t, gotH.Has("NAXIS1"), "structural keys are not exposed")
}

func TestDecode_NotFITS(t *testing.T) {
	_, _, err := Decode(strings.NewReader("hello"))
	assert.ErrorIs(t, err, ErrNotFITS)

	_, _, err = Decode(strings.NewReader(strings.Repeat("X", blockSize)))
	assert.ErrorIs(t, err, ErrNotFITS)
}

func TestEncode_RejectsBadImage(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, Header{}, Image{Width: 2, Height: 2, Pixels: []float64{1}})
	assert.Error(t, err)
}

func TestFormatCard_RealKeepsDecimalPoint(t *testing.T) {
	rec, err := formatCard(Card{Key: "EXPTIME", Value: 30.0})
	require.NoError(t, err)
	require.Len(t, rec, cardSize)

	c, ok, err := parseCard(rec)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30.0, c.Value)
}
