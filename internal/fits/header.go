// Package fits reads and writes the primary HDU of a FITS file: an
// ordered list of 80-column header cards followed by a 2-D image.
//
// Only what the frame pipeline needs is supported: fixed-format
// string, logical, integer and real values, and BITPIX 8, 16, 32, -32
// and -64 images. Extensions, tables and CONTINUE cards are ignored.
package fits

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Card is one header record.
type Card struct {
	Key     string
	Value   any // string, bool, int64 or float64
	Comment string
}

// Header is an ordered set of cards keyed by keyword. The zero value
// is an empty header ready to use.
type Header struct {
	cards []Card
}

// structural keywords are owned by Encode and never stored in a Header.
var structural = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true,
	"NAXIS2": true, "EXTEND": true, "END": true, "BZERO": true, "BSCALE": true,
}

// Set adds key or replaces its value in place, keeping card order.
func (h *Header) Set(key string, value any, comment ...string) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" || structural[key] {
		return
	}
	c := Card{Key: key, Value: normalise(value)}
	if len(comment) > 0 {
		c.Comment = comment[0]
	}
	for i := range h.cards {
		if h.cards[i].Key == key {
			if c.Comment == "" {
				c.Comment = h.cards[i].Comment
			}
			h.cards[i] = c
			return
		}
	}
	h.cards = append(h.cards, c)
}

func normalise(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case uint:
		return int64(x)
	default:
		return v
	}
}

// Get returns the raw value stored under key.
func (h Header) Get(key string) (any, bool) {
	key = strings.ToUpper(key)
	for _, c := range h.cards {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (h Header) Has(key string) bool {
	_, ok := h.Get(key)
	return ok
}

// Float returns a numeric value as float64.
func (h Header) Float(key string) (float64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// String returns a string value.
func (h Header) String(key string) (string, bool) {
	v, ok := h.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Len returns the number of cards.
func (h Header) Len() int { return len(h.cards) }

// Cards returns a copy of the cards in order.
func (h Header) Cards() []Card {
	out := make([]Card, len(h.cards))
	copy(out, h.cards)
	return out
}

// Clone returns an independent copy.
func (h Header) Clone() Header {
	return Header{cards: h.Cards()}
}

// Map returns the header as a keyword→value map, for JSON output.
func (h Header) Map() map[string]any {
	m := make(map[string]any, len(h.cards))
	for _, c := range h.cards {
		m[c.Key] = c.Value
	}
	return m
}

// Keys returns the keywords sorted alphabetically.
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h.cards))
	for _, c := range h.cards {
		keys = append(keys, c.Key)
	}
	sort.Strings(keys)
	return keys
}

// formatCard renders c as an 80-byte fixed-format record.
func formatCard(c Card) (string, error) {
	if len(c.Key) > 8 {
		return "", fmt.Errorf("keyword %q longer than 8 characters", c.Key)
	}
	var val string
	switch x := c.Value.(type) {
	case string:
		q := "'" + strings.ReplaceAll(x, "'", "''")
		for len(q) < 9 {
			q += " "
		}
		val = q + "'"
		val = fmt.Sprintf("%-20s", val)
	case bool:
		b := "F"
		if x {
			b = "T"
		}
		val = fmt.Sprintf("%20s", b)
	case int64:
		val = fmt.Sprintf("%20d", x)
	case float64:
		s := strings.ToUpper(strconv.FormatFloat(x, 'G', -1, 64))
		if !strings.ContainsAny(s, ".EN") {
			s += ".0" // keep reals distinguishable from integers
		}
		val = fmt.Sprintf("%20s", s)
	case nil:
		val = strings.Repeat(" ", 20)
	default:
		return "", fmt.Errorf("keyword %s: unsupported value type %T", c.Key, c.Value)
	}
	card := fmt.Sprintf("%-8s= %s", c.Key, val)
	if c.Comment != "" {
		card += " / " + c.Comment
	}
	if len(card) > cardSize {
		card = card[:cardSize]
	}
	return fmt.Sprintf("%-80s", card), nil
}

// parseCard decodes one 80-byte record. ok is false for cards without a
// value indicator (COMMENT, HISTORY, blank).
func parseCard(rec string) (c Card, ok bool, err error) {
	key := strings.TrimSpace(rec[:8])
	if len(rec) < 10 || rec[8:10] != "= " {
		return Card{Key: key}, false, nil
	}
	body := rec[10:]
	trimmed := strings.TrimLeft(body, " ")
	c.Key = key
	if strings.HasPrefix(trimmed, "'") {
		var sb strings.Builder
		i := 1
		for ; i < len(trimmed); i++ {
			if trimmed[i] == '\'' {
				if i+1 < len(trimmed) && trimmed[i+1] == '\'' {
					sb.WriteByte('\'')
					i++
					continue
				}
				break
			}
			sb.WriteByte(trimmed[i])
		}
		if i >= len(trimmed) {
			return c, false, fmt.Errorf("keyword %s: unterminated string", key)
		}
		c.Value = strings.TrimRight(sb.String(), " ")
		if rest := trimmed[i+1:]; strings.Contains(rest, "/") {
			c.Comment = strings.TrimSpace(rest[strings.Index(rest, "/")+1:])
		}
		return c, true, nil
	}
	raw := trimmed
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		raw = trimmed[:idx]
		c.Comment = strings.TrimSpace(trimmed[idx+1:])
	}
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		c.Value = nil
	case raw == "T":
		c.Value = true
	case raw == "F":
		c.Value = false
	default:
		if n, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			c.Value = n
			break
		}
		f, perr := strconv.ParseFloat(strings.ReplaceAll(raw, "D", "E"), 64)
		if perr != nil {
			return c, false, fmt.Errorf("keyword %s: cannot parse value %q", key, raw)
		}
		c.Value = f
	}
	return c, true, nil
}
