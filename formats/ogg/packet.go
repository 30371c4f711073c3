// SPDX-License-Identifier: EPL-2.0

package ogg

// Packet is a complete logical packet. Granule is the page granule position
// when the packet is the last one finishing on its page, otherwise -1.
type Packet struct {
	Data    []byte
	Granule int64
}

// Assembler joins page segments into packets for one logical stream. Pages
// of other streams are ignored once the serial is known.
type Assembler struct {
	serial  uint32
	bound   bool
	partial []byte
	lost    bool // a page was skipped; discard the next continuation
	lastSeq uint32
}

// NewAssembler follows the stream with the given serial. Use Bind to adopt
// the first page's serial instead.
func NewAssembler(serial uint32) *Assembler {
	return &Assembler{serial: serial, bound: true}
}

// Bind makes a zero Assembler adopt the serial of the first page it sees.
func (a *Assembler) Bind(serial uint32) {
	a.serial, a.bound = serial, true
}

func (a *Assembler) Serial() uint32 { return a.serial }

// Reset discards any partial packet. After a seek the first continued
// packet fragment is dropped.
func (a *Assembler) Reset() {
	a.partial = a.partial[:0]
	a.lost = true
}

// Push feeds a page and returns the packets completed on it.
func (a *Assembler) Push(p Page) []Packet {
	if !a.bound {
		a.Bind(p.Serial)
	}
	if p.Serial != a.serial {
		return nil
	}
	if len(a.partial) > 0 && p.Seq != a.lastSeq+1 {
		// Page loss breaks the packet that spans it.
		a.partial = a.partial[:0]
		a.lost = true
	}
	a.lastSeq = p.Seq

	skip := a.lost && p.Continued() && len(a.partial) == 0
	a.lost = false
	if !p.Continued() {
		a.partial = a.partial[:0]
	}

	var out []Packet
	pos := 0
	lastEnd := -1
	for i, l := range p.Lacing {
		if l < 255 {
			lastEnd = i
		}
	}
	for i, l := range p.Lacing {
		seg := p.Body[pos : pos+int(l)]
		pos += int(l)
		if skip {
			if l < 255 {
				skip = false
			}
			continue
		}
		a.partial = append(a.partial, seg...)
		if l < 255 {
			g := int64(-1)
			if i == lastEnd {
				g = p.Granule
			}
			data := make([]byte, len(a.partial))
			copy(data, a.partial)
			out = append(out, Packet{Data: data, Granule: g})
			a.partial = a.partial[:0]
		}
	}
	return out
}
