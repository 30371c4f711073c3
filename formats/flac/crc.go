// SPDX-License-Identifier: EPL-2.0

package flac

var (
	crc8Table  [256]byte
	crc16Table [256]uint16
)

func init() {
	for i := range 256 {
		c8 := byte(i)
		c16 := uint16(i) << 8
		for range 8 {
			if c8&0x80 != 0 {
				c8 = c8<<1 ^ 0x07
			} else {
				c8 <<= 1
			}
			if c16&0x8000 != 0 {
				c16 = c16<<1 ^ 0x8005
			} else {
				c16 <<= 1
			}
		}
		crc8Table[i] = c8
		crc16Table[i] = c16
	}
}

func crc8(b []byte) byte {
	var crc byte
	for _, v := range b {
		crc = crc8Table[crc^v]
	}
	return crc
}

func crc16(b []byte) uint16 {
	var crc uint16
	for _, v := range b {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^v]
	}
	return crc
}
