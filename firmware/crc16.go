package firmware

// Nibble lookup table for the reflected 0xA001 polynomial (CRC-16/MODBUS).
// The Optiboot/MYSBootloader node side computes the same checksum over the
// flashed image before booting it.
var crcTable = [16]uint16{
	0x0000, 0xCC01, 0xD801, 0x1400, 0xF001, 0x3C00, 0x2800, 0xE401,
	0xA001, 0x6C00, 0x7800, 0xB401, 0x5000, 0x9C01, 0x8801, 0x4400,
}

// Crc16 computes the checksum of data with init 0xFFFF, processing four
// bits at a time.
func Crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc>>4 ^ crcTable[crc&0x0F] ^ crcTable[b&0x0F]
		crc = crc>>4 ^ crcTable[crc&0x0F] ^ crcTable[b>>4]
	}
	return crc
}
