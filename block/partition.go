package block

import (
	"encoding/binary"

	"kcore/errors"
)

// mbrSignature is the two-byte boot signature at offset 510 of a valid
// MBR sector.
var mbrSignature = [2]byte{0x55, 0xAA}

// Partition describes one MBR partition table entry.
type Partition struct {
	Index      int
	Bootable   bool
	Type       byte
	StartLBA   uint32
	SectorCount uint32
}

// ScanMBR reads device's first sector and parses its MBR partition
// table, the conventional four-entry layout at offset 446. It returns
// errors.Invalid if the boot signature is missing, matching the kernel's
// refusal to treat an unsigned sector as a partition table.
func ScanMBR(dev Device) ([]Partition, error) {
	sector := make([]byte, dev.BlockSize())
	if err := dev.ReadBlocks(0, 1, sector); err != nil {
		return nil, errors.Wrap(err, errors.Io, "block", "scan_mbr")
	}
	if len(sector) < 512 || sector[510] != mbrSignature[0] || sector[511] != mbrSignature[1] {
		return nil, errors.New(errors.Invalid, "block", "scan_mbr", "missing MBR boot signature")
	}

	var partitions []Partition
	for i := 0; i < 4; i++ {
		entry := sector[446+i*16 : 446+i*16+16]
		partType := entry[4]
		if partType == 0 {
			continue
		}
		partitions = append(partitions, Partition{
			Index:       i,
			Bootable:    entry[0] == 0x80,
			Type:        partType,
			StartLBA:    binary.LittleEndian.Uint32(entry[8:12]),
			SectorCount: binary.LittleEndian.Uint32(entry[12:16]),
		})
	}
	return partitions, nil
}

// partitionDevice is a Device view over a slice of an underlying
// device's LBA range, backing one MBR partition as its own block
// device for registration under its own devfs name.
type partitionDevice struct {
	parent Device
	offset uint64
	count  uint64
}

// NewPartitionDevice wraps part as an independent Device addressed from
// its own LBA 0.
func NewPartitionDevice(parent Device, part Partition) Device {
	return &partitionDevice{parent: parent, offset: uint64(part.StartLBA), count: uint64(part.SectorCount)}
}

func (p *partitionDevice) translate(lba uint64, count uint32) (uint64, error) {
	if lba+uint64(count) > p.count {
		return 0, errors.New(errors.Invalid, "block", "translate", "access beyond partition bounds")
	}
	return p.offset + lba, nil
}

func (p *partitionDevice) ReadBlocks(lba uint64, count uint32, buf []byte) error {
	base, err := p.translate(lba, count)
	if err != nil {
		return err
	}
	return p.parent.ReadBlocks(base, count, buf)
}

func (p *partitionDevice) WriteBlocks(lba uint64, count uint32, buf []byte) error {
	base, err := p.translate(lba, count)
	if err != nil {
		return err
	}
	return p.parent.WriteBlocks(base, count, buf)
}

func (p *partitionDevice) Flush() error          { return p.parent.Flush() }
func (p *partitionDevice) BlockSize() uint32     { return p.parent.BlockSize() }
func (p *partitionDevice) BlockCount() uint64    { return p.count }
