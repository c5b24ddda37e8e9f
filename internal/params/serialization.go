package params

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/cespare/xxhash/v2"
	"gorgonia.org/tensor"
)

// State dict file layout (little endian):
//
//	magic   [4]byte  "DYNN"
//	version uint16
//	count   uint32
//	per parameter:
//	    nameLen uint16, name []byte
//	    rank    uint8,  dims []uint32
//	    data    []float32
//	checksum uint64   xxhash64 of everything before it
//
// The checksum covers the full payload so that a truncated or bit-flipped
// checkpoint fails loudly instead of silently corrupting a model.

var stateMagic = [4]byte{'D', 'Y', 'N', 'N'}

const stateVersion uint16 = 1

// Save writes the full collection to path as a checksummed state dict.
func (c *Collection) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("params: create %s: %w", path, err)
	}
	defer f.Close()

	hash := xxhash.New()
	w := io.MultiWriter(f, hash)

	if _, err := w.Write(stateMagic[:]); err != nil {
		return fmt.Errorf("params: write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, stateVersion); err != nil {
		return fmt.Errorf("params: write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(c.params))); err != nil {
		return fmt.Errorf("params: write header: %w", err)
	}

	for _, p := range c.params {
		if err := writeParam(w, p); err != nil {
			return fmt.Errorf("params: write %q: %w", p.name, err)
		}
	}

	if err := binary.Write(f, binary.LittleEndian, hash.Sum64()); err != nil {
		return fmt.Errorf("params: write checksum: %w", err)
	}
	return nil
}

func writeParam(w io.Writer, p *Parameter) error {
	name := []byte(p.name)
	if len(name) > math.MaxUint16 {
		return fmt.Errorf("name too long (%d bytes)", len(name))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(name))); err != nil {
		return err
	}
	if _, err := w.Write(name); err != nil {
		return err
	}
	shape := p.value.Shape()
	if err := binary.Write(w, binary.LittleEndian, uint8(len(shape))); err != nil {
		return err
	}
	for _, d := range shape {
		if err := binary.Write(w, binary.LittleEndian, uint32(d)); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, p.Data())
}

// Load populates the collection's existing parameters from a state dict
// previously written by Save.
//
// The collection must already hold parameters of the same names and shapes:
// loading does not create parameters, it fills them (a model is always
// reconstructed with the same architecture before reloading weights).
func (c *Collection) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("params: read %s: %w", path, err)
	}
	if len(raw) < len(stateMagic)+2+4+8 {
		return fmt.Errorf("params: %s: file too short", path)
	}

	payload, sumBytes := raw[:len(raw)-8], raw[len(raw)-8:]
	want := binary.LittleEndian.Uint64(sumBytes)
	if got := xxhash.Sum64(payload); got != want {
		return fmt.Errorf("params: %s: checksum mismatch (file %x, computed %x)", path, want, got)
	}

	r := bytes.NewReader(payload)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != stateMagic {
		return fmt.Errorf("params: %s: not a DyNN state dict", path)
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("params: %s: read version: %w", path, err)
	}
	if version != stateVersion {
		return fmt.Errorf("params: %s: unsupported version %d", path, version)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("params: %s: read count: %w", path, err)
	}
	if int(count) != len(c.params) {
		return fmt.Errorf("params: %s holds %d parameters, collection has %d", path, count, len(c.params))
	}

	for i := 0; i < int(count); i++ {
		if err := c.readParam(r); err != nil {
			return fmt.Errorf("params: %s: %w", path, err)
		}
	}
	return nil
}

func (c *Collection) readParam(r *bytes.Reader) error {
	var nameLen uint16
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return fmt.Errorf("read name length: %w", err)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return fmt.Errorf("read name: %w", err)
	}
	var rank uint8
	if err := binary.Read(r, binary.LittleEndian, &rank); err != nil {
		return fmt.Errorf("read rank for %q: %w", name, err)
	}
	shape := make(tensor.Shape, rank)
	for i := range shape {
		var d uint32
		if err := binary.Read(r, binary.LittleEndian, &d); err != nil {
			return fmt.Errorf("read shape for %q: %w", name, err)
		}
		shape[i] = int(d)
	}

	p, ok := c.byName[string(name)]
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}
	if !p.value.Shape().Eq(shape) {
		return fmt.Errorf("parameter %q has shape %v, file holds %v", name, p.value.Shape(), shape)
	}
	return binary.Read(r, binary.LittleEndian, p.Data())
}
