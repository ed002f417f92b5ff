package network

import (
	"compress/gzip"
	"encoding/gob"
	"io"
	"os"

	"github.com/pkg/errors"
)

const checkpointVersion = 1

// Save writes the architecture and parameters of n as a gzip compressed gob
// stream.
func (n *Network) Save(w io.Writer) error {
	compressor := gzip.NewWriter(w)
	encoder := gob.NewEncoder(compressor)

	if err := encoder.Encode(checkpointVersion); err != nil {
		return errors.Wrap(err, "encode checkpoint version")
	}
	if err := encoder.Encode(n.arch); err != nil {
		return errors.Wrap(err, "encode architecture")
	}
	for _, p := range n.Params() {
		if err := encoder.Encode(p.Data); err != nil {
			return errors.Wrapf(err, "encode %s", p.Name)
		}
	}

	return compressor.Close()
}

// Load reads a network written by Save.
func Load(r io.Reader) (*Network, error) {
	decompressor, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "open decompressor")
	}
	defer decompressor.Close()
	decoder := gob.NewDecoder(decompressor)

	var version int
	if err := decoder.Decode(&version); err != nil {
		return nil, errors.Wrap(err, "decode checkpoint version")
	}
	if version != checkpointVersion {
		return nil, errors.Errorf("unsupported checkpoint version %d", version)
	}

	var arch Architecture
	if err := decoder.Decode(&arch); err != nil {
		return nil, errors.Wrap(err, "decode architecture")
	}

	n, err := build(arch)
	if err != nil {
		return nil, err
	}

	for _, p := range n.Params() {
		var data []float64
		if err := decoder.Decode(&data); err != nil {
			return nil, errors.Wrapf(err, "decode %s", p.Name)
		}
		if len(data) != len(p.Data) {
			return nil, errors.Errorf("%s has %d values, architecture needs %d", p.Name, len(data), len(p.Data))
		}
		copy(p.Data, data)
	}

	return n, nil
}

// SaveFile writes a checkpoint to path.
func (n *Network) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := n.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads a checkpoint from path.
func LoadFile(path string) (*Network, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
