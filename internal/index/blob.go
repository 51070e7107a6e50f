package index

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	werrors "github.com/Aman-CERP/annworker/internal/errors"
	"github.com/Aman-CERP/annworker/pkg/version"
)

var blobMagic = [4]byte{'A', 'N', 'N', 'W'}

const blobVersion = version.IndexFormat

// maxHeaderSize bounds the gob header before it is decoded.
const maxHeaderSize = 256 << 20

// blobHeader precedes the exported graph.
type blobHeader struct {
	Capacity  int
	Dimension int
	Params    BuildParams
	Labels    []string
}

// EncodeBlob serializes g as magic, version, header length, gob header,
// then the HNSW export.
func EncodeBlob(g *Graph) ([]byte, error) {
	var header bytes.Buffer
	if err := gob.NewEncoder(&header).Encode(blobHeader{
		Capacity:  g.capacity,
		Dimension: Dimension,
		Params:    g.params,
		Labels:    g.labels,
	}); err != nil {
		return nil, fmt.Errorf("encode index header: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(blobMagic[:])
	_ = binary.Write(&buf, binary.LittleEndian, blobVersion)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(header.Len()))
	buf.Write(header.Bytes())

	if err := g.hnsw.Export(&buf); err != nil {
		return nil, fmt.Errorf("export graph: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBlob rebuilds a graph from EncodeBlob output. A positive capacity
// sizes the new graph and rejects blobs holding more records than that;
// otherwise the stored capacity is used.
func DecodeBlob(data []byte, capacity int) (g *Graph, err error) {
	defer func() {
		if p := recover(); p != nil {
			g, err = nil, corrupt(fmt.Sprintf("graph import panicked: %v", p))
		}
	}()

	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != blobMagic {
		return nil, corrupt("not an index file")
	}

	var format uint16
	if err := binary.Read(r, binary.LittleEndian, &format); err != nil {
		return nil, corrupt("truncated version")
	}
	if format != blobVersion {
		return nil, corrupt(fmt.Sprintf("unsupported index version %d", format))
	}

	var headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, corrupt("truncated header length")
	}
	if headerLen == 0 || headerLen > maxHeaderSize || int64(headerLen) > int64(r.Len()) {
		return nil, corrupt("header length out of range")
	}

	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, corrupt("truncated header")
	}
	var h blobHeader
	if err := gob.NewDecoder(bytes.NewReader(headerBytes)).Decode(&h); err != nil {
		return nil, werrors.New(werrors.ErrCodeCorruptIndex, "failed to decode index header", err)
	}

	if h.Dimension != Dimension {
		return nil, corrupt(fmt.Sprintf("index dimension %d, expected %d", h.Dimension, Dimension))
	}
	if capacity <= 0 {
		capacity = h.Capacity
	}
	if capacity <= 0 || len(h.Labels) > capacity {
		return nil, corrupt(fmt.Sprintf("index holds %d records, capacity %d", len(h.Labels), capacity))
	}

	g = NewGraph(capacity, h.Params)
	if err := g.hnsw.Import(r); err != nil {
		return nil, werrors.New(werrors.ErrCodeCorruptIndex, "failed to import graph", err)
	}
	if g.hnsw.Len() != len(h.Labels) {
		return nil, corrupt(fmt.Sprintf("graph has %d nodes but %d labels", g.hnsw.Len(), len(h.Labels)))
	}
	g.labels = h.Labels
	if g.labels == nil {
		g.labels = make([]string, 0)
	}
	return g, nil
}

func corrupt(msg string) error {
	return werrors.New(werrors.ErrCodeCorruptIndex, msg, nil)
}
