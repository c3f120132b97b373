package core

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/golang/snappy"

	"github.com/signalsfoundry/pipenet-simulator/model"
)

// hydRecord is the hydraulic state in force from Time for Step seconds.
type hydRecord struct {
	Time    int64
	Step    int64
	Demand  []float64
	Head    []float64
	Flow    []float64
	Status  []model.LinkStatus
	Setting []float64
}

// snapshot copies the current hydraulic state.
func (h *hydraulics) snapshot(t int64) *hydRecord {
	return &hydRecord{
		Time:    t,
		Demand:  append([]float64(nil), h.demand...),
		Head:    append([]float64(nil), h.head...),
		Flow:    append([]float64(nil), h.flow...),
		Status:  append([]model.LinkStatus(nil), h.status...),
		Setting: append([]float64(nil), h.setting...),
	}
}

// restore loads a saved record into the hydraulic state.
func (h *hydraulics) restore(r *hydRecord) {
	copy(h.demand, r.Demand)
	copy(h.head, r.Head)
	copy(h.flow, r.Flow)
	copy(h.status, r.Status)
	copy(h.setting, r.Setting)
}

var hydFileMagic = [4]byte{'P', 'N', 'H', 'F'}

const hydFileVersion uint32 = 1

// writeHydFile writes records to path. Format:
//
//	header: [Magic:4][Version:4][Nodes:4][Links:4]
//	record: [Seq:8][DataLen:4][Data:N][Checksum:4]
//
// Data is the snappy-compressed record and the checksum is the CRC-32 of
// the compressed bytes.
func writeHydFile(path string, nodes, links int, recs []*hydRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return errorf(ErrHydFileOpen.Code, "%v", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeHydRecords(w, nodes, links, recs); err != nil {
		return errorf(ErrHydFileWrite.Code, "%v", err)
	}
	if err := w.Flush(); err != nil {
		return errorf(ErrHydFileWrite.Code, "flush: %v", err)
	}
	if err := f.Sync(); err != nil {
		return errorf(ErrHydFileWrite.Code, "sync: %v", err)
	}
	return nil
}

func writeHydRecords(w io.Writer, nodes, links int, recs []*hydRecord) error {
	if _, err := w.Write(hydFileMagic[:]); err != nil {
		return err
	}
	for _, v := range []uint32{hydFileVersion, uint32(nodes), uint32(links)} {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return err
		}
	}
	for seq, r := range recs {
		data := snappy.Encode(nil, encodeRecord(r))
		if err := binary.Write(w, binary.BigEndian, uint64(seq)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, crc32.ChecksumIEEE(data)); err != nil {
			return err
		}
	}
	return nil
}

// readHydFile reads all records from path, checking that they were saved
// for a network of the same size.
func readHydFile(path string, nodes, links int) ([]*hydRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errorf(ErrHydFileOpen.Code, "%v", err)
	}
	defer f.Close()
	return readHydRecords(bufio.NewReader(f), nodes, links)
}

func readHydRecords(r io.Reader, nodes, links int) ([]*hydRecord, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, errorf(ErrHydFileRead.Code, "header: %v", err)
	}
	var hdr [3]uint32
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return nil, errorf(ErrHydFileRead.Code, "header: %v", err)
	}
	if magic != hydFileMagic || hdr[0] != hydFileVersion {
		return nil, errorf(ErrHydFileMismatch.Code, "not a hydraulics file")
	}
	if int(hdr[1]) != nodes || int(hdr[2]) != links {
		return nil, errorf(ErrHydFileMismatch.Code, "file has %d nodes and %d links, network has %d and %d",
			hdr[1], hdr[2], nodes, links)
	}

	var recs []*hydRecord
	for {
		var seq uint64
		if err := binary.Read(r, binary.BigEndian, &seq); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, errorf(ErrHydFileRead.Code, "record %d: %v", len(recs), err)
		}
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, errorf(ErrHydFileRead.Code, "record %d: %v", seq, err)
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, errorf(ErrHydFileRead.Code, "record %d: %v", seq, err)
		}
		var sum uint32
		if err := binary.Read(r, binary.BigEndian, &sum); err != nil {
			return nil, errorf(ErrHydFileRead.Code, "record %d: %v", seq, err)
		}
		if crc32.ChecksumIEEE(data) != sum {
			return nil, errorf(ErrHydFileRead.Code, "checksum mismatch for record %d", seq)
		}
		raw, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, errorf(ErrHydFileRead.Code, "decompress record %d: %v", seq, err)
		}
		rec, err := decodeRecord(raw, nodes, links)
		if err != nil {
			return nil, errorf(ErrHydFileRead.Code, "record %d: %v", seq, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func encodeRecord(r *hydRecord) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, r.Time)
	_ = binary.Write(&buf, binary.BigEndian, r.Step)
	for _, arr := range [][]float64{r.Demand, r.Head, r.Flow, r.Setting} {
		for _, v := range arr {
			_ = binary.Write(&buf, binary.BigEndian, math.Float64bits(v))
		}
	}
	for _, s := range r.Status {
		buf.WriteByte(byte(s))
	}
	return buf.Bytes()
}

func decodeRecord(b []byte, nodes, links int) (*hydRecord, error) {
	want := 16 + 8*(2*nodes+2*links) + links
	if len(b) != want {
		return nil, fmt.Errorf("record length %d, want %d", len(b), want)
	}
	r := &hydRecord{
		Time: int64(binary.BigEndian.Uint64(b[0:])),
		Step: int64(binary.BigEndian.Uint64(b[8:])),
	}
	off := 16
	floats := func(n int) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(binary.BigEndian.Uint64(b[off:]))
			off += 8
		}
		return out
	}
	r.Demand = floats(nodes)
	r.Head = floats(nodes)
	r.Flow = floats(links)
	r.Setting = floats(links)
	r.Status = make([]model.LinkStatus, links)
	for i := range r.Status {
		r.Status[i] = model.LinkStatus(b[off])
		off++
	}
	return r, nil
}
