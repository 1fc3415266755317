package capture

// Capture Store Reader
//
// Capture files are written by a GNU Radio file sink: a headerless stream of
// interleaved little-endian float32 (real, imaginary) pairs, 8 bytes per
// complex sample. A physical tag may have been recorded across several files
// ("tag3-1.nfc", "tag3-2.nfc", ...); those are concatenated in sequence order
// into one Sequence per class.
//
// Reading is the only blocking step of the pipeline. Classes are independent
// and may be loaded concurrently; the files of a single class are always read
// one after the other because their order is significant.

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"golang.org/x/sync/errgroup"

	"nfc-rfml/utils"
)

// BytesPerSample is the on-disk size of one complex sample.
const BytesPerSample = 8

// Sequence is the concatenated capture of one class.
type Sequence struct {
	Class   int
	Files   []string
	Samples []complex64
}

// ReadFile decodes every complete sample of a capture file. Trailing bytes
// that do not form a whole sample are dropped with a warning.
func ReadFile(path string) ([]complex64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat capture %s: %w", path, err)
	}

	size := info.Size()
	if rem := size % BytesPerSample; rem != 0 {
		utils.GetLogger().Warn("capture has a truncated trailing sample",
			slog.String("path", path),
			slog.Int64("size", size),
			slog.Int64("droppedBytes", rem))
	}

	return decode(bufio.NewReaderSize(f, 1<<16), int(size/BytesPerSample))
}

func decode(r io.Reader, count int) ([]complex64, error) {
	samples := make([]complex64, count)
	var buf [BytesPerSample]byte
	for i := range samples {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("read sample %d: %w", i, err)
		}
		re := math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))
		samples[i] = complex(re, im)
	}
	return samples, nil
}

// Encode writes samples in the capture file format.
func Encode(w io.Writer, samples []complex64) error {
	bw := bufio.NewWriter(w)
	var buf [BytesPerSample]byte
	for _, sample := range samples {
		binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(real(sample)))
		binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(imag(sample)))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Load reads the group's files in order and concatenates them.
func (g Group) Load(ctx context.Context) (Sequence, error) {
	seq := Sequence{Class: g.Class, Files: g.Paths()}
	for _, file := range g.Files {
		if err := ctx.Err(); err != nil {
			return Sequence{}, err
		}
		samples, err := ReadFile(file.Path)
		if err != nil {
			return Sequence{}, err
		}
		seq.Samples = append(seq.Samples, samples...)
	}
	return seq, nil
}

// LoadAll loads every group, at most parallelism at a time, and returns the
// sequences in the same order as groups.
func LoadAll(ctx context.Context, groups []Group, parallelism int) ([]Sequence, error) {
	if parallelism <= 0 {
		parallelism = 1
	}

	sequences := make([]Sequence, len(groups))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, group := range groups {
		g.Go(func() error {
			seq, err := group.Load(ctx)
			if err != nil {
				return fmt.Errorf("load class %d: %w", group.Class, err)
			}
			sequences[i] = seq
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sequences, nil
}
