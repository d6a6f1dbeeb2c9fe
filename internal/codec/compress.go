package codec

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor сжатие сериализованных снимков
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

type passthroughCompressor struct{}

func (passthroughCompressor) Name() string                           { return "none" }
func (passthroughCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (passthroughCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }

type gzipCompressor struct{}

func (gzipCompressor) Name() string { return "gzip" }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}

// zstdCompressor держит один encoder и один decoder: EncodeAll/DecodeAll безопасны
// для параллельных вызовов.
type zstdCompressor struct {
	once    sync.Once
	err     error
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func (*zstdCompressor) Name() string { return "zstd" }

func (z *zstdCompressor) init() error {
	z.once.Do(func() {
		z.encoder, z.err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if z.err != nil {
			return
		}
		z.decoder, z.err = zstd.NewReader(nil)
	})
	return z.err
}

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	if err := z.init(); err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return z.decoder.DecodeAll(data, nil)
}

var compressors = map[string]Compressor{
	"none": passthroughCompressor{},
	"gzip": gzipCompressor{},
	"zstd": &zstdCompressor{},
}

// CompressorByName возвращает компрессор по имени; пустое имя - без сжатия
func CompressorByName(name string) (Compressor, error) {
	if name == "" {
		name = "none"
	}
	c, ok := compressors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompressor, name)
	}
	return c, nil
}

// CompressorNames имена доступных компрессоров
func CompressorNames() []string {
	out := make([]string, 0, len(compressors))
	for name := range compressors {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
