// Package codec сериализует снимки для хранилищ: структурный формат
// (json, yaml, bson, proto) плюс сжатие (none, gzip, zstd).
package codec

import (
	"errors"
	"fmt"
	"sort"

	"github.com/segmentio/encoding/json"
	"go.mongodb.org/mongo-driver/bson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownCodec      = errors.New("codec: unknown codec")
	ErrUnknownCompressor = errors.New("codec: unknown compressor")
	ErrBadFrame          = errors.New("codec: malformed frame")
)

// Codec структурный сериализатор
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type yamlCodec struct{}

func (yamlCodec) Name() string                       { return "yaml" }
func (yamlCodec) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (yamlCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }

type bsonCodec struct{}

func (bsonCodec) Name() string                       { return "bson" }
func (bsonCodec) Marshal(v any) ([]byte, error)      { return bson.Marshal(v) }
func (bsonCodec) Unmarshal(data []byte, v any) error { return bson.Unmarshal(data, v) }

// protoCodec кодирует значение как google.protobuf.Struct.
// Значение проходит через JSON-представление, поэтому числа хранятся как double.
type protoCodec struct{}

func (protoCodec) Name() string { return "proto" }

func (protoCodec) Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("proto codec needs an object: %w", err)
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func (protoCodec) Unmarshal(data []byte, v any) error {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

var codecs = map[string]Codec{
	"json":  jsonCodec{},
	"yaml":  yamlCodec{},
	"bson":  bsonCodec{},
	"proto": protoCodec{},
}

// ByName возвращает сериализатор по имени
func ByName(name string) (Codec, error) {
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return c, nil
}

// Names имена доступных сериализаторов
func Names() []string {
	out := make([]string, 0, len(codecs))
	for name := range codecs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
