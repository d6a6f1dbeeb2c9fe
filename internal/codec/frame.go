package codec

import (
	"bytes"
	"fmt"
)

// Кадр: magic "SFS1", длина имени кодека, имя, длина имени компрессора, имя, данные.
// Заголовок позволяет Decode читать снимки, записанные с другими настройками.
var frameMagic = []byte("SFS1")

// Encode сериализует v кодеком c и сжимает компрессором comp
func Encode(v any, c Codec, comp Compressor) ([]byte, error) {
	raw, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec %s: marshal: %w", c.Name(), err)
	}
	packed, err := comp.Compress(raw)
	if err != nil {
		return nil, fmt.Errorf("codec %s: compress: %w", comp.Name(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(frameMagic) + 2 + len(c.Name()) + len(comp.Name()) + len(packed))
	buf.Write(frameMagic)
	buf.WriteByte(byte(len(c.Name())))
	buf.WriteString(c.Name())
	buf.WriteByte(byte(len(comp.Name())))
	buf.WriteString(comp.Name())
	buf.Write(packed)
	return buf.Bytes(), nil
}

// Decode читает кадр Encode и восстанавливает значение в v
func Decode(data []byte, v any) error {
	c, comp, payload, err := Inspect(data)
	if err != nil {
		return err
	}
	raw, err := comp.Decompress(payload)
	if err != nil {
		return fmt.Errorf("codec %s: decompress: %w", comp.Name(), err)
	}
	if err := c.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("codec %s: unmarshal: %w", c.Name(), err)
	}
	return nil
}

// Inspect разбирает заголовок кадра
func Inspect(data []byte) (Codec, Compressor, []byte, error) {
	if !bytes.HasPrefix(data, frameMagic) {
		return nil, nil, nil, fmt.Errorf("%w: missing magic", ErrBadFrame)
	}
	rest := data[len(frameMagic):]

	codecName, rest, err := readName(rest)
	if err != nil {
		return nil, nil, nil, err
	}
	compName, rest, err := readName(rest)
	if err != nil {
		return nil, nil, nil, err
	}

	c, err := ByName(codecName)
	if err != nil {
		return nil, nil, nil, err
	}
	comp, err := CompressorByName(compName)
	if err != nil {
		return nil, nil, nil, err
	}
	return c, comp, rest, nil
}

func readName(b []byte) (string, []byte, error) {
	if len(b) == 0 {
		return "", nil, fmt.Errorf("%w: truncated header", ErrBadFrame)
	}
	n := int(b[0])
	if len(b) < 1+n {
		return "", nil, fmt.Errorf("%w: truncated header", ErrBadFrame)
	}
	return string(b[1 : 1+n]), b[1+n:], nil
}
