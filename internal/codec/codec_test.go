package codec

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/annel0/starfleet/internal/galaxy"
	"github.com/annel0/starfleet/internal/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGalaxy(t *testing.T) *galaxy.Galaxy {
	t.Helper()
	g, err := galaxy.New(galaxy.Config{
		Bounds:       geom.R(-1000, -1000, 1000, 1000),
		SystemBounds: geom.R(0, 0, 100, 100),
	})
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("S-%02d", i)
		_, err := g.AddSystem(name, geom.Pt(float64(i*150-900)+0.25, float64(i*i*10-500)))
		require.NoError(t, err)
		for j := 0; j < 4; j++ {
			require.NoError(t, g.SpawnWithID(name, galaxy.EntityID(fmt.Sprintf("%s/%d", name, j)), geom.Pt(float64(j)*12.5, 99.5)))
		}
	}
	return g
}

func TestCodecs_GalaxySnapshot(t *testing.T) {
	g := sampleGalaxy(t)
	comp, err := CompressorByName("zstd")
	require.NoError(t, err)

	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			c, err := ByName(name)
			require.NoError(t, err)

			data, err := Encode(g.Snapshot(), c, comp)
			require.NoError(t, err)

			var snap galaxy.Snapshot
			require.NoError(t, Decode(data, &snap))

			restored, err := galaxy.Restore(&snap)
			require.NoError(t, err, "Снимок через %s должен восстанавливаться", name)
			assert.Equal(t, g.Stats(), restored.Stats())

			want, err := g.EntitiesNear("S-03", geom.Pt(20, 99), 15)
			require.NoError(t, err)
			got, err := restored.EntitiesNear("S-03", geom.Pt(20, 99), 15)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestCompressors(t *testing.T) {
	payload := bytes.Repeat([]byte("starfleet quadtree snapshot "), 200)

	for _, name := range CompressorNames() {
		t.Run(name, func(t *testing.T) {
			comp, err := CompressorByName(name)
			require.NoError(t, err)

			packed, err := comp.Compress(payload)
			require.NoError(t, err)
			if name != "none" {
				assert.Less(t, len(packed), len(payload), "Повторяющиеся данные должны сжиматься")
			}

			unpacked, err := comp.Decompress(packed)
			require.NoError(t, err)
			assert.Equal(t, payload, unpacked)
		})
	}

	none, err := CompressorByName("")
	require.NoError(t, err)
	assert.Equal(t, "none", none.Name())
}

func TestUnknownNames(t *testing.T) {
	_, err := ByName("xml")
	assert.ErrorIs(t, err, ErrUnknownCodec)

	_, err = CompressorByName("lz4")
	assert.ErrorIs(t, err, ErrUnknownCompressor)
}

func TestDecode_BadFrames(t *testing.T) {
	c, _ := ByName("json")
	comp, _ := CompressorByName("gzip")
	good, err := Encode(map[string]int{"a": 1}, c, comp)
	require.NoError(t, err)

	gotCodec, gotComp, _, err := Inspect(good)
	require.NoError(t, err)
	assert.Equal(t, "json", gotCodec.Name())
	assert.Equal(t, "gzip", gotComp.Name())

	var out map[string]int
	assert.ErrorIs(t, Decode([]byte("nope"), &out), ErrBadFrame)
	assert.ErrorIs(t, Decode(good[:5], &out), ErrBadFrame)

	unknown := append([]byte("SFS1"), 3, 'x', 'm', 'l', 4, 'n', 'o', 'n', 'e')
	assert.ErrorIs(t, Decode(unknown, &out), ErrUnknownCodec)

	corrupt := append(append([]byte(nil), good[:len(good)-4]...), 0, 0, 0, 0)
	assert.Error(t, Decode(corrupt, &out), "Испорченное тело не должно декодироваться")
}
