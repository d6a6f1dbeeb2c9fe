package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, in string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := newApp(strings.NewReader(in), &out)
	root := a.rootCmd()
	root.SetArgs(append([]string{"--data", dir}, args...))
	err := root.Execute()
	require.NoError(t, a.close())
	return out.String(), err
}

func TestCLI_GenerateAndQuery(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "", "generate", "--systems", "5", "--entities", "3", "--size", "10000", "--seed", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Сгенерировано")
	assert.Contains(t, out, "json+zstd")

	out, err = run(t, dir, "", "systems")
	require.NoError(t, err)
	assert.Contains(t, out, "SOL-000")

	out, err = run(t, dir, "", "near", "5000", "5000", "20000")
	require.NoError(t, err)
	assert.Contains(t, out, "SOL-000", "Круг покрывает всю галактику")

	out, err = run(t, dir, "", "entities", "SOL-000")
	require.NoError(t, err)
	assert.Contains(t, out, "SOL-000/0000")

	out, err = run(t, dir, "", "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "json + zstd")
	assert.Contains(t, out, "целостность подтверждена")
}

func TestCLI_AddAndSpawnPersist(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "", "generate", "--systems", "1", "--entities", "0", "--size", "1000", "--codec", "bson", "--compression", "gzip")
	require.NoError(t, err)

	_, err = run(t, dir, "", "add", "Sol", "10", "10", "--codec", "bson", "--compression", "gzip")
	require.NoError(t, err)
	out, err := run(t, dir, "", "spawn", "Sol", "1", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "создана в Sol")

	out, err = run(t, dir, "", "entities", "Sol", "0", "0", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "(1, 2)")
	assert.Contains(t, out, "всего: 1")

	_, err = run(t, dir, "", "add", "Sol", "20", "20")
	assert.ErrorContains(t, err, "already exists")
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "", "systems")
	assert.ErrorContains(t, err, "generate")

	_, err = run(t, dir, "", "near", "1", "x", "3")
	assert.ErrorContains(t, err, "не число")

	_, err = run(t, dir, "", "entities", "Sol", "1")
	assert.Error(t, err)

	_, err = run(t, dir, "", "systems", "--codec", "xml")
	assert.Error(t, err)
}

func TestCLI_Shell(t *testing.T) {
	dir := t.TempDir()
	script := strings.Join([]string{
		"add Sol 100 100",
		`add "Alpha Centauri" 200 200`,
		"spawn Sol 5 5",
		`bogus "unterminated`,
		"nope",
		"systems",
		"exit",
	}, "\n")

	out, err := run(t, dir, script, "shell")
	require.NoError(t, err)
	assert.Contains(t, out, "пустой галактики")
	assert.Contains(t, out, "Alpha Centauri")
	assert.Contains(t, out, "непарные кавычки")
	assert.Contains(t, out, "unknown command")
	assert.Contains(t, out, "всего: 2")
	assert.Contains(t, out, "2 систем, 1 сущностей")

	out, err = run(t, dir, "", "systems")
	require.NoError(t, err)
	assert.Contains(t, out, "Alpha Centauri", "Выход из shell сохраняет галактику")
}

func TestSplitWords(t *testing.T) {
	testCases := []struct {
		in   string
		want []string
		err  bool
	}{
		{"", nil, false},
		{"  systems  ", []string{"systems"}, false},
		{"near 1 2\t3", []string{"near", "1", "2", "3"}, false},
		{`add "Alpha Centauri" 1 2`, []string{"add", "Alpha Centauri", "1", "2"}, false},
		{`add "" 1 2`, []string{"add", "", "1", "2"}, false},
		{`add "Sol 1 2`, nil, true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := splitWords(tc.in)
			if tc.err {
				assert.ErrorIs(t, err, errUnbalancedQuotes)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
