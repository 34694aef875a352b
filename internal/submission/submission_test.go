package submission

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func readArchive(t *testing.T, archive []byte) map[string]string {
	t.Helper()
	out := map[string]string{}
	require.NoError(t, Walk(archive, func(name string, body io.Reader) error {
		data, err := io.ReadAll(body)
		if err != nil {
			return err
		}
		out[name] = string(data)
		return nil
	}))
	return out
}

func TestPack_WithoutConfig(t *testing.T) {
	files := []File{
		{Name: "tasks.py", Body: []byte("import luigi\n")},
		{Name: "data/input.bin", Body: []byte{0x00, 0xff, 0x10}},
	}

	sub, err := Pack(files, "", Defaults{Base: "https://kg.example.test", Org: "bbp"})
	require.NoError(t, err)
	require.Empty(t, sub.Params)
	require.Equal(t, []string{"tasks.py", "data/input.bin"}, sub.Names)

	got := readArchive(t, sub.Archive)
	require.Equal(t, "import luigi\n", got["tasks.py"])
	require.Equal(t, string([]byte{0x00, 0xff, 0x10}), got["data/input.bin"])
}

func TestPack_DeflateEntries(t *testing.T) {
	sub, err := Pack([]File{{Name: "a.txt", Body: bytes.Repeat([]byte("a"), 4096)}}, "", Defaults{})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(sub.Archive), int64(len(sub.Archive)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	require.Equal(t, zip.Deflate, zr.File[0].Method)
}

func TestPack_ConfigParams(t *testing.T) {
	cfg := []byte("[DEFAULT]\nkg-org = acme\nkg-proj = demo\n\n[RunTask]\nthreads = 4\n")
	sub, err := Pack([]File{{Name: "run.cfg", Body: cfg}}, "run.cfg", Defaults{Base: "https://kg.example.test"})
	require.NoError(t, err)

	require.Equal(t, map[string]string{
		ParamBase: "https://kg.example.test",
		ParamOrg:  "acme",
		ParamProj: "demo",
	}, sub.Params)
}

func TestPack_ConfigFallbacksAndInterpolation(t *testing.T) {
	cfg := []byte("[DEFAULT]\nroot = lab\nkg-proj = %(root)s-sim\nkg-no-prov = True\n")
	sub, err := Pack([]File{{Name: "run.cfg", Body: cfg}}, "run.cfg", Defaults{Org: "bbp"})
	require.NoError(t, err)

	require.Equal(t, "bbp", sub.Params[ParamOrg])
	require.Equal(t, "lab-sim", sub.Params[ParamProj])
	require.Equal(t, "True", sub.Params[ParamNoProv])
	require.NotContains(t, sub.Params, ParamBase)
}

func TestPack_ConfigKeysCaseInsensitive(t *testing.T) {
	cfg := []byte("[DEFAULT]\nroot = acme\nKG-Org = %(root)s\nkg-proj = demo\n\n[default]\nkg-org = other\n")
	sub, err := Pack([]File{{Name: "wf.cfg", Body: cfg}}, "wf.cfg", Defaults{})
	require.NoError(t, err)

	require.Equal(t, map[string]string{ParamOrg: "acme", ParamProj: "demo"}, sub.Params)
}

func TestPack_ConfigUnescapesPercent(t *testing.T) {
	cfg := []byte("[DEFAULT]\nkg-org = acme\nkg-proj = 100%%\n")
	sub, err := Pack([]File{{Name: "wf.cfg", Body: cfg}}, "wf.cfg", Defaults{})
	require.NoError(t, err)
	require.Equal(t, "100%", sub.Params[ParamProj])
}

func TestPack_ConfigNameMismatchYieldsNoParams(t *testing.T) {
	sub, err := Pack([]File{{Name: "run.cfg", Body: []byte("[DEFAULT]\nkg-org = acme\n")}}, "other.cfg", Defaults{Org: "bbp"})
	require.NoError(t, err)
	require.Empty(t, sub.Params)
}

func TestPack_InvalidConfig(t *testing.T) {
	_, err := Pack([]File{{Name: "run.cfg", Body: []byte("[DEFAULT\nthis is not ini\n")}}, "run.cfg", Defaults{})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPack_LastWriteWins(t *testing.T) {
	sub, err := Pack([]File{
		{Name: "tasks.py", Body: []byte("v1")},
		{Name: "other.py", Body: []byte("x")},
		{Name: "tasks.py", Body: []byte("v2")},
	}, "", Defaults{})
	require.NoError(t, err)

	require.Equal(t, []string{"tasks.py", "other.py"}, sub.Names)
	require.Equal(t, "v2", readArchive(t, sub.Archive)["tasks.py"])
}

func TestPack_RejectsUnsafeNames(t *testing.T) {
	for _, name := range []string{"../escape.py", "/etc/passwd", "a/../../b", ""} {
		_, err := Pack([]File{{Name: name, Body: []byte("x")}}, "", Defaults{})
		require.ErrorIs(t, err, ErrUnsafePath, "name %q", name)
	}
}

func TestUnpack_RoundTrip(t *testing.T) {
	files := []File{
		{Name: "tasks.py", Body: []byte("print('hi')\n")},
		{Name: "nested/deeper/cfg.ini", Body: []byte("[DEFAULT]\n")},
	}
	sub, err := Pack(files, "nested/deeper/cfg.ini", Defaults{})
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, Unpack(sub.Archive, dest))

	for _, f := range files {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(f.Name)))
		require.NoError(t, err)
		require.Equal(t, f.Body, got)
	}
}

func TestUnpack_RejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../../outside.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("nope"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	root := t.TempDir()
	dest := filepath.Join(root, "ws")
	err = Unpack(buf.Bytes(), dest)
	require.ErrorIs(t, err, ErrUnsafePath)

	_, statErr := os.Stat(filepath.Join(root, "outside.txt"))
	require.True(t, os.IsNotExist(statErr))
}

func TestSubmission_Has(t *testing.T) {
	sub, err := Pack([]File{{Name: "logging.cfg", Body: []byte("[loggers]\n")}}, "", Defaults{})
	require.NoError(t, err)
	require.True(t, sub.Has("logging.cfg"))
	require.False(t, sub.Has("luigi.cfg"))
}
