// Package submission packs the files of one launch request into a zip
// archive and reads catalog parameters from the embedded task config.
package submission

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-ini/ini"
)

var (
	ErrUnsafePath    = errors.New("archive entry escapes destination")
	ErrInvalidConfig = errors.New("invalid task config")
)

// Environment names of the parameters discovered in the task config.
const (
	ParamBase   = "NEXUS_BASE"
	ParamOrg    = "NEXUS_ORG"
	ParamProj   = "NEXUS_PROJ"
	ParamNoProv = "NEXUS_NO_PROV"
)

type File struct {
	Name string
	Body []byte
}

// Defaults fill kg-base and kg-org when the config leaves them out.
type Defaults struct {
	Base string
	Org  string
}

type Submission struct {
	Archive []byte
	// Names lists archive entries in write order.
	Names  []string
	Params map[string]string
}

func (s Submission) Has(name string) bool {
	for _, n := range s.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Pack writes files into one deflate archive. A repeated name keeps its first
// position and its last body.
func Pack(files []File, cfgName string, defaults Defaults) (Submission, error) {
	order := make([]string, 0, len(files))
	bodies := make(map[string][]byte, len(files))
	for _, f := range files {
		name, err := cleanName(f.Name)
		if err != nil {
			return Submission{}, err
		}
		if _, seen := bodies[name]; !seen {
			order = append(order, name)
		}
		bodies[name] = f.Body
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			return Submission{}, fmt.Errorf("zip %s: %w", name, err)
		}
		if _, err := w.Write(bodies[name]); err != nil {
			return Submission{}, fmt.Errorf("zip %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return Submission{}, fmt.Errorf("zip close: %w", err)
	}

	params := map[string]string{}
	if cfgName != "" {
		if body, ok := bodies[cfgName]; ok {
			var err error
			params, err = configParams(body, defaults)
			if err != nil {
				return Submission{}, err
			}
		}
	}

	return Submission{Archive: buf.Bytes(), Names: order, Params: params}, nil
}

func configParams(body []byte, defaults Defaults) (map[string]string, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		InsensitiveKeys:            true,
		AllowPythonMultilineValues: true,
		IgnoreInlineComment:        true,
	}, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	sec := cfg.Section(ini.DefaultSection)

	params := map[string]string{}
	lookup := func(param, key, fallback string) {
		if sec.HasKey(key) {
			params[param] = strings.ReplaceAll(sec.Key(key).String(), "%%", "%")
			return
		}
		if fallback != "" {
			params[param] = fallback
		}
	}
	lookup(ParamBase, "kg-base", defaults.Base)
	lookup(ParamOrg, "kg-org", defaults.Org)
	lookup(ParamProj, "kg-proj", "")
	lookup(ParamNoProv, "kg-no-prov", "")
	return params, nil
}

// Walk calls fn for every regular entry of archive in stored order.
func Walk(archive []byte, fn func(name string, body io.Reader) error) error {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("%w: %w", ErrUnsafePath, err)
	}
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		name, err := cleanName(entry.Name)
		if err != nil {
			return err
		}
		rc, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
		err = fn(name, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Unpack extracts archive below dest, creating parent directories.
func Unpack(archive []byte, dest string) error {
	return Walk(archive, func(name string, body io.Reader) error {
		target := filepath.Join(dest, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", filepath.Dir(target), err)
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := io.Copy(f, body); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", target, err)
		}
		return f.Close()
	})
}

// cleanName normalizes an entry name and rejects anything that would land
// outside the extraction root.
func cleanName(name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if slashed == "" || strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return cleaned, nil
}
