package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Artifact is a compiled contract: its ABI and creation bytecode.
type Artifact struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
}

// ArtifactSource resolves artifacts by contract name.
type ArtifactSource interface {
	Artifact(name string) (*Artifact, error)
}

// artifactFile covers both forge output (bytecode.object) and hardhat
// output (bytecode as a plain string).
type artifactFile struct {
	ABI      json.RawMessage `json:"abi"`
	Bytecode bytecodeField   `json:"bytecode"`
}

type bytecodeField struct {
	Object string `json:"object"`
}

func (b *bytecodeField) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		return json.Unmarshal(data, &b.Object)
	}
	type plain bytecodeField
	return json.Unmarshal(data, (*plain)(b))
}

// ParseArtifact decodes a forge or hardhat artifact document.
func ParseArtifact(name string, data []byte) (*Artifact, error) {
	var file artifactFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", name, err)
	}
	if len(file.ABI) == 0 {
		return nil, fmt.Errorf("artifact %s: missing abi", name)
	}

	parsed, err := abi.JSON(bytes.NewReader(file.ABI))
	if err != nil {
		return nil, fmt.Errorf("artifact %s: parse abi: %w", name, err)
	}

	code := common.FromHex(file.Bytecode.Object)
	if len(code) == 0 {
		return nil, fmt.Errorf("artifact %s: empty bytecode", name)
	}

	return &Artifact{Name: name, ABI: parsed, Bytecode: code}, nil
}

// DirArtifacts loads artifacts from a build output directory. It looks for
// <dir>/<Name>.json, forge's <dir>/out/<Name>.sol/<Name>.json, and finally
// any <Name>.json below dir (hardhat's artifacts tree).
type DirArtifacts struct {
	dir   string
	mu    sync.Mutex
	cache map[string]*Artifact
}

// NewDirArtifacts creates a directory-backed artifact source.
func NewDirArtifacts(dir string) *DirArtifacts {
	return &DirArtifacts{dir: dir, cache: make(map[string]*Artifact)}
}

var errFound = errors.New("found")

// Artifact implements ArtifactSource.
func (d *DirArtifacts) Artifact(name string) (*Artifact, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a, ok := d.cache[name]; ok {
		return a, nil
	}

	path, err := d.locate(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", name, err)
	}
	a, err := ParseArtifact(name, data)
	if err != nil {
		return nil, err
	}
	d.cache[name] = a
	return a, nil
}

func (d *DirArtifacts) locate(name string) (string, error) {
	candidates := []string{
		filepath.Join(d.dir, name+".json"),
		filepath.Join(d.dir, "out", name+".sol", name+".json"),
		filepath.Join(d.dir, name+".sol", name+".json"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	var found string
	err := filepath.WalkDir(d.dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() && (entry.Name() == "node_modules" || entry.Name() == "build-info") {
			return filepath.SkipDir
		}
		if !entry.IsDir() && entry.Name() == name+".json" {
			found = path
			return errFound
		}
		return nil
	})
	if errors.Is(err, errFound) {
		return found, nil
	}
	if err != nil {
		return "", fmt.Errorf("search artifacts for %s: %w", name, err)
	}
	return "", fmt.Errorf("artifact %s not found under %s", name, d.dir)
}

// StaticArtifacts is an in-memory ArtifactSource.
type StaticArtifacts map[string]*Artifact

// Artifact implements ArtifactSource.
func (s StaticArtifacts) Artifact(name string) (*Artifact, error) {
	a, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", name)
	}
	return a, nil
}
