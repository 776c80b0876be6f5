// Package archive keeps copies of files pulled from devices and a journal
// of every transfer, on a lode store (filesystem, S3 or memory).
//
// Layout:
//
//	devices/<device>/files/<name>/<unixnano>-<md5>-<size>
//	datasets/<journal>/...   (Hive partitions device/day/direction)
//
// Files are never overwritten; every archive call adds a version and the
// latest version wins.
package archive

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // content fingerprint, matches the device protocol
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/espterm/types"
)

// DefaultJournal is the journal dataset ID.
const DefaultJournal = "espterm"

// Entry describes one archived file version.
type Entry struct {
	Device     string    `json:"device" yaml:"device"`
	Name       string    `json:"name" yaml:"name"`
	Size       int64     `json:"size" yaml:"size"`
	MD5        string    `json:"md5" yaml:"md5"`
	ArchivedAt time.Time `json:"archived_at" yaml:"archived_at"`
	Path       string    `json:"-" yaml:"-"`
}

// Config configures an Archive.
type Config struct {
	// Device is the device key; it is sanitised into a single path segment.
	Device string
	// Journal is the journal dataset ID. Empty uses DefaultJournal.
	Journal string
}

// Archive stores pulled files and the transfer journal.
type Archive struct {
	store   lode.Store
	journal lode.Dataset
	device  string
	now     func() time.Time
}

// New creates an Archive from a store factory. The same factory backs the
// file store and the journal dataset.
func New(factory lode.StoreFactory, cfg Config) (*Archive, error) {
	store, err := factory()
	if err != nil {
		return nil, wrap("init", "", err)
	}
	journal := cfg.Journal
	if journal == "" {
		journal = DefaultJournal
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(journal),
		factory,
		lode.WithHiveLayout("device", "day", "direction"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrap("init", journal, err)
	}
	return &Archive{
		store:   store,
		journal: ds,
		device:  DeviceKey(cfg.Device),
		now:     time.Now,
	}, nil
}

// NewFS creates an Archive rooted at a local directory.
func NewFS(root string, cfg Config) (*Archive, error) {
	return New(lode.NewFSFactory(root), cfg)
}

// NewMemory creates an in-memory Archive.
func NewMemory(cfg Config) (*Archive, error) {
	store := lode.NewMemory()
	return New(func() (lode.Store, error) { return store, nil }, cfg)
}

// Device returns the device key.
func (a *Archive) Device() string { return a.device }

// DeviceKey turns a port name into a single path segment:
// "/dev/ttyUSB0" becomes "dev_ttyUSB0", "sim://" becomes "sim".
func DeviceKey(port string) string {
	key := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, port)
	key = strings.Trim(key, "_.")
	if key == "" {
		return "default"
	}
	return key
}

func (a *Archive) filesPrefix() string {
	return path.Join("devices", a.device, "files") + "/"
}

// Put archives data as a new version of name.
func (a *Archive) Put(ctx context.Context, name string, data []byte) (Entry, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return Entry{}, fmt.Errorf("archive put: invalid name %q", name)
	}
	sum := md5.Sum(data) //nolint:gosec // see import
	e := Entry{
		Device:     a.device,
		Name:       name,
		Size:       int64(len(data)),
		MD5:        hex.EncodeToString(sum[:]),
		ArchivedAt: a.now().UTC(),
	}
	e.Path = a.filesPrefix() + name + "/" + fmt.Sprintf("%d-%s-%d", e.ArchivedAt.UnixNano(), e.MD5, e.Size)
	if err := a.store.Put(ctx, e.Path, bytes.NewReader(data)); err != nil {
		return Entry{}, wrap("write", e.Path, err)
	}
	return e, nil
}

// List returns the latest version of every archived file, sorted by name.
func (a *Archive) List(ctx context.Context) ([]Entry, error) {
	versions, err := a.versions(ctx, "")
	if err != nil {
		return nil, err
	}
	latest := make(map[string]Entry)
	for _, e := range versions {
		if cur, ok := latest[e.Name]; !ok || e.ArchivedAt.After(cur.ArchivedAt) {
			latest[e.Name] = e
		}
	}
	out := make([]Entry, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Versions returns every archived version of name, oldest first.
func (a *Archive) Versions(ctx context.Context, name string) ([]Entry, error) {
	vs, err := a.versions(ctx, name)
	if err != nil {
		return nil, err
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].ArchivedAt.Before(vs[j].ArchivedAt) })
	return vs, nil
}

func (a *Archive) versions(ctx context.Context, name string) ([]Entry, error) {
	prefix := a.filesPrefix()
	if name != "" {
		prefix += name + "/"
	}
	paths, err := a.store.List(ctx, prefix)
	if err != nil {
		werr := wrap("list", prefix, err)
		if errors.Is(werr, ErrNotFound) {
			return nil, nil
		}
		return nil, werr
	}
	var out []Entry
	for _, p := range paths {
		e, ok := a.parsePath(p)
		if !ok || (name != "" && e.Name != name) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// parsePath decodes devices/<device>/files/<name>/<unixnano>-<md5>-<size>.
func (a *Archive) parsePath(p string) (Entry, bool) {
	i := strings.Index(p, a.filesPrefix())
	if i < 0 {
		return Entry{}, false
	}
	rest := p[i+len(a.filesPrefix()):]
	name, version, ok := strings.Cut(rest, "/")
	if !ok || name == "" {
		return Entry{}, false
	}
	parts := strings.Split(version, "-")
	if len(parts) != 3 {
		return Entry{}, false
	}
	ns, err1 := strconv.ParseInt(parts[0], 10, 64)
	size, err2 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil {
		return Entry{}, false
	}
	return Entry{
		Device:     a.device,
		Name:       name,
		Size:       size,
		MD5:        parts[1],
		ArchivedAt: time.Unix(0, ns).UTC(),
		Path:       a.filesPrefix() + name + "/" + version,
	}, true
}

// Get returns the latest archived version of name. A missing file
// matches ErrNotFound.
func (a *Archive) Get(ctx context.Context, name string) ([]byte, Entry, error) {
	vs, err := a.Versions(ctx, name)
	if err != nil {
		return nil, Entry{}, err
	}
	if len(vs) == 0 {
		return nil, Entry{}, &StorageError{Kind: ErrNotFound, Op: "read", Path: a.filesPrefix() + name, Err: fmt.Errorf("no archived versions of %q", name)}
	}
	e := vs[len(vs)-1]
	rc, err := a.store.Get(ctx, e.Path)
	if err != nil {
		return nil, Entry{}, wrap("read", e.Path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, types.MaxFileSize+1))
	if err != nil {
		return nil, Entry{}, wrap("read", e.Path, err)
	}
	if int64(len(data)) != e.Size {
		return nil, Entry{}, fmt.Errorf("archive read %s: size %d, want %d", e.Path, len(data), e.Size)
	}
	return data, e, nil
}

// Delete removes every archived version of name.
func (a *Archive) Delete(ctx context.Context, name string) (int, error) {
	vs, err := a.versions(ctx, name)
	if err != nil {
		return 0, err
	}
	for i, e := range vs {
		if err := a.store.Delete(ctx, e.Path); err != nil {
			return i, wrap("delete", e.Path, err)
		}
	}
	return len(vs), nil
}
