package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/pkg/types"
)

// Directory replays the JPEG files of a directory in lexical order.
type Directory struct {
	dir   string
	files []string
	loop  bool
	pace  *pacer
	pos   int
	seq   sequencer
}

// NewDirectory lists the .jpg/.jpeg files in cfg.Dir.
func NewDirectory(cfg types.SourceConfig) (*Directory, error) {
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(cfg.Dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no jpeg files in %s", cfg.Dir)
	}
	sort.Strings(files)

	return &Directory{
		dir:   cfg.Dir,
		files: files,
		loop:  cfg.Loop,
		pace:  newPacer(cfg.FPS),
	}, nil
}

func (d *Directory) Name() string { return "dir:" + d.dir }

func (d *Directory) Next(ctx context.Context) (*types.Frame, error) {
	if d.pos >= len(d.files) {
		if !d.loop {
			return nil, io.EOF
		}
		d.pos = 0
	}
	if err := d.pace.wait(ctx); err != nil {
		return nil, err
	}

	path := d.files[d.pos]
	d.pos++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return d.seq.frame(d.Name(), data, cfg.Width, cfg.Height), nil
}

func (d *Directory) Close() error { return nil }
