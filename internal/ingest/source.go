package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-mbox"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source yields raw messages from one mail store.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Message, error)
}

type SourceError struct {
	Source string
	Err    error
}

func (e SourceError) Error() string { return e.Source + ": " + e.Err.Error() }
func (e SourceError) Unwrap() error { return e.Err }

// Fetched is the combined output of FetchAll, in source order.
type Fetched struct {
	Messages []Message
	Failed   []SourceError
}

// FetchAll runs every source concurrently with its own timeout. A failing
// source is logged and skipped; the others still contribute.
func FetchAll(ctx context.Context, log *zap.Logger, timeout time.Duration, sources ...Source) (Fetched, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	per := make([][]Message, len(sources))
	var (
		mu     sync.Mutex
		failed []SourceError
	)

	var g errgroup.Group
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			log.Info("fetching", zap.String("source", src.Name()))
			msgs, err := src.Fetch(sctx)
			if err != nil {
				log.Warn("source failed", zap.String("source", src.Name()), zap.Error(err))
				mu.Lock()
				failed = append(failed, SourceError{Source: src.Name(), Err: err})
				mu.Unlock()
				return nil
			}
			log.Info("fetched", zap.String("source", src.Name()), zap.Int("messages", len(msgs)))
			per[i] = msgs
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Fetched{}, err
	}

	var out Fetched
	for _, msgs := range per {
		out.Messages = append(out.Messages, msgs...)
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].Source < failed[j].Source })
	out.Failed = failed
	return out, nil
}

// MboxSource reads an mbox archive. Entries are normalized to CRLF and
// ">From " escapes in bodies are undone.
type MboxSource struct {
	Path string
	log  *zap.Logger
}

func NewMboxSource(path string, log *zap.Logger) *MboxSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &MboxSource{Path: path, log: log}
}

func (s *MboxSource) Name() string { return "mbox:" + filepath.Base(s.Path) }

func (s *MboxSource) Fetch(ctx context.Context) ([]Message, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer f.Close()

	var out []Message
	mr := mbox.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := mr.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read mbox: %w", err)
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read mbox entry: %w", err)
		}
		m, err := ParseMessage(unescapeMbox(raw), s.Name())
		if err != nil {
			s.log.Debug("skipping mbox entry", zap.String("source", s.Name()), zap.Error(err))
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func unescapeMbox(raw []byte) []byte {
	lines := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	for i, ln := range lines {
		if strings.HasPrefix(strings.TrimLeft(ln, ">"), "From ") && strings.HasPrefix(ln, ">") {
			lines[i] = ln[1:]
		}
	}
	return []byte(strings.Join(lines, "\r\n"))
}

// DirSource reads every *.eml file below Dir.
type DirSource struct {
	Dir string
	log *zap.Logger
}

func NewDirSource(dir string, log *zap.Logger) *DirSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirSource{Dir: dir, log: log}
}

func (s *DirSource) Name() string { return "dir:" + filepath.Base(s.Dir) }

func (s *DirSource) Fetch(ctx context.Context) ([]Message, error) {
	var out []Message
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".eml") {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		m, err := ParseMessage(raw, s.Name())
		if err != nil {
			s.log.Debug("skipping eml", zap.String("path", path), zap.Error(err))
			return nil
		}
		out = append(out, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.Dir, err)
	}
	return out, nil
}
