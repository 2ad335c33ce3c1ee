package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"hwstress/internal/cerrors"
)

const defaultDiskBlock = 1 << 20

// diskPayload は一時ファイルへの書き込み・fsync・読み戻し・比較を繰り返す
type diskPayload struct {
	mu        sync.Mutex
	dir       string
	blockSize int
	blocks    [][]byte // goroutine ごとの書き込みデータ
	readBufs  [][]byte
}

func (p *diskPayload) setup(cfg Config) error {
	base := cfg.Param("dir", os.TempDir())
	dir, err := os.MkdirTemp(base, "hwstress-disk-*")
	if err != nil {
		return cerrors.Setup{Component: string(KindDisk), Target: cfg.Name, Reason: fmt.Sprintf("create temp dir under %s: %v", base, err)}
	}

	blockSize := defaultDiskBlock
	if v := cfg.Param("block_kib", ""); v != "" {
		kib, err := strconv.Atoi(v)
		if err != nil || kib <= 0 {
			_ = os.RemoveAll(dir)
			return cerrors.Setup{Component: string(KindDisk), Target: cfg.Name, Reason: "invalid block_kib " + v}
		}
		blockSize = kib << 10
	}

	n := Goroutines(KindDisk, cfg.Intensity)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dir = dir
	p.blockSize = blockSize
	p.blocks = make([][]byte, n)
	p.readBufs = make([][]byte, n)
	for i := range n {
		b := make([]byte, blockSize)
		_, _ = rng.Read(b)
		p.blocks[i] = b
		p.readBufs[i] = make([]byte, blockSize)
	}
	return nil
}

func (p *diskPayload) iterate(ctx context.Context, id int) error {
	p.mu.Lock()
	dir := p.dir
	block := p.blocks[id]
	buf := p.readBufs[id]
	p.mu.Unlock()

	path := filepath.Join(dir, "block-"+strconv.Itoa(id)+".dat")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o600)
	if err != nil {
		return errors.Wrap(err, "open block file")
	}
	defer f.Close()

	if _, err := f.Write(block); err != nil {
		return errors.Wrap(err, "write block")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "fsync block")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek block")
	}
	if _, err := io.ReadFull(f, buf); err != nil {
		return errors.Wrap(err, "read block")
	}
	if !bytes.Equal(block, buf) {
		return cerrors.Runtime{Component: string(KindDisk), Target: path, Reason: "read back data does not match"}
	}
	return nil
}

func (p *diskPayload) cleanup() {
	p.mu.Lock()
	dir := p.dir
	p.dir = ""
	p.blocks = nil
	p.readBufs = nil
	p.mu.Unlock()

	if dir != "" {
		_ = os.RemoveAll(dir)
	}
}

// tempDir はテスト用に現在の一時ディレクトリを返す
func (p *diskPayload) tempDir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir
}
