package weight

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

const (
	AttributeName          = "weight"
	AttributeMode          = 0o664
	DefaultRefreshInterval = time.Second
)

var (
	_ Provider = (*FileProvider)(nil)
	_ Admin    = (*FileProvider)(nil)
)

type FileOptions struct {
	// Directory holds one sub directory per connection with a single
	// writable weight attribute, like a sysfs kset.
	Directory       string
	RefreshInterval time.Duration
	Logger          logger.ContextLogger
}

// FileProvider mirrors every weight record to <Directory>/<name>/weight.
// Operators change a weight by writing the file; a refresher goroutine
// loads it back, so Read stays free of I/O.
type FileProvider struct {
	*MemoryProvider
	// fileAccess orders record creation and removal with their attribute
	// files, so a shared handle never sees a missing or stale file.
	fileAccess sync.Mutex
	directory  string
	interval   time.Duration
	logger     logger.ContextLogger
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewFileProvider(options FileOptions) (*FileProvider, error) {
	if options.Directory == "" {
		return nil, E.New("missing weight directory")
	}
	if options.RefreshInterval == 0 {
		options.RefreshInterval = DefaultRefreshInterval
	}
	if options.Logger == nil {
		options.Logger = logger.NOP()
	}
	err := os.MkdirAll(options.Directory, 0o755)
	if err != nil {
		return nil, E.Cause(err, "create weight directory")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FileProvider{
		MemoryProvider: NewMemoryProvider(),
		directory:      options.Directory,
		interval:       options.RefreshInterval,
		logger:         options.Logger,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

func (p *FileProvider) Start() {
	if p.done != nil {
		return
	}
	p.done = make(chan struct{})
	go p.loopRefresh()
}

func (p *FileProvider) loopRefresh() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.Refresh()
		}
	}
}

// Refresh loads every attribute file into its record.
func (p *FileProvider) Refresh() {
	for _, name := range p.names() {
		weight, err := p.readAttribute(name)
		if err != nil {
			if !os.IsNotExist(err) {
				p.logger.Debug(E.Cause(err, "refresh weight of ", name))
			}
			continue
		}
		p.store(name, weight)
	}
}

func (p *FileProvider) Create(name string, initialWeight uint32) (*Handle, error) {
	p.fileAccess.Lock()
	defer p.fileAccess.Unlock()
	handle, created, err := p.acquire(name, initialWeight)
	if err != nil {
		return nil, err
	}
	if !created {
		return handle, nil
	}
	err = os.MkdirAll(filepath.Join(p.directory, name), 0o755)
	if err == nil {
		err = p.writeAttribute(name, initialWeight)
	}
	if err != nil {
		p.releaseLocked(handle)
		return nil, E.Cause(err, "create weight record ", name)
	}
	p.logger.Trace("created weight record ", name)
	return handle, nil
}

func (p *FileProvider) Release(handle *Handle) {
	p.fileAccess.Lock()
	defer p.fileAccess.Unlock()
	p.releaseLocked(handle)
}

func (p *FileProvider) releaseLocked(handle *Handle) {
	if !p.release(handle) {
		return
	}
	err := os.RemoveAll(filepath.Join(p.directory, handle.name))
	if err != nil {
		p.logger.Debug(E.Cause(err, "remove weight record ", handle.name))
		return
	}
	p.logger.Trace("removed weight record ", handle.name)
}

func (p *FileProvider) Set(name string, weight uint32) error {
	if weight == 0 {
		return E.Cause(ErrInvalidWeight, "zero weight for ", name)
	}
	p.fileAccess.Lock()
	defer p.fileAccess.Unlock()
	if _, err := p.Get(name); err != nil {
		return err
	}
	err := p.writeAttribute(name, weight)
	if err != nil {
		return E.Cause(err, "write weight of ", name)
	}
	p.store(name, weight)
	return nil
}

func (p *FileProvider) Close() error {
	p.cancel()
	if p.done != nil {
		<-p.done
	}
	return p.MemoryProvider.Close()
}

func (p *FileProvider) attributePath(name string) string {
	return filepath.Join(p.directory, name, AttributeName)
}

func (p *FileProvider) writeAttribute(name string, weight uint32) error {
	return os.WriteFile(p.attributePath(name), []byte(strconv.FormatUint(uint64(weight), 10)+"\n"), AttributeMode)
}

func (p *FileProvider) readAttribute(name string) (uint32, error) {
	content, err := os.ReadFile(p.attributePath(name))
	if err != nil {
		return 0, err
	}
	return ParseWeight(string(content))
}

// ParseWeight parses an unsigned decimal weight, tolerating surrounding
// whitespace. Zero is rejected.
func ParseWeight(content string) (uint32, error) {
	weight, err := strconv.ParseUint(strings.TrimSpace(content), 10, 32)
	if err != nil {
		return 0, E.Cause(ErrInvalidWeight, err)
	}
	if weight == 0 {
		return 0, E.Cause(ErrInvalidWeight, "zero weight")
	}
	return uint32(weight), nil
}
