package weight

import (
	"sort"
	"strings"
	"sync"

	"github.com/sagernet/sing/common/atomic"
	E "github.com/sagernet/sing/common/exceptions"
)

var (
	_ Provider = (*MemoryProvider)(nil)
	_ Admin    = (*MemoryProvider)(nil)
)

type record struct {
	weight     atomic.Uint32
	references int
}

// MemoryProvider keeps weight records in a reference counted table.
type MemoryProvider struct {
	access  sync.Mutex
	records map[string]*record
	closed  bool
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		records: make(map[string]*record),
	}
}

func (p *MemoryProvider) Create(name string, initialWeight uint32) (*Handle, error) {
	handle, _, err := p.acquire(name, initialWeight)
	return handle, err
}

func (p *MemoryProvider) acquire(name string, initialWeight uint32) (*Handle, bool, error) {
	if err := checkName(name); err != nil {
		return nil, false, err
	}
	p.access.Lock()
	defer p.access.Unlock()
	if p.closed {
		return nil, false, ErrProviderClosed
	}
	r, loaded := p.records[name]
	if !loaded {
		r = &record{}
		r.weight.Store(initialWeight)
		p.records[name] = r
	}
	r.references++
	return &Handle{name: name, record: r}, !loaded, nil
}

func (p *MemoryProvider) Read(handle *Handle) uint32 {
	if handle == nil || handle.record == nil {
		return 0
	}
	return handle.record.weight.Load()
}

func (p *MemoryProvider) Release(handle *Handle) {
	p.release(handle)
}

// release reports whether the last reference to the record was dropped.
func (p *MemoryProvider) release(handle *Handle) bool {
	if handle == nil || handle.record == nil {
		return false
	}
	p.access.Lock()
	defer p.access.Unlock()
	if handle.released {
		return false
	}
	handle.released = true
	handle.record.references--
	if handle.record.references > 0 {
		return false
	}
	if p.records[handle.name] == handle.record {
		delete(p.records, handle.name)
	}
	return true
}

func (p *MemoryProvider) Get(name string) (uint32, error) {
	p.access.Lock()
	defer p.access.Unlock()
	r, loaded := p.records[name]
	if !loaded {
		return 0, E.Cause(ErrUnknownConnection, name)
	}
	return r.weight.Load(), nil
}

func (p *MemoryProvider) Set(name string, weight uint32) error {
	if weight == 0 {
		return E.Cause(ErrInvalidWeight, "zero weight for ", name)
	}
	p.access.Lock()
	defer p.access.Unlock()
	r, loaded := p.records[name]
	if !loaded {
		return E.Cause(ErrUnknownConnection, name)
	}
	r.weight.Store(weight)
	return nil
}

func (p *MemoryProvider) List() ([]Record, error) {
	p.access.Lock()
	records := make([]Record, 0, len(p.records))
	for name, r := range p.records {
		records = append(records, Record{
			Name:       name,
			Weight:     r.weight.Load(),
			References: r.references,
		})
	}
	p.access.Unlock()
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records, nil
}

// Close refuses further Create calls. Handles already out keep reading
// their last weight and may still be released.
func (p *MemoryProvider) Close() error {
	p.access.Lock()
	p.closed = true
	p.access.Unlock()
	return nil
}

func (p *MemoryProvider) names() []string {
	p.access.Lock()
	defer p.access.Unlock()
	names := make([]string, 0, len(p.records))
	for name := range p.records {
		names = append(names, name)
	}
	return names
}

func (p *MemoryProvider) store(name string, weight uint32) bool {
	p.access.Lock()
	defer p.access.Unlock()
	r, loaded := p.records[name]
	if !loaded {
		return false
	}
	r.weight.Store(weight)
	return true
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return E.Cause(ErrInvalidName, name)
	}
	return nil
}
