package dom

import "sync"

// MemoryPage is an in-memory Page used by the simulator and tests. Elements
// and text regions are registered by selector; mutating a region's text
// fires its watchers synchronously, like a mutation observer would.
type MemoryPage struct {
	mu       sync.Mutex
	elements map[string]*MemoryElement
	regions  map[string]string
	watchers map[int]*regionWatcher
	nextID   int
}

type regionWatcher struct {
	selectors []string
	fn        func(string)
}

// NewMemoryPage creates an empty page
func NewMemoryPage() *MemoryPage {
	return &MemoryPage{
		elements: make(map[string]*MemoryElement),
		regions:  make(map[string]string),
		watchers: make(map[int]*regionWatcher),
	}
}

// AddElement registers an element under a selector
func (p *MemoryPage) AddElement(selector string, el *MemoryElement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = el
}

// RemoveElement drops the element registered under selector
func (p *MemoryPage) RemoveElement(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, selector)
}

// SetRegionText sets a text region's content and fires matching watchers
func (p *MemoryPage) SetRegionText(selector, text string) {
	p.mu.Lock()
	p.regions[selector] = text
	var fire []func(string)
	for _, w := range p.watchers {
		for _, s := range w.selectors {
			if s == selector {
				fire = append(fire, w.fn)
				break
			}
		}
	}
	p.mu.Unlock()

	for _, fn := range fire {
		fn(text)
	}
}

// RegionText returns the current text of the first matching region
func (p *MemoryPage) RegionText(selectors []string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		if text, ok := p.regions[s]; ok {
			return text
		}
	}
	return ""
}

// Find implements Page
func (p *MemoryPage) Find(selectors []string) (Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		if el, ok := p.elements[s]; ok {
			return el, nil
		}
	}
	return nil, ErrNotFound
}

// WatchText implements Page
func (p *MemoryPage) WatchText(selectors []string, fn func(string)) (func(), error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.watchers[id] = &regionWatcher{selectors: selectors, fn: fn}
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.watchers, id)
		p.mu.Unlock()
	}, nil
}

// MemoryElement is a scriptable element. OnClick, if set, runs on every
// activation.
type MemoryElement struct {
	mu      sync.Mutex
	value   string
	text    string
	clicks  int
	OnClick func()
}

// NewMemoryElement creates an element with fixed visible text
func NewMemoryElement(text string) *MemoryElement {
	return &MemoryElement{text: text}
}

// SetValue implements Element
func (e *MemoryElement) SetValue(v string) error {
	e.mu.Lock()
	e.value = v
	e.mu.Unlock()
	return nil
}

// Click implements Element
func (e *MemoryElement) Click() error {
	e.mu.Lock()
	e.clicks++
	onClick := e.OnClick
	e.mu.Unlock()
	if onClick != nil {
		onClick()
	}
	return nil
}

// Text implements Element
func (e *MemoryElement) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text
}

// SetText updates the visible text
func (e *MemoryElement) SetText(t string) {
	e.mu.Lock()
	e.text = t
	e.mu.Unlock()
}

// Value returns the last value written by SetValue
func (e *MemoryElement) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Clicks returns the activation count
func (e *MemoryElement) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}
