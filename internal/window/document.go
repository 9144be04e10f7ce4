package window

import "sync"

// ReadyState mirrors the loading phases of a page document.
type ReadyState string

const (
	StateLoading  ReadyState = "loading"
	StateComplete ReadyState = "complete"
)

// Document is the page metadata the bridge observes plus the set of scripts
// installed into the page.
type Document struct {
	mu       sync.Mutex
	url      string
	title    string
	state    ReadyState
	scripts  map[string]struct{}
	onLoaded []func()
}

// NewDocument returns a document that has finished loading.
func NewDocument(url, title string) *Document {
	return &Document{url: url, title: title, state: StateComplete, scripts: make(map[string]struct{})}
}

// NewLoadingDocument returns a document still parsing; call FinishLoading to
// fire its content-loaded handlers.
func NewLoadingDocument(url, title string) *Document {
	d := NewDocument(url, title)
	d.state = StateLoading
	return d
}

func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *Document) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.title
}

// SetTitle changes the title, as page scripts may do at any time.
func (d *Document) SetTitle(title string) {
	d.mu.Lock()
	d.title = title
	d.mu.Unlock()
}

func (d *Document) ReadyState() ReadyState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// OnContentLoaded runs fn once the document has loaded. It reports false and
// does nothing if loading already finished.
func (d *Document) OnContentLoaded(fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateLoading {
		return false
	}
	d.onLoaded = append(d.onLoaded, fn)
	return true
}

// FinishLoading marks the document complete and runs the pending handlers in
// registration order. Later calls are no-ops.
func (d *Document) FinishLoading() {
	d.mu.Lock()
	if d.state != StateLoading {
		d.mu.Unlock()
		return
	}
	d.state = StateComplete
	handlers := d.onLoaded
	d.onLoaded = nil
	d.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

// AppendScript installs a script under id by running install. A script id is
// installed at most once; repeated calls report false.
func (d *Document) AppendScript(id string, install func()) bool {
	d.mu.Lock()
	if _, ok := d.scripts[id]; ok {
		d.mu.Unlock()
		return false
	}
	d.scripts[id] = struct{}{}
	d.mu.Unlock()

	install()
	return true
}

// HasScript reports whether a script with id was installed.
func (d *Document) HasScript(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.scripts[id]
	return ok
}
