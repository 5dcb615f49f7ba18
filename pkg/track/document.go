// document.go provides the map-backed dynamic target for callers whose
// shapes are not known at compile time. A document's registry identity is its
// declared kind string, so documents of the same kind share one audit
// configuration the way instances of one struct type do.
package track

// Document is an ordered string-keyed record. The zero value is not usable;
// call NewDocument. Like the rest of the engine, a Document is not
// synchronized.
type Document struct {
	kind   string
	values map[string]any
	order  []string
}

// NewDocument returns an empty document of the given kind. A document with an
// empty kind can still be wrapped, but it has no registry identity and no
// field of it will ever be tracked.
func NewDocument(kind string) *Document {
	return &Document{
		kind:   kind,
		values: make(map[string]any),
	}
}

// Kind returns the declared kind.
func (d *Document) Kind() string {
	return d.kind
}

// Get returns the value stored under key and whether the key exists.
func (d *Document) Get(key string) (any, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Set stores value under key, creating the key if necessary. First-set order
// is preserved for Fields.
func (d *Document) Set(key string, value any) {
	if key == "" {
		return
	}
	if _, ok := d.values[key]; !ok {
		d.order = append(d.order, key)
	}
	d.values[key] = value
}

// Delete removes key. Deleting an absent key is a no-op.
func (d *Document) Delete(key string) {
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Fields returns the document's keys in first-set order.
func (d *Document) Fields() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Len returns the number of keys.
func (d *Document) Len() int {
	return len(d.values)
}
