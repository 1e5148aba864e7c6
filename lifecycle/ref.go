package lifecycle

// Ref is a counted pointer to a managed resource. Creating or cloning a Ref
// retains the target; releasing it drops the reference. A Ref extends the
// target's lifetime only - it never implies exclusive access.
//
// The zero Ref is empty and may be released safely.
type Ref[T Resource] struct {
	target T
	held   bool
}

// NewRef retains target and returns a reference to it.
func NewRef[T Resource](target T) *Ref[T] {
	target.Lifecycle().Retain()
	return &Ref[T]{target: target, held: true}
}

// Get returns the target, or the zero value if the Ref is empty.
func (r *Ref[T]) Get() T {
	if r == nil || !r.held {
		var zero T
		return zero
	}
	return r.target
}

// Clone returns a new reference to the same target, retaining it again.
func (r *Ref[T]) Clone() *Ref[T] {
	if r == nil || !r.held {
		return &Ref[T]{}
	}
	return NewRef(r.target)
}

// Assign repoints the Ref at target, releasing the previous target (if any)
// and retaining the new one. Assigning the current target is a no-op.
func (r *Ref[T]) Assign(target T) {
	if r.held && any(r.target) == any(target) {
		return
	}
	old := r.target
	hadOld := r.held
	r.target = target
	r.held = true
	target.Lifecycle().Retain()
	if hadOld {
		old.Lifecycle().Release()
	}
}

// Release drops the reference. Further calls are no-ops.
func (r *Ref[T]) Release() {
	if r == nil || !r.held {
		return
	}
	r.held = false
	t := r.target
	var zero T
	r.target = zero
	t.Lifecycle().Release()
}
