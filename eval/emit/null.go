package emit

// NullEmitter implements Emitter by discarding all events. Use it when
// observability output is unwanted, or in tests that do not inspect
// events.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
