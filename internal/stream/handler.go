package stream

// Handler implements the listen/cancel callbacks a host shell invokes for one
// event channel. It refers to the registry; the registry never refers back.
type Handler struct {
	registry *Registry
	category Category
}

// Handler returns the host-facing stream handler for c.
func (r *Registry) Handler(c Category) *Handler {
	return &Handler{registry: r, category: c}
}

// Handlers returns one handler per category, keyed by channel name.
func (r *Registry) Handlers() map[string]*Handler {
	out := make(map[string]*Handler, len(Categories()))
	for _, c := range Categories() {
		out[c.ChannelName()] = r.Handler(c)
	}
	return out
}

// Category returns the stream this handler serves.
func (h *Handler) Category() Category {
	return h.category
}

// OnListen attaches events as the destination of the stream, replacing any
// previous listener. The returned token lets the caller release only its own
// attachment later.
func (h *Handler) OnListen(_ any, events Sink) (Token, error) {
	token, _ := h.registry.Attach(h.category, events)
	return token, nil
}

// OnCancel clears the stream destination.
func (h *Handler) OnCancel(_ any) error {
	h.registry.Detach(h.category)
	return nil
}

// Release detaches t's sink only if it is still the active one.
func (h *Handler) Release(t Token) bool {
	return h.registry.Release(t)
}
