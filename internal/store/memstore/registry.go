package memstore

import "context"

type registryMsg interface{ isRegistryMsg() }

// ensureDoc returns the document at Path, starting one if needed.
type ensureDoc struct {
	Path  string
	Reply chan *document
}

type shutdownRegistry struct{}

func (ensureDoc) isRegistryMsg()        {}
func (shutdownRegistry) isRegistryMsg() {}

type registry struct {
	inbox  chan registryMsg
	docs   map[string]*document
	ctx    context.Context
	cancel context.CancelFunc
}

func newRegistry(parent context.Context) *registry {
	ctx, cancel := context.WithCancel(parent)
	r := &registry{
		inbox:  make(chan registryMsg, 64),
		docs:   make(map[string]*document),
		ctx:    ctx,
		cancel: cancel,
	}
	go r.loop()
	return r
}

func (r *registry) loop() {
	for {
		select {
		case <-r.ctx.Done():
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case ensureDoc:
				if d := r.docs[msg.Path]; d != nil {
					msg.Reply <- d
					break
				}
				d := newDocument(r.ctx)
				r.docs[msg.Path] = d
				msg.Reply <- d

			case shutdownRegistry:
				for _, d := range r.docs {
					d.inbox <- shutdown{}
				}
				clear(r.docs)
				r.cancel()
				return
			}
		}
	}
}

func (r *registry) ensure(ctx context.Context, path string) (*document, error) {
	reply := make(chan *document, 1)
	select {
	case r.inbox <- ensureDoc{Path: path, Reply: reply}:
	case <-r.ctx.Done():
		return nil, errClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case d := <-reply:
		return d, nil
	case <-r.ctx.Done():
		return nil, errClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
