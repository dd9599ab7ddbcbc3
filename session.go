package rolltable

import (
	"context"
	"fmt"
	"sync"

	"github.com/rolltable/rolltable.go/pkg/authority"
	"github.com/rolltable/rolltable.go/pkg/channel"
	"github.com/rolltable/rolltable.go/pkg/document"
	"github.com/rolltable/rolltable.go/pkg/logger"
	"github.com/rolltable/rolltable.go/pkg/pipeline"
	"github.com/rolltable/rolltable.go/pkg/region"
	"github.com/rolltable/rolltable.go/pkg/settings"
	"github.com/rolltable/rolltable.go/pkg/world"
)

// Session is one user's connection to a world: the local document replica,
// the operation pipeline feeding it, the region event dispatcher and the
// settings registry, all sharing one channel to the authoritative peer.
type Session struct {
	cfg   Config
	log   logger.Logger
	user  document.User
	types *document.Types

	ch          channel.Channel
	auth        *authority.Authority
	collections map[string]*world.Collection
	pipe        *pipeline.Pipeline
	behaviors   *region.BehaviorTypes
	dispatcher  *region.Dispatcher
	settings    *settings.Registry

	wg sync.WaitGroup
}

// SessionParams configures a session beyond its Config. Zero values pick
// the defaults: builtin document types, a websocket channel to cfg.URL (or
// an in-process authority for a GM-hosted session) and the default logger.
type SessionParams struct {
	Config Config
	Logger logger.Logger
	// Types overrides the builtin registry, for game systems carrying
	// their own document types.
	Types *document.Types
	// Channel overrides the transport. Tests wire a loopback here.
	Channel channel.Channel
}

func NewSession(p SessionParams) (*Session, error) {
	// A supplied channel already knows where the peer lives.
	if p.Channel == nil {
		if err := p.Config.validate(); err != nil {
			return nil, err
		}
	} else if p.Config.UserID == "" {
		return nil, fmt.Errorf("session config requires a user id")
	}
	log := p.Logger
	if log == nil {
		log = logger.Default()
	}

	types := p.Types
	if types == nil {
		var err error
		types, err = BuiltinTypes()
		if err != nil {
			return nil, err
		}
	}

	s := &Session{
		cfg:   p.Config,
		log:   log,
		user:  document.User{ID: p.Config.UserID, Name: p.Config.UserName, GM: p.Config.GM},
		types: types,

		collections: make(map[string]*world.Collection, len(rootTypes)),
		behaviors:   region.NewBehaviorTypes(),
	}
	for _, typeName := range rootTypes {
		s.collections[typeName] = world.NewCollection(typeName)
	}

	s.ch = p.Channel
	if s.ch == nil {
		if p.Config.URL == "" {
			// GM-hosted: this session carries the authority in-process.
			s.auth = authority.New(authority.AuthorityParams{
				Hierarchy: worldHierarchy,
				Logger:    log,
			})
			s.ch = authority.NewLoopback(authority.LoopbackParams{
				Authority: s.auth,
				UserID:    p.Config.UserID,
				Logger:    log,
			})
		} else {
			s.ch = channel.NewWebSocketChannel(channel.NewChannelParams{
				BaseURL:     p.Config.URL,
				Marshaler:   channel.CborMarshaler{},
				Unmarshaler: channel.CborUnmarshaler{},
				Logger:      log,
			})
		}
	}

	s.pipe = pipeline.New(pipeline.Params{
		Channel: s.ch,
		Logger:  log,
		User:    s.user,
		Store:   s,
	})
	s.dispatcher = region.NewDispatcher(region.DispatcherParams{
		Logger:    log,
		Behaviors: s.behaviors,
		User:      s.user,
	})
	s.settings = settings.NewRegistry(s.pipe, s.collections[settings.TypeName])

	// Region and behavior document lifecycle raises the coarser region
	// events on every client; unlike containment transitions these are
	// derived from broadcasts each peer already receives, so nobody
	// re-broadcasts them.
	s.collections["scene"].OnDescendant(s.onSceneDescendant)
	return s, nil
}

func (s *Session) onSceneDescendant(ev document.DescendantEvent) {
	switch ev.Doc.TypeName() {
	case "region":
		r := region.Wrap(ev.Doc)
		switch ev.Action {
		case "create":
			s.dispatcher.Dispatch(region.Event{Name: region.EventRegionCreated, Region: r, User: s.user})
		case "delete":
			s.dispatcher.Forget(ev.Doc.ID())
			s.dispatcher.Dispatch(region.Event{Name: region.EventRegionDeleted, Region: r, User: s.user})
		case "update":
			if region.IsBoundaryChange(ev.Changes) {
				s.dispatcher.Dispatch(region.Event{Name: region.EventRegionBoundary, Region: r, User: s.user})
			}
		}
	case "regionBehavior":
		if ev.Action != "update" {
			return
		}
		disabled, ok := ev.Changes["disabled"].(bool)
		if !ok || ev.Doc.Parent() == nil {
			return
		}
		name := region.EventBehaviorEnabled
		if disabled {
			name = region.EventBehaviorDisabled
		}
		s.dispatcher.Dispatch(region.Event{
			Name:   name,
			Data:   map[string]any{"behavior": ev.Doc.ID()},
			Region: region.Wrap(ev.Doc.Parent()),
			User:   s.user,
		})
	}
}

// Connect opens the channel and starts replaying peer broadcasts into
// local state.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.ch.Connect(ctx); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.notificationLoop()
	return nil
}

// Close shuts the channel down and waits for the broadcast loop to drain.
func (s *Session) Close(ctx context.Context) error {
	err := s.ch.Close(ctx)
	s.wg.Wait()
	return err
}

func (s *Session) notificationLoop() {
	defer s.wg.Done()
	for n := range s.ch.Notifications() {
		switch n.Method {
		case "create", "update", "delete":
			if err := s.pipe.ApplyBroadcast(n); err != nil {
				s.log.Error("broadcast replay failed", "method", n.Method, "type", n.Type, "error", err)
			}
		case "regionEvent":
			var msg region.EventMessage
			if err := (channel.CborUnmarshaler{}).Unmarshal(n.Payload, &msg); err != nil {
				s.log.Error("malformed region event", "error", err)
				continue
			}
			if err := s.dispatcher.Replay(msg, s); err != nil {
				s.log.Warn("region event dropped", "region", msg.RegionUUID, "error", err)
			}
		default:
			s.log.Debug("unknown notification ignored", "method", n.Method)
		}
	}
}

func (s *Session) User() document.User { return s.user }

func (s *Session) Settings() *settings.Registry { return s.settings }

func (s *Session) Behaviors() *region.BehaviorTypes { return s.behaviors }

func (s *Session) Dispatcher() *region.Dispatcher { return s.dispatcher }

// Authority returns the in-process authority of a GM-hosted session, nil
// otherwise.
func (s *Session) Authority() *authority.Authority { return s.auth }

// Types implements pipeline.Store.
func (s *Session) Types() *document.Types { return s.types }

// Collection implements pipeline.Store.
func (s *Session) Collection(typeName string) (pipeline.DocumentStore, bool) {
	col, ok := s.collections[typeName]
	if !ok {
		return nil, false
	}
	return col, true
}

// World returns the root collection for a document type.
func (s *Session) World(typeName string) (*world.Collection, bool) {
	col, ok := s.collections[typeName]
	return col, ok
}

// ResolveUUID implements region.Resolver: it walks a dot-joined reference
// string to the live document.
func (s *Session) ResolveUUID(uuid string) (*document.Document, bool) {
	pairs, err := document.ParseUUID(uuid)
	if err != nil {
		return nil, false
	}
	col, ok := s.collections[pairs[0][0]]
	if !ok {
		return nil, false
	}
	current, ok := col.Get(pairs[0][1])
	if !ok {
		return nil, false
	}
	for _, pair := range pairs[1:] {
		current, ok = childByType(current, pair[0], pair[1])
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func childByType(parent *document.Document, childTypeName, id string) (*document.Document, bool) {
	for field, typeName := range parent.Type().Hierarchy {
		if typeName != childTypeName {
			continue
		}
		col, ok := parent.Collection(field)
		if !ok {
			return nil, false
		}
		return col.Get(id)
	}
	return nil, false
}

// BroadcastRegionEvent implements region.Broadcaster; the originating user
// is the sole broadcaster of a computed region event.
func (s *Session) BroadcastRegionEvent(ctx context.Context, msg region.EventMessage) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.ch.Send(ctx, nil, "regionEvent", msg)
}

func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// Create, Update, Delete and Query front the operation pipeline with the
// session's timeout applied.

func (s *Session) Create(ctx context.Context, typeName string, data []map[string]any, opts pipeline.CreateOptions) ([]*document.Document, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.pipe.Create(ctx, typeName, data, opts)
}

func (s *Session) Update(ctx context.Context, typeName string, updates []map[string]any, opts pipeline.UpdateOptions) ([]*document.Document, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.pipe.Update(ctx, typeName, updates, opts)
}

func (s *Session) Delete(ctx context.Context, typeName string, ids []string, opts pipeline.DeleteOptions) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.pipe.Delete(ctx, typeName, ids, opts)
}

func (s *Session) Query(ctx context.Context, typeName string, opts pipeline.GetOptions) ([]map[string]any, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.pipe.Get(ctx, typeName, opts)
}

// UpdateRegionContainment recomputes containment for a scene's regions
// against the subjects' rest positions, dispatches the resulting
// transitions locally and broadcasts each one to the peers.
func (s *Session) UpdateRegionContainment(ctx context.Context, scene *document.Document, subjects []region.Subject) error {
	col, ok := scene.Collection("regions")
	if !ok {
		return fmt.Errorf("document %s has no regions collection", scene.UUID())
	}
	regions := make([]*region.Region, 0, col.Size())
	for _, doc := range col.Contents() {
		regions = append(regions, region.Wrap(doc))
	}
	transitions := s.dispatcher.UpdateContainment(regions, subjects)
	return s.dispatcher.DispatchTransitions(ctx, transitions, s)
}
