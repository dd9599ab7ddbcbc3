// Package rolltable is a document synchronization core for virtual
// tabletop worlds. A Session holds the local replica of the world's
// documents — actors, items, scenes, tokens, regions, settings — and keeps
// it consistent with one authoritative peer over an asynchronous channel:
// every mutation is validated and permission-checked locally, dispatched,
// and applied on acknowledgment; peer mutations arrive as broadcasts and
// are replayed into local state.
package rolltable
