package document

import "fmt"

// Level is an integer permission tier a user holds on a document. Levels
// are totally ordered; higher grants more.
type Level int

const (
	// LevelInherit is a sentinel used only while normalizing bulk ownership
	// edits; it is never persisted.
	LevelInherit Level = -1
	LevelNone    Level = 0
	LevelLimited Level = 1
	// LevelObserver grants read access.
	LevelObserver Level = 2
	// LevelOwner grants full control, including update and delete.
	LevelOwner Level = 3
)

var levelNames = map[Level]string{
	LevelInherit:  "INHERIT",
	LevelNone:     "NONE",
	LevelLimited:  "LIMITED",
	LevelObserver: "OBSERVER",
	LevelOwner:    "OWNER",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// DefaultOwnershipKey is the ownership map entry applying to every user
// without an explicit entry.
const DefaultOwnershipKey = "default"

// User identifies the acting user of a session.
type User struct {
	ID   string
	Name string
	// GM users hold an implicit OWNER level on every document.
	GM bool
}

// Ownership maps user ids (plus the "default" key) to levels, persisted as
// small integers.
type Ownership map[string]Level

// Effective resolves the user's level: the maximum of the GM override, the
// explicit per-user entry and the default entry.
func (o Ownership) Effective(u User) Level {
	if u.GM {
		return LevelOwner
	}
	level := LevelNone
	if def, ok := o[DefaultOwnershipKey]; ok && def > level {
		level = def
	}
	if explicit, ok := o[u.ID]; ok && explicit > level {
		level = explicit
	}
	return level
}

// ApplyEdit returns a copy of the ownership map with the bulk edits
// applied. An INHERIT entry clears the explicit per-user entry rather than
// being stored.
func (o Ownership) ApplyEdit(edits map[string]Level) Ownership {
	out := make(Ownership, len(o)+len(edits))
	for key, level := range o {
		out[key] = level
	}
	for key, level := range edits {
		if level == LevelInherit {
			delete(out, key)
			continue
		}
		out[key] = level
	}
	return out
}

// encode converts the map to the plain integer form used on the wire.
func (o Ownership) encode() map[string]any {
	out := make(map[string]any, len(o))
	for key, level := range o {
		out[key] = int64(level)
	}
	return out
}

// decodeOwnership reads the plain integer wire form, dropping non-numeric
// entries and the INHERIT sentinel.
func decodeOwnership(raw map[string]any) Ownership {
	out := make(Ownership, len(raw))
	for key, v := range raw {
		n, ok := toNumber(v)
		if !ok {
			continue
		}
		level := Level(int(n))
		if level == LevelInherit {
			continue
		}
		out[key] = level
	}
	return out
}
