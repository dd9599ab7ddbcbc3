package rolltable

import (
	"github.com/rolltable/rolltable.go/pkg/authority"
	"github.com/rolltable/rolltable.go/pkg/document"
	"github.com/rolltable/rolltable.go/pkg/region"
	"github.com/rolltable/rolltable.go/pkg/schema"
	"github.com/rolltable/rolltable.go/pkg/settings"
)

// Root document types a session keeps a world collection for.
var rootTypes = []string{"actor", "item", "scene", settings.TypeName, "chatMessage"}

// worldHierarchy names, per parent type, the embedded field holding each
// child type. Shared with an in-process authority so both ends route
// parentUuid paths identically.
var worldHierarchy = authority.Hierarchy{
	"actor":  {"item": "items", "effect": "effects"},
	"item":   {"effect": "effects"},
	"scene":  {"token": "tokens", "region": "regions"},
	"region": {"regionBehavior": region.BehaviorsField},
}

// BuiltinTypes registers the core document types. Game systems extend the
// registry with their own types before the session connects.
func BuiltinTypes() (*document.Types, error) {
	types := document.NewTypes()
	for _, dt := range []*document.Type{
		actorType(), itemType(), effectType(),
		sceneType(), tokenType(), regionType(), regionBehaviorType(),
		settingType(), chatMessageType(),
	} {
		if err := types.Register(dt); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func actorType() *document.Type {
	return &document.Type{
		Name: "actor",
		Schema: schema.Schema{
			"name":   &schema.StringField{FieldOptions: schema.FieldOptions{Required: true}},
			"img":    &schema.StringField{Blank: true, FieldOptions: schema.FieldOptions{Default: ""}},
			"sort":   &schema.NumberField{FieldOptions: schema.FieldOptions{Default: float64(0)}},
			"system": &schema.ObjectField{FieldOptions: schema.FieldOptions{Default: map[string]any{}}},
		},
		Hierarchy: map[string]string{"items": "item", "effects": "effect"},
	}
}

func itemType() *document.Type {
	return &document.Type{
		Name: "item",
		Schema: schema.Schema{
			"name":   &schema.StringField{FieldOptions: schema.FieldOptions{Required: true}},
			"img":    &schema.StringField{Blank: true, FieldOptions: schema.FieldOptions{Default: ""}},
			"sort":   &schema.NumberField{FieldOptions: schema.FieldOptions{Default: float64(0)}},
			"system": &schema.ObjectField{FieldOptions: schema.FieldOptions{Default: map[string]any{}}},
		},
		Hierarchy: map[string]string{"effects": "effect"},
	}
}

func effectType() *document.Type {
	return &document.Type{
		Name: "effect",
		Schema: schema.Schema{
			"name":     &schema.StringField{FieldOptions: schema.FieldOptions{Required: true}},
			"origin":   &schema.StringField{FieldOptions: schema.FieldOptions{Nullable: true}},
			"disabled": &schema.BooleanField{FieldOptions: schema.FieldOptions{Default: false}},
			"system":   &schema.ObjectField{FieldOptions: schema.FieldOptions{Default: map[string]any{}}},
		},
	}
}

func sceneType() *document.Type {
	return &document.Type{
		Name: "scene",
		Schema: schema.Schema{
			"name":   &schema.StringField{FieldOptions: schema.FieldOptions{Required: true}},
			"active": &schema.BooleanField{FieldOptions: schema.FieldOptions{Default: false}},
			"sort":   &schema.NumberField{FieldOptions: schema.FieldOptions{Default: float64(0)}},
		},
		Hierarchy: map[string]string{"tokens": "token", "regions": "region"},
	}
}

func tokenType() *document.Type {
	return &document.Type{
		Name: "token",
		Schema: schema.Schema{
			"name":      &schema.StringField{Blank: true, FieldOptions: schema.FieldOptions{Default: ""}},
			"x":         &schema.NumberField{FieldOptions: schema.FieldOptions{Default: float64(0)}},
			"y":         &schema.NumberField{FieldOptions: schema.FieldOptions{Default: float64(0)}},
			"elevation": &schema.NumberField{FieldOptions: schema.FieldOptions{Default: float64(0)}},
			"hidden":    &schema.BooleanField{FieldOptions: schema.FieldOptions{Default: false}},
			// actorId points at the base actor; actorLink selects linked
			// mode, where the token mirrors the base instead of carrying a
			// delta override.
			"actorId":   &schema.StringField{FieldOptions: schema.FieldOptions{Nullable: true}},
			"actorLink": &schema.BooleanField{FieldOptions: schema.FieldOptions{Default: false}},
			"delta":     &schema.ObjectField{FieldOptions: schema.FieldOptions{Default: map[string]any{}}},
		},
	}
}

func regionType() *document.Type {
	return &document.Type{
		Name: "region",
		Schema: schema.Schema{
			"name":   &schema.StringField{FieldOptions: schema.FieldOptions{Required: true}},
			"shapes": &schema.ArrayField{Element: &schema.ObjectField{}},
			"elevation": &schema.SchemaField{Schema: schema.Schema{
				"bottom": &schema.NumberField{FieldOptions: schema.FieldOptions{Nullable: true}},
				"top":    &schema.NumberField{FieldOptions: schema.FieldOptions{Nullable: true}},
			}},
		},
		Hierarchy: map[string]string{region.BehaviorsField: "regionBehavior"},
	}
}

func regionBehaviorType() *document.Type {
	return &document.Type{
		Name: "regionBehavior",
		Schema: schema.Schema{
			"type":     &schema.StringField{FieldOptions: schema.FieldOptions{Required: true}},
			"events":   &schema.ArrayField{Element: &schema.StringField{}},
			"disabled": &schema.BooleanField{FieldOptions: schema.FieldOptions{Default: false}},
			"system":   &schema.ObjectField{FieldOptions: schema.FieldOptions{Default: map[string]any{}}},
		},
	}
}

func settingType() *document.Type {
	return &document.Type{
		Name: settings.TypeName,
		Schema: schema.Schema{
			"key":   &schema.StringField{FieldOptions: schema.FieldOptions{Required: true}},
			"value": &schema.AnyField{FieldOptions: schema.FieldOptions{Nullable: true}},
		},
	}
}

func chatMessageType() *document.Type {
	return &document.Type{
		Name: "chatMessage",
		Schema: schema.Schema{
			"content": &schema.StringField{Blank: true, FieldOptions: schema.FieldOptions{Default: ""}},
			"speaker": &schema.ObjectField{FieldOptions: schema.FieldOptions{Default: map[string]any{}}},
			"whisper": &schema.ArrayField{Element: &schema.IDField{}},
		},
	}
}
