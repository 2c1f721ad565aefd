package bubble

import (
	"github.com/Chomosuke9/Bubblekit/bkerrors"
)

// autoSentinel is the flat-parameter value meaning "no change to this key".
const autoSentinel = "auto"

// forbiddenFlatKeys are keys a patch may never set directly at the flat,
// user-facing layer. "colors" is forbidden here because color updates are
// expressed through the dedicated color knobs and merged structurally, not
// replaced wholesale.
var forbiddenFlatKeys = map[string]bool{
	"id":     true,
	"config": true,
	"colors": true,
}

// Config is the structured, recognized-key configuration attached to a
// bubble. Colors nest two levels deep (group -> field -> value); Extra
// carries arbitrary forwarded fields.
type Config struct {
	Name                 *string        `json:"name,omitempty"`
	Icon                 *string        `json:"icon,omitempty"`
	Collapsible          *bool          `json:"collapsible,omitempty"`
	CollapsibleByDefault *bool          `json:"collapsible_by_default,omitempty"`
	CollapsibleTitle     *string        `json:"collapsible_title,omitempty"`
	CollapsibleMaxHeight any            `json:"collapsible_max_height,omitempty"`
	Colors               map[string]map[string]string `json:"colors,omitempty"`
	Extra                map[string]any `json:"extra,omitempty"`
}

// Patch is a sparse update to a Config: every field is optional, and a nil
// field means "no change to this key". This mirrors the flat→nested
// translator's contract in spec.md §4.2: the sentinel "auto" at the flat
// parameter layer becomes an omitted (nil) field here.
type Patch struct {
	Name                 **string
	Icon                 **string
	Collapsible          *bool
	CollapsibleByDefault *bool
	CollapsibleTitle     **string
	CollapsibleMaxHeight *any
	Colors               map[string]map[string]string
	Extra                map[string]any

	// Role and Type travel alongside a config patch for the wire-frame
	// "role/type may change via config update" rule in spec.md §3. They
	// are not part of Config itself (Config belongs to one bubble whose
	// Role/Type live on the Bubble).
	Role *string
	Type *string
}

// Str wraps s as a FlatParams/TemplateParams **string field carrying a
// real value, distinct from both "omitted" (nil) and Null() ("explicitly
// hide this field").
func Str(s string) **string {
	p := &s
	return &p
}

// Null returns a FlatParams/TemplateParams **string field explicitly set
// to null, so a caller can request "hide this field" rather than merely
// leaving it unmentioned. Config.Name/Icon/CollapsibleTitle are
// string-or-null at the wire layer (spec.md §3); a bare *string can't
// distinguish "omitted" from "null" since both are the zero value, so
// FlatParams/TemplateParams carry these three fields one level deeper,
// matching Patch's own **string fields above.
func Null() **string {
	var p *string
	return &p
}

// FlatParams is the user-facing flat constructor/patch shape (spec.md §4.2):
// bubble_*/header_* color knobs, UI hints, and a free-form Extra map. Any
// color value equal to "auto" means "omit this key". Name/Icon/
// CollapsibleTitle are **string so a caller can tell ToPatch to hide the
// field (Null()) rather than only ever being able to omit or set it.
type FlatParams struct {
	Name **string
	Icon **string

	Collapsible          *bool
	CollapsibleByDefault *bool
	CollapsibleTitle     **string
	CollapsibleMaxHeight any

	BubbleBG     string
	BubbleText   string
	BubbleBorder string

	HeaderBG       string
	HeaderText     string
	HeaderBorder   string
	HeaderIconBG   string
	HeaderIconText string

	Role *string
	Type *string

	Extra map[string]any
}

// ToPatch builds the nested Patch the runtime applies, grouping bubble_*/
// header_* fields into colors.bubble.*/colors.header.*, omitting any value
// equal to "auto", and folding Extra into the patch after validating it
// carries none of the forbidden keys.
func ToPatch(p FlatParams) (Patch, error) {
	patch := Patch{
		Name:                 p.Name,
		Icon:                 p.Icon,
		Collapsible:          p.Collapsible,
		CollapsibleByDefault: p.CollapsibleByDefault,
		CollapsibleTitle:     p.CollapsibleTitle,
		Role:                 p.Role,
		Type:                 p.Type,
	}

	if p.CollapsibleMaxHeight != nil {
		patch.CollapsibleMaxHeight = &p.CollapsibleMaxHeight
	}

	colors := map[string]map[string]string{}
	addColor(colors, "bubble", "bg", p.BubbleBG)
	addColor(colors, "bubble", "text", p.BubbleText)
	addColor(colors, "bubble", "border", p.BubbleBorder)
	addColor(colors, "header", "bg", p.HeaderBG)
	addColor(colors, "header", "text", p.HeaderText)
	addColor(colors, "header", "border", p.HeaderBorder)
	addColor(colors, "header", "iconBg", p.HeaderIconBG)
	addColor(colors, "header", "iconText", p.HeaderIconText)
	if len(colors) > 0 {
		patch.Colors = colors
	}

	if len(p.Extra) > 0 {
		if err := validateExtra(p.Extra); err != nil {
			return Patch{}, err
		}
		patch.Extra = p.Extra
	}

	return patch, nil
}

func addColor(colors map[string]map[string]string, group, field, value string) {
	if value == "" || value == autoSentinel {
		return
	}
	if colors[group] == nil {
		colors[group] = map[string]string{}
	}
	colors[group][field] = value
}

// validateExtra rejects forbidden keys nested inside an extra map, the
// "forbidden keys ... as nested extra" rule in spec.md boundary behaviors.
func validateExtra(extra map[string]any) error {
	for k := range extra {
		if forbiddenFlatKeys[k] {
			return bkerrors.New("bubble", "ToPatch", nil).
				WithKind(bkerrors.KindInvalidConfig).
				WithDetails(map[string]any{"key": k})
		}
	}
	return nil
}

// ValidateFlatPatchKeys rejects a raw key set containing a forbidden flat
// key (id, config, colors), for callers that build patches from untyped
// maps (e.g. an HTTP request body) rather than FlatParams.
func ValidateFlatPatchKeys(keys []string) error {
	for _, k := range keys {
		if forbiddenFlatKeys[k] {
			return bkerrors.New("bubble", "Config", nil).
				WithKind(bkerrors.KindInvalidConfig).
				WithDetails(map[string]any{"key": k})
		}
	}
	return nil
}
