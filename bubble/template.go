package bubble

// TemplateParams is the flat, user-facing constructor shape for the
// handler-facing `bubble(...)` call in spec.md §6.3. Role/Type default to
// "assistant"/"text" when empty.
type TemplateParams struct {
	ID      string
	Role    string
	Type    string
	Content string

	// Name, Icon, and CollapsibleTitle are **string (see bubble.Str/bubble.Null):
	// nil means "leave unset", Null() means "explicitly hide this field".
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

	Extra map[string]any
}

func (p TemplateParams) toFlatParams() FlatParams {
	return FlatParams{
		Name:                 p.Name,
		Icon:                 p.Icon,
		Collapsible:          p.Collapsible,
		CollapsibleByDefault: p.CollapsibleByDefault,
		CollapsibleTitle:     p.CollapsibleTitle,
		CollapsibleMaxHeight: p.CollapsibleMaxHeight,
		BubbleBG:             p.BubbleBG,
		BubbleText:           p.BubbleText,
		BubbleBorder:         p.BubbleBorder,
		HeaderBG:             p.HeaderBG,
		HeaderText:           p.HeaderText,
		HeaderBorder:         p.HeaderBorder,
		HeaderIconBG:         p.HeaderIconBG,
		HeaderIconText:       p.HeaderIconText,
		Extra:                p.Extra,
	}
}

// Template is a detached, reusable bubble description with no session
// affiliation (spec.md §9 Open Question: send() does not mutate the
// template, it returns a newly bound Bubble each call). Pure — building
// one requires no active context.
type Template struct {
	id      string
	role    string
	kind    string
	content string
	patch   Patch
}

// NewTemplate builds a Template from flat constructor parameters,
// validating any forbidden keys nested in Extra.
func NewTemplate(p TemplateParams) (Template, error) {
	patch, err := ToPatch(p.toFlatParams())
	if err != nil {
		return Template{}, err
	}

	role := p.Role
	if role == "" {
		role = "assistant"
	}
	kind := p.Type
	if kind == "" {
		kind = "text"
	}

	return Template{id: p.ID, role: role, kind: kind, content: p.Content, patch: patch}, nil
}

// ID returns the template's requested bubble id, or "" if one should be
// generated at bind time.
func (t Template) ID() string { return t.id }

// Role returns the template's bubble role.
func (t Template) Role() string { return t.role }

// Kind returns the template's bubble type.
func (t Template) Kind() string { return t.kind }

// Content returns the template's pending initial content, if any.
func (t Template) Content() string { return t.content }

// Patch returns the template's initial config patch.
func (t Template) Patch() Patch { return t.patch }
