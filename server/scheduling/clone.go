package scheduling

import "github.com/emersion/go-ical"

// Deep copies. go-ical components share Props maps and Params maps by
// reference; the factories below must never hand out documents that alias
// the stored object.

func cloneParams(params ical.Params) ical.Params {
	out := make(ical.Params, len(params))
	for name, values := range params {
		out[name] = append([]string(nil), values...)
	}
	return out
}

func cloneProp(prop ical.Prop) ical.Prop {
	return ical.Prop{
		Name:   prop.Name,
		Params: cloneParams(prop.Params),
		Value:  prop.Value,
	}
}

func cloneProps(props ical.Props) ical.Props {
	out := make(ical.Props, len(props))
	for name, values := range props {
		cloned := make([]ical.Prop, 0, len(values))
		for _, prop := range values {
			cloned = append(cloned, cloneProp(prop))
		}
		out[name] = cloned
	}
	return out
}

func cloneComponent(comp *ical.Component) *ical.Component {
	out := ical.NewComponent(comp.Name)
	out.Props = cloneProps(comp.Props)
	for _, child := range comp.Children {
		out.Children = append(out.Children, cloneComponent(child))
	}
	return out
}

func cloneCalendar(cal *ical.Calendar) *ical.Calendar {
	return &ical.Calendar{Component: cloneComponent(cal.Component)}
}
