package api

import (
	"fmt"

	"github.com/foundrymidi/bridge/model"
)

// TemplateFromValues assembles a request template from an endpoint
// descriptor and the raw field text a configuration form collected. Values
// are coerced per the descriptor's parameter types and routed to their
// declared locations. Empty text for an optional parameter omits the
// parameter; empty text for a required one is an error. The clientId
// parameter is never stored — the builder injects it on every request.
func TemplateFromValues(desc model.EndpointDescriptor, values map[string]string) (model.RequestTemplate, error) {
	tpl := model.RequestTemplate{
		Endpoint: desc.Path,
		Method:   desc.Method,
	}

	assign := func(p model.ParameterDescriptor, required bool) error {
		if p.Name == clientIDParam {
			return nil
		}
		text, ok := values[p.Name]
		if !ok || text == "" {
			if required {
				return model.NewTemplateError(p.Name)
			}
			return nil
		}

		switch p.Location {
		case "path":
			if tpl.PathParams == nil {
				tpl.PathParams = make(map[string]string)
			}
			tpl.PathParams[p.Name] = text
		case "query":
			v, err := CoerceValue(text, p.Type)
			if err != nil {
				return err
			}
			if tpl.QueryParams == nil {
				tpl.QueryParams = make(map[string]any)
			}
			tpl.QueryParams[p.Name] = v
		case "body":
			v, err := CoerceValue(text, p.Type)
			if err != nil {
				return err
			}
			if tpl.BodyParams == nil {
				tpl.BodyParams = make(map[string]any)
			}
			tpl.BodyParams[p.Name] = v
		default:
			return model.NewParseError(fmt.Sprintf("parameter %q has unknown location %q", p.Name, p.Location))
		}
		return nil
	}

	for _, p := range desc.RequiredParameters {
		if err := assign(p, true); err != nil {
			return model.RequestTemplate{}, err
		}
	}
	for _, p := range desc.OptionalParameters {
		if err := assign(p, false); err != nil {
			return model.RequestTemplate{}, err
		}
	}

	return tpl, nil
}
