package harness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/petroverify/internal/assertion"
	"github.com/roach88/petroverify/internal/browser"
	"github.com/roach88/petroverify/internal/jsonpath"
)

// Extractor derives one context value from a step's passing observation.
type Extractor struct {
	Key  string
	Desc string
	From func(obs assertion.Observation) (any, error)
}

// ExtractJSON stores the JSON value at path in the response body under key.
// Empty strings and nulls are rejected so that a missing identifier fails
// the step that should have produced it.
func ExtractJSON(key, path string) Extractor {
	return Extractor{
		Key:  key,
		Desc: path,
		From: func(obs assertion.Observation) (any, error) {
			if obs.Response == nil {
				return nil, errors.New("no HTTP response observed")
			}
			v, err := obs.Response.Get(path)
			if err != nil {
				return nil, err
			}
			if v == nil {
				return nil, fmt.Errorf("%s is null", path)
			}
			if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
				return nil, fmt.Errorf("%s is empty", path)
			}
			return v, nil
		},
	}
}

// ExtractValue stores the observation's Value under key.
func ExtractValue(key string) Extractor {
	return Extractor{
		Key:  key,
		Desc: "value",
		From: func(obs assertion.Observation) (any, error) {
			if obs.Value == nil {
				return nil, errors.New("no value observed")
			}
			return obs.Value, nil
		},
	}
}

// ExtractText stores the visible text of the first visible element at l.
func ExtractText(key string, l browser.Locator) Extractor {
	return Extractor{
		Key:  key,
		Desc: l.String(),
		From: func(obs assertion.Observation) (any, error) {
			if obs.Page == nil {
				return nil, errors.New("no page observed")
			}
			els, err := obs.Page.Find(l)
			if err != nil {
				return nil, err
			}
			for _, el := range els {
				if el.Visible {
					return el.Text, nil
				}
			}
			return nil, browser.NotFound("extract", l)
		},
	}
}

// ExtractAttr stores attribute attr of the first element at l, visible or
// not. Pages carry identifiers such as data-workflow-id this way.
func ExtractAttr(key string, l browser.Locator, attr string) Extractor {
	return Extractor{
		Key:  key,
		Desc: fmt.Sprintf("%s@%s", l, attr),
		From: func(obs assertion.Observation) (any, error) {
			if obs.Page == nil {
				return nil, errors.New("no page observed")
			}
			els, err := obs.Page.Find(l)
			if err != nil {
				return nil, err
			}
			for _, el := range els {
				if v, ok := el.Attrs[attr]; ok && strings.TrimSpace(v) != "" {
					return v, nil
				}
			}
			return nil, fmt.Errorf("no %s attribute on %s", attr, l)
		},
	}
}

// ExtractWhere stores field of the first element of the array at path whose
// values match fields, e.g. the id of the jurisdiction with code US-TX.
func ExtractWhere(key, path string, fields map[string]any, field string) Extractor {
	return Extractor{
		Key:  key,
		Desc: fmt.Sprintf("%s[%v].%s", path, fields, field),
		From: func(obs assertion.Observation) (any, error) {
			if obs.Response == nil {
				return nil, errors.New("no HTTP response observed")
			}
			els, err := jsonpath.Elements(obs.Response.Body, path)
			if err != nil {
				return nil, err
			}
			for _, el := range els {
				if !matches(el, fields) {
					continue
				}
				v, err := jsonpath.Get(el, field)
				if err != nil {
					return nil, err
				}
				return v, nil
			}
			return nil, fmt.Errorf("no element of %s matches %v", path, fields)
		},
	}
}

func matches(el []byte, fields map[string]any) bool {
	for k, want := range fields {
		got, err := jsonpath.Get(el, k)
		if err != nil || !assertion.Equal(want, got) {
			return false
		}
	}
	return true
}
