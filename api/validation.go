package api

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"todo-api/domain"
)

//go:embed schema/task_create.json
var taskCreateSchemaJSON []byte

const taskCreateSchemaURL = "https://todo-api.local/schema/task_create.json"

var taskCreateSchema = mustCompileSchema(taskCreateSchemaURL, taskCreateSchemaJSON)

func mustCompileSchema(url string, data []byte) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("api: load schema %s: %v", url, err))
	}
	schema, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("api: compile schema %s: %v", url, err))
	}
	return schema
}

// FieldError describes one rejected part of a request body. Loc is the path
// to the offending value, starting with "body".
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// ValidationError carries every field error found in a request body.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = strings.Join(f.Loc, ".") + ": " + f.Msg
	}
	return "invalid request body: " + strings.Join(parts, "; ")
}

// decodeTaskCreate parses and validates a TaskCreate request body. The body
// is checked against the TaskCreate schema before it is decoded, so an
// invalid payload never reaches storage.
func decodeTaskCreate(body []byte) (domain.TaskCreate, error) {
	var doc interface{}
	if err := sonic.Unmarshal(body, &doc); err != nil {
		return domain.TaskCreate{}, &ValidationError{Fields: []FieldError{{
			Loc:  []string{"body"},
			Msg:  "JSON decode error",
			Type: "json_invalid",
		}}}
	}

	if err := taskCreateSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !errors.As(err, &ve) {
			return domain.TaskCreate{}, err
		}
		return domain.TaskCreate{}, &ValidationError{Fields: schemaFieldErrors(ve)}
	}

	var in domain.TaskCreate
	if err := sonic.Unmarshal(body, &in); err != nil {
		return domain.TaskCreate{}, &ValidationError{Fields: []FieldError{{
			Loc:  []string{"body"},
			Msg:  err.Error(),
			Type: "value_error",
		}}}
	}
	in = in.WithDefaults()
	if err := in.Validate(); err != nil {
		return domain.TaskCreate{}, &ValidationError{Fields: domainFieldErrors(err)}
	}
	return in, nil
}

func schemaFieldErrors(ve *jsonschema.ValidationError) []FieldError {
	var out []FieldError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) > 0 {
			for _, c := range e.Causes {
				walk(c)
			}
			return
		}
		out = append(out, leafFieldError(e))
	}
	walk(ve)

	sort.SliceStable(out, func(i, j int) bool {
		return strings.Join(out[i].Loc, "/") < strings.Join(out[j].Loc, "/")
	})
	return out
}

func leafFieldError(e *jsonschema.ValidationError) FieldError {
	keyword := e.KeywordLocation
	if i := strings.LastIndex(keyword, "/"); i >= 0 {
		keyword = keyword[i+1:]
	}

	loc := []string{"body"}
	for _, part := range strings.Split(strings.TrimPrefix(e.InstanceLocation, "/"), "/") {
		if part != "" {
			loc = append(loc, part)
		}
	}

	fe := FieldError{Loc: loc, Msg: e.Message, Type: keyword}
	switch keyword {
	case "required":
		fe.Type = "missing"
		fe.Msg = "Field required"
		if name := quotedName(e.Message); name != "" {
			fe.Loc = append(fe.Loc, name)
		}
	case "enum":
		fe.Type = "enum"
		fe.Msg = "Input should be " + enumChoices(loc[len(loc)-1])
	case "minLength":
		fe.Type = "string_too_short"
		fe.Msg = "String should have at least 1 character"
	case "type":
		fe.Type = "type_error"
	case "format":
		fe.Type = "date_from_datetime_parsing"
		fe.Msg = "Input should be a valid date in the format YYYY-MM-DD"
	}
	return fe
}

// quotedName extracts the first 'quoted' word from a schema message such as
// "missing properties: 'title'".
func quotedName(msg string) string {
	start := strings.IndexByte(msg, '\'')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(msg[start+1:], '\'')
	if end < 0 {
		return ""
	}
	return msg[start+1 : start+1+end]
}

func enumChoices(field string) string {
	var values []string
	switch field {
	case "priority":
		for _, p := range domain.Priorities {
			values = append(values, "'"+string(p)+"'")
		}
	case "category":
		for _, c := range domain.Categories {
			values = append(values, "'"+string(c)+"'")
		}
	default:
		return "one of the allowed values"
	}
	if len(values) == 1 {
		return values[0]
	}
	return strings.Join(values[:len(values)-1], ", ") + " or " + values[len(values)-1]
}

func domainFieldErrors(err error) []FieldError {
	var out []FieldError
	add := func(target error, field, typ string) {
		if errors.Is(err, target) {
			out = append(out, FieldError{Loc: []string{"body", field}, Msg: target.Error(), Type: typ})
		}
	}
	add(domain.ErrEmptyTitle, "title", "string_too_short")
	add(domain.ErrInvalidPriority, "priority", "enum")
	add(domain.ErrInvalidCategory, "category", "enum")
	add(domain.ErrInvalidDate, "due_date", "date_parsing")
	if len(out) == 0 {
		out = append(out, FieldError{Loc: []string{"body"}, Msg: err.Error(), Type: "value_error"})
	}
	return out
}
