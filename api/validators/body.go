package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/learnonline/payments-backend/pkg/errors"
)

const maxBodyBytes = 1 << 20

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	return v
}()

// DecodeBody fills dest from a JSON, urlencoded or multipart body and runs
// its validate tags. An empty body leaves dest at its zero value.
func DecodeBody(r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer io.Copy(io.Discard, r.Body)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err = r.ParseForm(); err == nil {
			err = fillFromForm(r.PostForm.Get, r.PostForm.Has, dest)
		}
	case "multipart/form-data":
		if err = r.ParseMultipartForm(maxBodyBytes); err == nil {
			err = fillFromForm(r.PostForm.Get, r.PostForm.Has, dest)
		}
	default:
		if err = json.NewDecoder(r.Body).Decode(dest); errors.Is(err, io.EOF) {
			err = nil
		}
	}
	if err != nil {
		var typed *pkgerrors.Error
		if errors.As(err, &typed) {
			return typed
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
			WithDetails(map[string]any{"body": err.Error()})
	}
	return validateStruct(dest)
}

// fillFromForm copies form values onto the string, integer and bool fields
// of dest, matched by json name. Keys without a field are ignored.
func fillFromForm(get func(string) string, has func(string) bool, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return pkgerrors.New(pkgerrors.CodeInternal, "form destination must be a struct pointer")
	}
	elem := rv.Elem()
	for _, field := range reflect.VisibleFields(elem.Type()) {
		name := jsonName(field)
		if field.Anonymous || !field.IsExported() || name == "-" || !has(name) {
			continue
		}
		raw := get(name)
		target := elem.FieldByIndex(field.Index)
		switch field.Type.Kind() {
		case reflect.String:
			target.SetString(raw)
		case reflect.Int, reflect.Int32, reflect.Int64:
			n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return fieldError(name, "must be a whole number")
			}
			target.SetInt(n)
		case reflect.Bool:
			b, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				return fieldError(name, "must be true or false")
			}
			target.SetBool(b)
		}
	}
	return nil
}

func validateStruct(dest any) error {
	err := validate.Struct(dest)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

func fieldError(field, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(map[string]string{field: msg})
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return "is invalid"
	}
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}
