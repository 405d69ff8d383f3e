package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var trans ut.Translator

var (
	pincodePattern = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	codePattern    = regexp.MustCompile(`^[A-Za-z0-9]+(?:[-_][A-Za-z0-9]+)*$`)
)

// rule is a custom tag together with its English message. The message may
// use {0} for the field name.
type rule struct {
	tag     string
	fn      govalidator.Func
	message string
}

var rules = []rule{
	{
		tag:     "pincode",
		fn:      func(fl govalidator.FieldLevel) bool { return pincodePattern.MatchString(fl.Field().String()) },
		message: "{0} must be a 6-digit postal code",
	},
	{
		tag:     "code",
		fn:      func(fl govalidator.FieldLevel) bool { return codePattern.MatchString(fl.Field().String()) },
		message: "{0} may only contain letters and digits joined by '-' or '_'",
	},
	{
		tag:     "notblank",
		fn:      func(fl govalidator.FieldLevel) bool { return strings.TrimSpace(fl.Field().String()) != "" },
		message: "{0} must not be blank",
	},
}

// Setup installs field naming, the custom rules and English messages on
// Gin's binding engine. Call once at startup.
func Setup() {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(fieldName)

	enLocale := en.New()
	trans, _ = ut.New(enLocale, enLocale).GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, trans)

	for _, r := range rules {
		_ = v.RegisterValidation(r.tag, r.fn)
		_ = v.RegisterTranslation(r.tag, trans, registerMessage(r), translate)
	}
}

// fieldName reports a field by its JSON name, or form name for query
// structs, so errors line up with what the client sent.
func fieldName(fld reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return fld.Name
}

func registerMessage(r rule) govalidator.RegisterTranslationsFunc {
	return func(t ut.Translator) error {
		return t.Add(r.tag, r.message, true)
	}
}

func translate(t ut.Translator, fe govalidator.FieldError) string {
	msg, err := t.T(fe.Tag(), fe.Field())
	if err != nil {
		return fe.Error()
	}
	return msg
}

// TranslateErrors maps a bind error to field -> message. Errors that are
// not validation failures, such as malformed JSON, land under "detail".
func TranslateErrors(err error) map[string]string {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) || trans == nil {
		return map[string]string{"detail": err.Error()}
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		key := fe.Field()
		// Keep the index for elements of slices, e.g. options[2].text.
		if ns := fe.Namespace(); strings.Contains(ns, "[") {
			if _, rest, ok := strings.Cut(ns, "."); ok {
				key = rest
			}
		}
		fields[key] = fe.Translate(trans)
	}
	return fields
}

// Bind decodes and validates a JSON body into dst.
func Bind(c *gin.Context, dst any) map[string]string {
	return check(c.ShouldBindJSON(dst))
}

// BindQuery decodes and validates query parameters into dst.
func BindQuery(c *gin.Context, dst any) map[string]string {
	return check(c.ShouldBindQuery(dst))
}

func check(err error) map[string]string {
	if err == nil {
		return nil
	}
	return TranslateErrors(err)
}
