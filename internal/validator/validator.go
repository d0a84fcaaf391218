package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"github.com/stemsi/examportal/internal/model"
)

var (
	transOnce sync.Once
	// trans is the singleton English translator for validation errors.
	trans ut.Translator
)

var (
	defOnce     sync.Once
	defValidate *govalidator.Validate
)

// Setup registers the validator with English translations on Gin's binding engine.
// Call once during application startup.
func Setup() {
	if v, ok := binding.Validator.Engine().(*govalidator.Validate); ok {
		register(v)
	}
}

func register(v *govalidator.Validate) {
	// Use JSON tag name for field names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Register English translations.
	en_translations.RegisterDefaultTranslations(v, translator())
}

func translator() ut.Translator {
	transOnce.Do(func() {
		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
	})
	return trans
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name → human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(translator())
		}
		return fields
	}

	// Not a validation error (e.g., JSON syntax error).
	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// ─── Exam definitions ──────────────────────────────────────────────────

const tagMCQOptions = "mcq_options"

func definitionValidator() *govalidator.Validate {
	defOnce.Do(func() {
		v := govalidator.New(govalidator.WithRequiredStructEnabled())
		register(v)
		v.RegisterStructValidation(questionDefinitionRules, model.QuestionDefinition{})
		_ = v.RegisterTranslation(tagMCQOptions, translator(),
			func(t ut.Translator) error {
				return t.Add(tagMCQOptions, "{0} must hold 2 to 4 options with exactly one correct", true)
			},
			func(t ut.Translator, fe govalidator.FieldError) string {
				msg, _ := t.T(tagMCQOptions, fe.Field())
				return msg
			},
		)
		defValidate = v
	})
	return defValidate
}

// questionDefinitionRules enforces the per-type option rules: mcq questions
// carry 2..4 options with exactly one marked correct, other types none.
func questionDefinitionRules(sl govalidator.StructLevel) {
	q := sl.Current().Interface().(model.QuestionDefinition)

	if q.Type != model.QuestionTypeMCQ {
		if len(q.Options) > 0 {
			sl.ReportError(q.Options, "options", "Options", "excluded_unless", "")
		}
		return
	}

	correct := 0
	for _, o := range q.Options {
		if o.IsCorrect {
			correct++
		}
	}
	if len(q.Options) < model.MinOptions || len(q.Options) > model.MaxOptions || correct != 1 {
		sl.ReportError(q.Options, "options", "Options", tagMCQOptions, "")
	}
}

// ValidateExamDefinition checks an authored exam definition.
// Returns nil when valid or a translated field error map.
func ValidateExamDefinition(def *model.ExamDefinition) map[string]string {
	if err := definitionValidator().Struct(def); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
