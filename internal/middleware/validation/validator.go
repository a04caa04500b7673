package validation

import (
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var markupPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

// Errors maps request fields to messages; empty means valid.
type Errors map[string]string

func (e Errors) Add(field, msg string) {
	if _, exists := e[field]; !exists {
		e[field] = msg
	}
}

func (e Errors) Empty() bool { return len(e) == 0 }

// Required records an error when value is blank or longer than maxLen runes.
func (e Errors) Required(field, value string, maxLen int) {
	switch {
	case strings.TrimSpace(value) == "":
		e.Add(field, "This field is required.")
	case maxLen > 0 && len([]rune(value)) > maxLen:
		e.Add(field, "Ensure this field has no more than "+strconv.Itoa(maxLen)+" characters.")
	}
}

func (e Errors) MaxLen(field, value string, maxLen int) {
	if len([]rune(value)) > maxLen {
		e.Add(field, "Ensure this field has no more than "+strconv.Itoa(maxLen)+" characters.")
	}
}

func (e Errors) Email(field, value string) {
	if value == "" {
		e.Add(field, "This field is required.")
		return
	}
	if !IsValidEmail(value) {
		e.Add(field, "Enter a valid email address.")
	}
}

// URL checks an optional http(s) URL.
func (e Errors) URL(field, value string) {
	if value != "" && !IsValidURL(value) {
		e.Add(field, "Enter a valid URL.")
	}
}

func (e Errors) Markup(field, value string) {
	if ContainsMarkup(value) {
		e.Add(field, "Markup is not allowed.")
	}
}

// OneOf records an error when value is not one of choices.
func (e Errors) OneOf(field, value string, choices []string) {
	for _, c := range choices {
		if c == value {
			return
		}
	}
	e.Add(field, `"`+value+`" is not a valid choice.`)
}

// Respond writes the 400 body used for every validation failure.
func Respond(c *fiber.Ctx, errs Errors) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "Validation failed",
		"fields": errs,
	})
}

func ContainsMarkup(input string) bool {
	return markupPattern.MatchString(input)
}

func Sanitize(input string) string {
	input = strings.TrimSpace(input)
	return strings.ReplaceAll(input, "\x00", "")
}

func IsValidEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func IsValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

type Config struct {
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// ContentTypeMiddleware rejects request bodies in unexpected formats.
func ContentTypeMiddleware(cfg Config) fiber.Handler {
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodPost, fiber.MethodPut, fiber.MethodPatch:
		default:
			return c.Next()
		}

		contentType := c.Get(fiber.HeaderContentType)
		if contentType == "" {
			return c.Next()
		}
		for _, allowed := range cfg.AllowedContentTypes {
			if strings.HasPrefix(strings.ToLower(contentType), allowed) {
				return c.Next()
			}
		}

		cfg.Logger.Debug("Unsupported content type", zap.String("content_type", contentType), zap.String("path", c.Path()))
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": "Unsupported content type",
		})
	}
}
