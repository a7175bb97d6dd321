package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/boogy/permission-warden/pkg/utils"
	"github.com/go-playground/validator/v10"
)

// permissionPattern accepts scoped permissions such as "get:drinks-detail".
// The "permission" rule also caps the length at MaxPermissionLength.
var permissionPattern = regexp.MustCompile(`^[A-Za-z0-9_.:*/-]*$`)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("permission", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return len(s) <= MaxPermissionLength && permissionPattern.MatchString(s)
	}); err != nil {
		panic(err)
	}
	return v
}

// ValidateRequestData validates the decoded request fields
func ValidateRequestData(requestData *RequestData) error {
	if err := validate.Struct(requestData); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			fe := validationErrs[0]
			return fmt.Errorf("field %s failed %q validation: %w", strings.ToLower(fe.Field()), fe.Tag(), ErrInvalidRequest)
		}
		return fmt.Errorf("%v: %w", err, ErrInvalidRequest)
	}
	return nil
}

// ValidateAuthorizationHeader rejects oversized header values before any parsing
func ValidateAuthorizationHeader(header string) error {
	if len(header) > MaxHeaderLength {
		return ErrHeaderTooLarge
	}
	return nil
}

// ParseRequestBody parses and validates a JSON request body. An empty body requests no specific permission.
func ParseRequestBody(body string) (*RequestData, error) {
	if strings.TrimSpace(body) == "" {
		return &RequestData{}, nil
	}

	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("request body too large: %w", ErrInvalidJSON)
	}

	var requestData RequestData
	if err := json.Unmarshal([]byte(body), &requestData); err != nil {
		slog.Error("Failed to unmarshal request body",
			slog.String("error", err.Error()),
			slog.String("bodyPreview", utils.TruncateString(body, 100)))
		return nil, fmt.Errorf("invalid JSON format: %w", ErrInvalidJSON)
	}

	if err := ValidateRequestData(&requestData); err != nil {
		return nil, err
	}

	return &requestData, nil
}

// decodeBody returns the raw body of a Lambda event, decoding it when the
// event source marked it base64
func decodeBody(body string, isBase64Encoded bool) (string, error) {
	if !isBase64Encoded {
		return body, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("invalid base64 body: %w", ErrInvalidJSON)
	}
	return string(decoded), nil
}
