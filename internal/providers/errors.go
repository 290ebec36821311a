package providers

import (
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

func asAPIError(err error, target **openai.APIError) bool {
	return errors.As(err, target)
}

func asRequestError(err error, target **openai.RequestError) bool {
	return errors.As(err, target)
}
