package embeddings

import (
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

func errAsAPIError(err error, target **openai.APIError) bool {
	return errors.As(err, target)
}

func errAsRequestError(err error, target **openai.RequestError) bool {
	return errors.As(err, target)
}
