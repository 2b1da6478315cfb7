package model

import "errors"

// ErrNoResponse is returned when a model finished without a final response.
var ErrNoResponse = errors.New("model returned no final response")
