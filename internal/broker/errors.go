package broker

import "errors"

var ErrUnknownSecretRef = errors.New("broker: unknown secret reference")
