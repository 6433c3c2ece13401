package utils

import "errors"

// ErrorRecordNotFound is returned by every fetch helper when the row does
// not exist; transport layers map it to a 404.
var ErrorRecordNotFound = errors.New("record not found")
