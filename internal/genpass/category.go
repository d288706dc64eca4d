// Package genpass drives the genpass compute module: lifecycle, input
// validation, boundary marshalling and the save artifact.
package genpass

import "strings"

// Category selects what the module generates.
type Category uint32

const (
	Username Category = iota
	Password
	PasswordSpecial
	Pin4
	Pin6
	Pin12
)

// DefaultCategory is used when no category is selected.
const DefaultCategory = Password

var categoryNames = [...]string{
	Username:        "username",
	Password:        "password",
	PasswordSpecial: "passwordspecial",
	Pin4:            "pin4",
	Pin6:            "pin6",
	Pin12:           "pin12",
}

// fallbackBaseName names artifacts for categories the module reports outside
// the enumeration.
const fallbackBaseName = "data"

// Categories returns every category in enumeration order.
func Categories() []Category {
	return []Category{Username, Password, PasswordSpecial, Pin4, Pin6, Pin12}
}

// ParseCategory maps a category token to its value. An empty token selects
// DefaultCategory; any other unknown token is an error.
func ParseCategory(token string) (Category, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return DefaultCategory, nil
	}
	for i, name := range categoryNames {
		if name == token {
			return Category(i), nil
		}
	}
	return 0, &UnknownCategoryError{Token: token}
}

// CategoryFromValue validates a numeric category.
func CategoryFromValue(v int64) (Category, error) {
	if v < 0 || v > int64(Pin12) {
		return 0, &InvalidCategoryError{Value: v}
	}
	return Category(v), nil
}

// Valid reports whether c is inside the enumeration.
func (c Category) Valid() bool {
	return c <= Pin12
}

// String returns the category token, or "data" outside the enumeration.
func (c Category) String() string {
	if !c.Valid() {
		return fallbackBaseName
	}
	return categoryNames[c]
}

// BaseName is the file name prefix of save artifacts for c.
func (c Category) BaseName() string {
	return c.String()
}
