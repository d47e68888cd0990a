// Package session holds the cascading vehicle selection form behind one
// estimate, from the first dropdown to the calculated breakdown.
package session

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Field is one of the five chained selections.
type Field int

// Fields in dependency order. Each requires every earlier field.
const (
	FieldMarca Field = iota
	FieldModelo
	FieldEspecificacion
	FieldAno
	FieldPais
)

// Fields lists every field in order.
var Fields = []Field{FieldMarca, FieldModelo, FieldEspecificacion, FieldAno, FieldPais}

var fieldNames = [...]string{"marca", "modelo", "especificacion", "ano", "pais"}

func (f Field) String() string {
	if f < 0 || int(f) >= len(fieldNames) {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// Sentinel errors returned by Form.
var (
	ErrUnknownField      = eris.New("session: unknown field")
	ErrPrefixIncomplete  = eris.New("session: previous fields must be set first")
	ErrInvalidYear       = eris.New("session: ano must be a whole number")
	ErrAlreadyCalculated = eris.New("session: already calculated, start a new search")
	ErrSelectionChanged  = eris.New("session: selection changed during calculation")
	ErrNotFound          = eris.New("session: not found")
)

// ParseField maps a field name ("marca", "año", ...) to a Field.
func ParseField(name string) (Field, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "año" {
		n = "ano"
	}
	for i, fn := range fieldNames {
		if fn == n {
			return Field(i), nil
		}
	}
	return 0, eris.Wrapf(ErrUnknownField, "session: field %q", name)
}

// User-facing messages for rejected calculations.
const (
	MsgMissingFields = "Por favor complete todos los campos requeridos."
	MsgNotFound      = "No se pudieron calcular los costos. Verifique los datos del vehículo o intente más tarde."
)

// ValidationError rejects a calculation with a message meant for the user.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
