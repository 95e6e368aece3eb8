// Package parser разбирает строки последовательного протокола платы датчиков.
// Формат строки: elapsed_ms,pm25_raw,gas_raw
package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"envira-service/internal/models"
)

// FieldCount количество полей в строке кадра
const FieldCount = 3

// fieldNames имена полей в порядке следования
var fieldNames = [FieldCount]string{"elapsed_ms", "pm25_raw", "gas_raw"}

// ErrNoise пустая строка или служебный вывод платы, отбрасывается молча
var ErrNoise = errors.New("not a data line")

// FieldCountError неверное количество полей
type FieldCountError struct {
	Got int
}

func (e *FieldCountError) Error() string {
	return fmt.Sprintf("expected %d fields, got %d", FieldCount, e.Got)
}

// FieldError поле не является конечным числом
type FieldError struct {
	Index int
	Name  string
	Value string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %d (%s): %q is not a finite number", e.Index, e.Name, e.Value)
}

// Parse превращает строку в RawFrame или возвращает ошибку отказа.
// Строка уже должна быть очищена от символов конца строки.
func Parse(line string) (models.RawFrame, error) {
	if line == "" || line[0] < '0' || line[0] > '9' {
		return models.RawFrame{}, ErrNoise
	}

	parts := strings.Split(line, ",")
	if len(parts) != FieldCount {
		return models.RawFrame{}, &FieldCountError{Got: len(parts)}
	}

	var values [FieldCount]float64
	for i, p := range parts {
		s := strings.TrimSpace(p)
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return models.RawFrame{}, &FieldError{Index: i, Name: fieldNames[i], Value: s}
		}
		values[i] = v
	}

	return models.RawFrame{
		ElapsedMs: values[0],
		PM25Raw:   values[1],
		GasRaw:    values[2],
	}, nil
}

// IsNoise сообщает, что отказ относится к служебному выводу, а не к ошибке формата
func IsNoise(err error) bool {
	return errors.Is(err, ErrNoise)
}
