package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Ограничения на входные данные внешних систем.
const (
	MaxExternalIDLength    = 128
	MaxFailureReasonLength = 500
	CurrencyCodeLength     = 3
)

var currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidateExternalID проверяет идентификатор транзакции шлюза.
// Пробелы и управляющие символы запрещены: ID сравнивается побайтно.
func ValidateExternalID(id string) error {
	if err := ValidateNonEmpty("external_transaction_id", id); err != nil {
		return err
	}
	if err := ValidateLength("external_transaction_id", id, 1, MaxExternalIDLength); err != nil {
		return err
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("external_transaction_id содержит недопустимые символы")
		}
	}
	return nil
}

// ValidateFailureReason проверяет причину отказа шлюза. Пустая причина допустима.
func ValidateFailureReason(reason string) error {
	return ValidateLength("failure_reason", reason, 0, MaxFailureReasonLength)
}

// NormalizeCurrency приводит код валюты к верхнему регистру и проверяет формат ISO 4217.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !currencyRegex.MatchString(code) {
		return "", fmt.Errorf("код валюты должен состоять из %d латинских букв", CurrencyCodeLength)
	}
	return code, nil
}
