package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Коды выхода posctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // узел ответил ошибкой
	ExitCommandError = 2 // неверные аргументы или узел недоступен
)

// ExitError — ошибка команды с кодом выхода.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError создаёт ошибку с кодом выхода.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError оборачивает err с кодом выхода.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode извлекает код выхода. Для прочих ошибок — ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// textRenderer реализуют ответы с собственным текстовым видом.
type textRenderer interface {
	renderText(w io.Writer)
}

// OutputFormatter печатает результат в text или json.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Response — формат ответа в режиме json.
type Response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

// Success печатает успешный результат.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
	}
	if r, ok := data.(textRenderer); ok {
		r.renderText(f.Writer)
		return nil
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}
