package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"depositgate/internal/app/apperr"
)

// readBody into json struct
func readBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return fmt.Errorf("body read: %w", err)
	}

	err = json.Unmarshal(body, v)
	if err != nil {
		return fmt.Errorf("%w: json decode: %v", apperr.ErrInvalidInput, err)
	}

	return nil
}

type jsonError struct {
	Message string `json:"error"`
}

// WriteError formatted in json
func WriteError(w http.ResponseWriter, err error, statusCode int) {
	WriteResponse(w, &jsonError{Message: err.Error()}, statusCode)
}

// WriteResponse formatted in json
func WriteResponse(w http.ResponseWriter, v interface{}, statusCode int) {
	resBody, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(resBody)
}

type ValidationErrorResponse struct {
	Errors ValidationErrors `json:"errors"`
}

type ValidationErrors []ValidationError

type ValidationError struct {
	Msg   string `json:"msg"`
	Param string `json:"param"`
	Value string `json:"value"`
}

var validate = validator.New()

// validationErrors flattens validator output, nil when v is valid
func validationErrors(v interface{}) ValidationErrors {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	res := make(ValidationErrors, 0)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return append(res, ValidationError{Msg: err.Error()})
	}
	for _, e := range verrs {
		res = append(res, ValidationError{
			Msg:   e.Error(),
			Param: e.Field(),
			Value: fmt.Sprintf("%v", e.Value()),
		})
	}
	return res
}

// validateData and send errors, returns true if no validation errors
func validateData(w http.ResponseWriter, v interface{}) bool {
	if errs := validationErrors(v); errs != nil {
		writeValidationErrors(w, errs)
		return false
	}
	return true
}

// writeValidationErrors formatted in json
func writeValidationErrors(w http.ResponseWriter, errors ValidationErrors) {
	WriteResponse(w, ValidationErrorResponse{errors}, http.StatusBadRequest)
}

type ContextKeyAdmin struct{}

// ReadContextAdmin returns the subject of the verified admin token
func ReadContextAdmin(ctx context.Context) (string, error) {
	if subject, ok := ctx.Value(ContextKeyAdmin{}).(string); ok && subject != "" {
		return subject, nil
	}

	return "", apperr.ErrUnauthorized
}
