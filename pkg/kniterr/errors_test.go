// Copyright (C) 2026  Knitterd Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package kniterr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOfUnwrapsChains(t *testing.T) {
	base := NotFound("no such pattern")
	wrapped := fmt.Errorf("starting pattern: %w", base)

	code, ok := CodeOf(wrapped)
	if !ok || code != CodeNotFound {
		t.Errorf("CodeOf = %v, %v, want NOT_FOUND", code, ok)
	}
	if !Is(wrapped, CodeNotFound) {
		t.Error("Is(wrapped, NOT_FOUND) = false")
	}
	if Is(wrapped, CodeBadRequest) {
		t.Error("Is(wrapped, BAD_REQUEST) = true")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if _, ok := CodeOf(errors.New("plain")); ok {
		t.Error("CodeOf(plain error) reported a code")
	}
	if _, ok := CodeOf(nil); ok {
		t.Error("CodeOf(nil) reported a code")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{BadRequest("missing steps"), http.StatusBadRequest},
		{NotFound("absent"), http.StatusNotFound},
		{Validation("no steps"), http.StatusUnprocessableEntity},
		{HardwareFault("motor fault"), http.StatusInternalServerError},
		{StorageFault(errors.New("disk"), "persist failed"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := StorageFault(cause, "persisting config")
	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if !Is(err, CodeStorageFault) {
		t.Error("code lost when wrapping")
	}
}
